// Package config holds AgentForge's runtime configuration: the listen
// address, data directory, and the tunable knobs §4–§5 call out as
// configuration decisions rather than spec constants (rate-limit cap,
// job visibility timeout, scheduler tick interval, webhook timeout).
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds AgentForge's runtime configuration.
type Config struct {
	Addr    string // Listen address (e.g. ":8080")
	DataDir string // Data directory for the SQLite file.

	RateLimitPerMinute int           // §4.B fixed-window cap per agent.
	VisibilityTimeout  time.Duration // §4.G / §5 job claim visibility deadline (V).
	TickInterval       time.Duration // §4.H scheduler tick cadence; must be <=60s.
	WebhookTimeout     time.Duration // §5 webhook dispatch wall-clock timeout.
}

// DefineFlags registers command-line flags for AgentForge configuration.
// Call flag.Parse() separately after defining all flags.
func DefineFlags() *Config {
	c := &Config{}
	flag.StringVar(&c.Addr, "addr", ":8080", "listen address")
	flag.StringVar(&c.DataDir, "data-dir", defaultDataDir(), "data directory")
	flag.IntVar(&c.RateLimitPerMinute, "rate-limit-per-minute", 600, "per-agent request cap per 60s window")
	flag.DurationVar(&c.VisibilityTimeout, "visibility-timeout", 300*time.Second, "job claim visibility deadline")
	flag.DurationVar(&c.TickInterval, "tick-interval", 1*time.Second, "scheduler tick interval (must be <=60s)")
	flag.DurationVar(&c.WebhookTimeout, "webhook-timeout", 5*time.Second, "webhook delivery timeout")
	return c
}

// Validate checks the configuration values and ensures required directories exist.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.RateLimitPerMinute < 1 {
		return fmt.Errorf("rate-limit-per-minute must be >= 1")
	}
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("visibility-timeout must be positive")
	}
	if c.TickInterval <= 0 || c.TickInterval > 60*time.Second {
		return fmt.Errorf("tick-interval must be in (0s, 60s]")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("webhook-timeout must be positive")
	}

	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	return nil
}

func defaultDataDir() string {
	if v := os.Getenv("AGENTFORGE_DB"); v != "" {
		return filepath.Dir(v)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".agentforge")
	}
	return filepath.Join(home, ".agentforge")
}

// DBPath returns the path to the SQLite database file. AGENTFORGE_DB, if
// set, overrides the default "<data-dir>/agentforge.db" location (this is
// the one environment variable the original source names directly).
func (c *Config) DBPath() string {
	if v := os.Getenv("AGENTFORGE_DB"); v != "" {
		return v
	}
	return filepath.Join(c.DataDir, "agentforge.db")
}
