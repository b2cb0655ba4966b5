// Command agentforge runs the AgentForge coordination backplane: a
// single HTTP listener serving the REST surface, the relay push-socket
// upgrade, and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/moltgrid/agentforge/internal/agentforge"
	"github.com/moltgrid/agentforge/internal/config"
	"github.com/moltgrid/agentforge/internal/logging"
)

var version = "dev"

func main() {
	logging.Setup()

	cfg := config.DefineFlags()
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	server, err := agentforge.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx)
}
