// Package agentforge wires every domain component into a single runnable
// server: it opens and migrates the store, constructs the event fan-out
// shared by relay/queue/webhook/push-socket, builds the REST router, and
// owns the listener lifecycle (§2 flow, §4 end to end).
package agentforge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moltgrid/agentforge/internal/api"
	"github.com/moltgrid/agentforge/internal/config"
	"github.com/moltgrid/agentforge/internal/directory"
	"github.com/moltgrid/agentforge/internal/events"
	"github.com/moltgrid/agentforge/internal/identity"
	"github.com/moltgrid/agentforge/internal/memory"
	"github.com/moltgrid/agentforge/internal/pushsocket"
	"github.com/moltgrid/agentforge/internal/queue"
	"github.com/moltgrid/agentforge/internal/relay"
	"github.com/moltgrid/agentforge/internal/scheduler"
	"github.com/moltgrid/agentforge/internal/sharedmemory"
	"github.com/moltgrid/agentforge/internal/store"
	"github.com/moltgrid/agentforge/internal/webhook"
)

// Server is a reusable AgentForge server instance.
type Server struct {
	cfg        *config.Config
	sqlDB      *sql.DB
	httpServer *http.Server
	scheduler  *scheduler.Scheduler
	tickInt    time.Duration
}

// NewServer opens the database, runs migrations, and wires every
// component. Call Serve to start listening.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	s, err := store.Load(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("load database: %w", err)
	}
	sqlDB := s.DB

	idm := identity.New(s, cfg.RateLimitPerMinute)
	mem := memory.New(s)
	shared := sharedmemory.New(s)
	dir := directory.New(s)

	sink := &events.Composite{}
	rel := relay.New(s, sink)
	q := queue.New(s, sink, cfg.VisibilityTimeout)
	sched := scheduler.New(s, q)
	wh := webhook.New(s, cfg.WebhookTimeout, 0)
	hub := pushsocket.New(rel, idm)

	// Every component that fires domain events delivers through the same
	// fan-out: webhooks and push-socket subscribers both see relay
	// deliveries and queue completions/failures.
	sink.Add(wh)
	sink.Add(hub)

	router := api.New(idm, mem, shared, dir, rel, q, sched, wh, hub)

	mux := http.NewServeMux()
	mux.Handle("/", router.Router())
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		sqlDB:      sqlDB,
		httpServer: httpServer,
		scheduler:  sched,
		tickInt:    cfg.TickInterval,
	}, nil
}

// Serve starts the scheduler's background tick loop and the HTTP
// listener. It blocks until ctx is cancelled, then performs graceful
// shutdown: stop accepting, drain in-flight requests, checkpoint the
// WAL, close the database.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		_ = s.sqlDB.Close()
		return fmt.Errorf("listen: %w", err)
	}

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	go s.scheduler.Run(schedCtx, s.tickInt)

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("agentforge shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)

		close(shutdownDone)
	}()

	slog.Info("agentforge listening", "addr", s.cfg.Addr)
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		_ = s.sqlDB.Close()
		return fmt.Errorf("serve: %w", err)
	}

	<-shutdownDone

	if _, err := s.sqlDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		slog.Warn("WAL checkpoint failed", "error", err)
	}
	_ = s.sqlDB.Close()
	return nil
}
