// Package api implements the REST/JSON surface described by §4.K/§6: a
// chi router wiring every domain component behind X-API-Key
// authentication and per-agent rate limiting, plus the handful of
// unauthenticated discovery routes (registration, the public directory
// listing, health, root, and the push socket upgrade).
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/moltgrid/agentforge/internal/directory"
	"github.com/moltgrid/agentforge/internal/identity"
	"github.com/moltgrid/agentforge/internal/logging"
	"github.com/moltgrid/agentforge/internal/memory"
	"github.com/moltgrid/agentforge/internal/metrics"
	"github.com/moltgrid/agentforge/internal/pushsocket"
	"github.com/moltgrid/agentforge/internal/queue"
	"github.com/moltgrid/agentforge/internal/relay"
	"github.com/moltgrid/agentforge/internal/scheduler"
	"github.com/moltgrid/agentforge/internal/sharedmemory"
	"github.com/moltgrid/agentforge/internal/webhook"
)

// Server holds every component the router dispatches into.
type Server struct {
	identity   *identity.Manager
	memory     *memory.Store
	shared     *sharedmemory.Store
	directory  *directory.Directory
	relay      *relay.Relay
	queue      *queue.Queue
	scheduler  *scheduler.Scheduler
	webhook    *webhook.Registry
	pushSocket *pushsocket.Hub
}

// New builds a Server from its already-constructed components. Wiring
// (including the events.Composite fan-out each of relay/queue/webhook/
// pushsocket shares) happens one level up, in internal/agentforge.
func New(
	idm *identity.Manager,
	mem *memory.Store,
	shared *sharedmemory.Store,
	dir *directory.Directory,
	rel *relay.Relay,
	q *queue.Queue,
	sched *scheduler.Scheduler,
	wh *webhook.Registry,
	hub *pushsocket.Hub,
) *Server {
	return &Server{
		identity: idm, memory: mem, shared: shared, directory: dir,
		relay: rel, queue: q, scheduler: sched, webhook: wh, pushSocket: hub,
	}
}

// Router builds the chi route table and returns it wrapped in
// logging.HTTPMiddleware; internal/agentforge mounts the result next to
// whatever additional top-level handlers (e.g. /metrics) the server
// serves outside this package. This matches the teacher's
// logging(metrics(mux)) nesting in hub/server.go with metrics moved
// inside chi's own middleware stack (it reads the matched route pattern
// from chi.RouteContext, which chi fills in while routing).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/v1/health", s.handleHealth)
	r.Post("/v1/register", s.handleRegister)
	r.Get("/v1/directory", s.handleDirectoryList)
	r.Handle("/v1/relay/ws", s.pushSocket.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(s.identity))
		r.Use(rateLimit(s.identity))

		r.Get("/v1/stats", s.handleStats)
		r.Post("/v1/heartbeat", s.handleHeartbeat)

		r.Post("/v1/memory", s.handleMemorySet)
		r.Get("/v1/memory", s.handleMemoryList)
		r.Get("/v1/memory/{key}", s.handleMemoryGet)
		r.Delete("/v1/memory/{key}", s.handleMemoryDelete)

		r.Post("/v1/shared-memory", s.handleSharedMemorySet)
		r.Get("/v1/shared-memory", s.handleSharedMemoryNamespaces)
		r.Get("/v1/shared-memory/{namespace}", s.handleSharedMemoryList)
		r.Get("/v1/shared-memory/{namespace}/{key}", s.handleSharedMemoryGet)
		r.Delete("/v1/shared-memory/{namespace}/{key}", s.handleSharedMemoryDelete)

		r.Put("/v1/directory/me", s.handleDirectoryUpdate)
		r.Get("/v1/directory/me", s.handleDirectoryMe)

		r.Post("/v1/relay/send", s.handleRelaySend)
		r.Get("/v1/relay/inbox", s.handleRelayInbox)
		r.Post("/v1/relay/{id}/read", s.handleRelayMarkRead)

		r.Post("/v1/queue/submit", s.handleQueueSubmit)
		r.Post("/v1/queue/claim", s.handleQueueClaim)
		r.Get("/v1/queue/dead-letter", s.handleQueueDeadLetter)
		r.Get("/v1/queue/{id}", s.handleQueueGet)
		r.Post("/v1/queue/{id}/complete", s.handleQueueComplete)
		r.Post("/v1/queue/{id}/fail", s.handleQueueFail)
		r.Post("/v1/queue/{id}/replay", s.handleQueueReplay)
		r.Get("/v1/queue", s.handleQueueList)

		r.Post("/v1/webhooks", s.handleWebhookRegister)
		r.Get("/v1/webhooks", s.handleWebhookList)
		r.Delete("/v1/webhooks/{id}", s.handleWebhookDelete)

		r.Post("/v1/schedules", s.handleScheduleCreate)
		r.Get("/v1/schedules", s.handleScheduleList)
		r.Get("/v1/schedules/{id}", s.handleScheduleGet)
		r.Patch("/v1/schedules/{id}", s.handleScheduleToggle)
		r.Delete("/v1/schedules/{id}", s.handleScheduleDelete)
	})

	return logging.HTTPMiddleware(r)
}
