// Package metrics provides Prometheus instrumentation for AgentForge: HTTP
// request counts/latency plus the business gauges and counters §4 and §5
// call out (jobs by terminal state, webhook deliveries, scheduler ticks,
// active push-socket connections).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentforge_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Identity metrics (§4.B).
var (
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentforge_active_agents",
		Help: "Number of agents that have heartbeated within the active window.",
	})

	RateLimitedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentforge_rate_limited_requests_total",
		Help: "Total number of requests rejected by the per-agent rate limiter.",
	})
)

// Queue metrics (§4.G).
var (
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_jobs_submitted_total",
		Help: "Total number of jobs submitted to the queue, labeled by queue name.",
	}, []string{"queue"})

	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_jobs_completed_total",
		Help: "Total number of job completions and failures, labeled by queue and outcome (completed, retry, dead_letter).",
	}, []string{"queue", "outcome"})

	JobsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentforge_jobs_in_flight",
		Help: "Number of jobs currently claimed and awaiting completion, labeled by queue.",
	}, []string{"queue"})

	JobsRequeuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_jobs_requeued_total",
		Help: "Total number of claimed jobs reclaimed by the visibility-timeout sweep (requeued or dead-lettered), labeled by queue.",
	}, []string{"queue"})
)

// Webhook metrics (§4.I).
var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_webhook_deliveries_total",
		Help: "Total number of webhook delivery attempts, labeled by event type and outcome.",
	}, []string{"event_type", "outcome"})
)

// Scheduler metrics (§4.H).
var (
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentforge_scheduler_ticks_total",
		Help: "Total number of scheduler tick loop iterations.",
	})

	SchedulerTasksFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentforge_scheduler_tasks_fired_total",
		Help: "Total number of scheduled task firings that enqueued a job.",
	})
)

// Push-socket metrics (§4.J).
var (
	PushSocketConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentforge_pushsocket_connections_active",
		Help: "Number of currently open push-socket connections.",
	})

	PushSocketMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentforge_pushsocket_messages_total",
		Help: "Total number of push-socket frames processed, labeled by direction.",
	}, []string{"direction"})
)
