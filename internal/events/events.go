// Package events defines the Sink interface that Relay and Job Queue use
// to fan events out to Webhook and Push Socket Hub, without either side
// depending on the other's concrete type (§4.F, §4.G, §4.I, §4.J).
package events

import "context"

// EventType is one of the closed set of event names a webhook can
// subscribe to (§3's Webhook.event_types).
type EventType string

const (
	// MessageReceived fires when a Relay send persists a Message for
	// its recipient.
	MessageReceived EventType = "message.received"
	// JobCompleted fires when a claimed job transitions to completed.
	JobCompleted EventType = "job.completed"
	// JobFailed fires when a claimed job transitions to pending (retry)
	// or dead (exhausted); the event body's "terminal" field
	// distinguishes the two.
	JobFailed EventType = "job.failed"
)

// Sink fans an event out to every interested subscriber of agentID
// (the owning agent: the message recipient, or the job submitter).
// Implementations must not block the caller on slow subscribers.
type Sink interface {
	Fire(ctx context.Context, agentID string, eventType EventType, body map[string]any)
}

// NopSink discards every event; useful in tests that construct a
// component without wiring webhook/push-socket delivery.
type NopSink struct{}

// Fire implements Sink by doing nothing.
func (NopSink) Fire(context.Context, string, EventType, map[string]any) {}

// Composite fans an event out to every sink added to it. It exists so
// Relay and Job Queue can be built with a single Sink reference before
// the concrete subscribers (webhook.Registry, pushsocket.Hub) exist —
// each subscriber is appended after construction, breaking what would
// otherwise be a construction-order cycle between Relay and the socket
// hub (the hub holds a Relay to persist sends; Relay needs a Sink that
// reaches the hub).
type Composite struct {
	sinks []Sink
}

// Add appends s to the fan-out list.
func (c *Composite) Add(s Sink) {
	c.sinks = append(c.sinks, s)
}

// Fire implements Sink by calling every added sink in order.
func (c *Composite) Fire(ctx context.Context, agentID string, eventType EventType, body map[string]any) {
	for _, s := range c.sinks {
		s.Fire(ctx, agentID, eventType, body)
	}
}
