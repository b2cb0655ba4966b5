// Package pushsocket implements the persistent bidirectional socket hub
// for live message delivery (§4.J). Connections are grouped by agent_id
// so a single agent may hold more than one live socket; an inbound send
// is treated exactly as a Relay send (it persists first, then pushes),
// and the hub additionally fans the resulting message out to every live
// socket of the recipient.
package pushsocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/moltgrid/agentforge/internal/events"
	"github.com/moltgrid/agentforge/internal/identity"
	"github.com/moltgrid/agentforge/internal/metrics"
	"github.com/moltgrid/agentforge/internal/relay"
)

// inboundFrame is the shape of a frame a connected client sends.
type inboundFrame struct {
	ToAgent string `json:"to_agent"`
	Channel string `json:"channel,omitempty"`
	Payload string `json:"payload"`
}

// deliveredFrame acknowledges a successful send back to its sender.
type deliveredFrame struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// errorFrame reports a rejected frame back to its sender.
type errorFrame struct {
	Error string `json:"error"`
}

// pushFrame is pushed to every live socket of a message's recipient.
type pushFrame struct {
	Event     string `json:"event"`
	FromAgent string `json:"from_agent"`
	Channel   string `json:"channel,omitempty"`
	Payload   string `json:"payload"`
	MessageID string `json:"message_id"`
	CreatedAt string `json:"created_at"`
}

// conn is one live socket, keyed by pointer identity within its agent's
// connection set.
type conn struct {
	ws *websocket.Conn
}

// Hub maintains the process-local agent_id -> set<connection> map and
// implements events.Sink so Relay's own internal sends (via inbound
// socket frames) can push to other live sockets of the same recipient.
type Hub struct {
	relay    *relay.Relay
	identity *identity.Manager

	mu      sync.Mutex
	byAgent map[string]map[*conn]struct{}
}

// New builds a Hub backed by r for message persistence and idm for
// query-string API-key authentication at connect time.
func New(r *relay.Relay, idm *identity.Manager) *Hub {
	return &Hub{relay: r, identity: idm, byAgent: make(map[string]map[*conn]struct{})}
}

// Handler returns an http.Handler that accepts the websocket upgrade,
// authenticates the caller's api_key query parameter, and serves frames
// until the connection closes. An absent or invalid key closes the
// connection immediately, per §4.J.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.URL.Query().Get("api_key")
		agent, err := h.identity.Authenticate(r.Context(), apiKey)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Debug("pushsocket: accept failed", "error", err)
			return
		}
		defer func() { _ = ws.CloseNow() }()

		h.Serve(r.Context(), ws, agent.AgentID)
	})
}

// Serve reads and handles frames over ws for agentID until the
// connection closes or ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, agentID string) {
	c := &conn{ws: ws}
	h.add(agentID, c)
	defer h.remove(agentID, c)

	metrics.PushSocketConnectionsActive.Inc()
	defer metrics.PushSocketConnectionsActive.Dec()

	for {
		var frame inboundFrame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return
		}
		metrics.PushSocketMessagesTotal.WithLabelValues("inbound").Inc()
		h.handleFrame(ctx, agentID, c, frame)
	}
}

func (h *Hub) handleFrame(ctx context.Context, fromAgent string, sender *conn, frame inboundFrame) {
	if frame.ToAgent == "" || frame.Payload == "" {
		h.writeJSON(ctx, sender, errorFrame{Error: "to_agent and payload are required"})
		return
	}

	msg, err := h.relay.Send(ctx, fromAgent, frame.ToAgent, frame.Channel, frame.Payload)
	if err != nil {
		h.writeJSON(ctx, sender, errorFrame{Error: err.Error()})
		return
	}

	// relay.Send already fired events.MessageReceived through the sink
	// the Relay was built with (which includes this Hub), so the
	// recipient's live sockets have already been pushed to by Fire
	// below; only the sender's synchronous ack remains.
	h.writeJSON(ctx, sender, deliveredFrame{Status: "delivered", MessageID: msg.MessageID})
}

// Fire implements events.Sink: it is how a Relay.Send — whether it
// originated from an inbound socket frame or a plain HTTP request —
// reaches every live socket of the recipient.
func (h *Hub) Fire(ctx context.Context, agentID string, eventType events.EventType, body map[string]any) {
	if eventType != events.MessageReceived {
		return
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return
	}
	var frame pushFrame
	if err := json.Unmarshal(encoded, &frame); err != nil {
		return
	}
	frame.Event = string(events.MessageReceived)
	h.pushToRecipient(ctx, frame, agentID)
}

func (h *Hub) pushToRecipient(ctx context.Context, frame pushFrame, recipient string) {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.byAgent[recipient]))
	for c := range h.byAgent[recipient] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.writeJSON(ctx, c, frame)
	}
}

func (h *Hub) writeJSON(ctx context.Context, c *conn, v any) {
	if err := wsjson.Write(ctx, c.ws, v); err != nil {
		slog.Debug("pushsocket: write failed", "error", err)
		return
	}
	metrics.PushSocketMessagesTotal.WithLabelValues("outbound").Inc()
}

func (h *Hub) add(agentID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byAgent[agentID] == nil {
		h.byAgent[agentID] = make(map[*conn]struct{})
	}
	h.byAgent[agentID][c] = struct{}{}
}

func (h *Hub) remove(agentID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.byAgent[agentID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.byAgent, agentID)
	}
}

// ConnectionCount returns the total number of live sockets across all
// agents, for /v1/health and /v1/stats.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, set := range h.byAgent {
		total += len(set)
	}
	return total
}
