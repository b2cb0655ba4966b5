// Package webhook implements per-agent event subscriptions and
// asynchronous, best-effort HTTP delivery with HMAC signing (§4.I).
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/events"
	"github.com/moltgrid/agentforge/internal/id"
	"github.com/moltgrid/agentforge/internal/metrics"
	"github.com/moltgrid/agentforge/internal/store"
)

// ValidEventTypes is the closed set §3 allows a webhook to subscribe to.
var ValidEventTypes = map[string]bool{
	string(events.MessageReceived): true,
	string(events.JobCompleted):    true,
	string(events.JobFailed):       true,
}

// Webhook is a single registered webhook row.
type Webhook struct {
	WebhookID  string
	AgentID    string
	URL        string
	EventTypes []string
	Secret     string
	Active     bool
	CreatedAt  time.Time
}

// Registry stores webhook subscriptions and dispatches matching events
// through a bounded pool of fire-and-forget HTTP deliveries.
type Registry struct {
	store      *store.Store
	httpClient *http.Client
	sem        chan struct{}
}

// New builds a Registry. timeout bounds each individual delivery
// attempt; maxConcurrent bounds how many deliveries run at once.
func New(s *store.Store, timeout time.Duration, maxConcurrent int) *Registry {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &Registry{
		store:      s,
		httpClient: &http.Client{Timeout: timeout},
		sem:        make(chan struct{}, maxConcurrent),
	}
}

// Register validates eventTypes against the closed set and stores a new
// active webhook.
func (r *Registry) Register(ctx context.Context, agentID, url string, eventTypes []string, secret string) (string, error) {
	for _, et := range eventTypes {
		if !ValidEventTypes[et] {
			return "", apierr.NewBadRequest("unknown event type %q", et)
		}
	}

	webhookID := id.New(id.PrefixWebhook)
	encoded, err := json.Marshal(eventTypes)
	if err != nil {
		return "", apierr.Wrap(err, "encode event types")
	}

	var secretVal any
	if secret != "" {
		secretVal = secret
	}

	_, err = r.store.DB.ExecContext(ctx,
		`INSERT INTO webhooks (webhook_id, agent_id, url, event_types, secret, active, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		webhookID, agentID, url, string(encoded), secretVal, store.Now(),
	)
	if err != nil {
		return "", apierr.Wrap(err, "register webhook")
	}
	return webhookID, nil
}

// Get returns webhookID, scoped to agentID.
func (r *Registry) Get(ctx context.Context, agentID, webhookID string) (*Webhook, error) {
	row := r.store.DB.QueryRowContext(ctx,
		`SELECT webhook_id, agent_id, url, event_types, secret, active, created_at
		 FROM webhooks WHERE webhook_id = ? AND agent_id = ?`, webhookID, agentID,
	)
	w, err := scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NewNotFound("webhook %q not found", webhookID)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "get webhook")
	}
	return w, nil
}

// List returns agentID's registered webhooks.
func (r *Registry) List(ctx context.Context, agentID string) ([]*Webhook, error) {
	rows, err := r.store.DB.QueryContext(ctx,
		`SELECT webhook_id, agent_id, url, event_types, secret, active, created_at
		 FROM webhooks WHERE agent_id = ? ORDER BY created_at ASC`, agentID,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "list webhooks")
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, apierr.Wrap(err, "scan webhook")
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// Delete removes webhookID, scoped to agentID.
func (r *Registry) Delete(ctx context.Context, agentID, webhookID string) error {
	res, err := r.store.DB.ExecContext(ctx,
		`DELETE FROM webhooks WHERE webhook_id = ? AND agent_id = ?`, webhookID, agentID,
	)
	if err != nil {
		return apierr.Wrap(err, "delete webhook")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(err, "delete webhook")
	}
	if n == 0 {
		return apierr.NewNotFound("webhook %q not found", webhookID)
	}
	return nil
}

// ActiveCount returns the number of active webhooks across every agent,
// for /v1/health.
func (r *Registry) ActiveCount(ctx context.Context) (int, error) {
	var count int
	err := r.store.DB.QueryRowContext(ctx, `SELECT count(*) FROM webhooks WHERE active = 1`).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(err, "count active webhooks")
	}
	return count, nil
}

// ActiveCountForAgent returns agentID's own active webhook count, for
// /v1/stats.
func (r *Registry) ActiveCountForAgent(ctx context.Context, agentID string) (int, error) {
	var count int
	err := r.store.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM webhooks WHERE active = 1 AND agent_id = ?`, agentID,
	).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(err, "count agent active webhooks")
	}
	return count, nil
}

// envelope is the POST body every delivery sends, wrapping the
// event-specific body map in the fixed shape documented subscribers
// parse: event name, owning agent, fire time, and the event data.
type envelope struct {
	Event     string         `json:"event"`
	AgentID   string         `json:"agent_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Fire implements events.Sink: it selects every active webhook owned by
// agentID subscribed to eventType and dispatches each asynchronously.
// Fire itself never blocks the caller past the initial database read.
func (r *Registry) Fire(ctx context.Context, agentID string, eventType events.EventType, body map[string]any) {
	webhooks, err := r.List(context.WithoutCancel(ctx), agentID)
	if err != nil {
		slog.Error("webhook: failed to list subscribers", "agent_id", agentID, "error", err)
		return
	}

	payload, err := json.Marshal(envelope{
		Event: string(eventType), AgentID: agentID, Timestamp: store.Now(), Data: body,
	})
	if err != nil {
		slog.Error("webhook: failed to encode event body", "error", err)
		return
	}

	for _, w := range webhooks {
		if !w.Active || !containsEventType(w.EventTypes, string(eventType)) {
			continue
		}
		go r.deliver(w, string(eventType), payload)
	}
}

func (r *Registry) deliver(w *Webhook, eventType string, payload []byte) {
	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues(eventType, "failed").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Secret != "" {
		req.Header.Set("X-Signature", sign(w.Secret, payload))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		// Best-effort delivery: network errors are swallowed here per
		// §4.I, beyond recording the metric.
		metrics.WebhookDeliveriesTotal.WithLabelValues(eventType, "failed").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues(eventType, "delivered").Inc()
	} else {
		metrics.WebhookDeliveriesTotal.WithLabelValues(eventType, "failed").Inc()
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func containsEventType(eventTypes []string, target string) bool {
	for _, et := range eventTypes {
		if et == target {
			return true
		}
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (*Webhook, error) {
	var w Webhook
	var eventTypes string
	var secret sql.NullString
	var createdAt string
	var active int

	if err := row.Scan(&w.WebhookID, &w.AgentID, &w.URL, &eventTypes, &secret, &active, &createdAt); err != nil {
		return nil, err
	}

	w.Secret = secret.String
	w.Active = active != 0
	w.CreatedAt, _ = store.ParseTime(createdAt)
	if eventTypes != "" {
		_ = json.Unmarshal([]byte(eventTypes), &w.EventTypes)
	}
	return &w, nil
}
