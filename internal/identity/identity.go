// Package identity implements agent registration, API-key authentication,
// and the per-agent fixed-window rate limiter (§4.B).
package identity

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/id"
	"github.com/moltgrid/agentforge/internal/metrics"
	"github.com/moltgrid/agentforge/internal/store"
)

// Agent is the identity-relevant projection of an agent row.
type Agent struct {
	AgentID       string
	Name          string
	CreatedAt     time.Time
	LastHeartbeat time.Time
	Status        string
	Metadata      map[string]any
	Description   string
	Capabilities  []string
	Public        bool
}

// Registered is returned once, at registration time, and is the only
// moment the cleartext API key exists.
type Registered struct {
	AgentID string
	APIKey  string
}

// Manager implements registration, authentication, heartbeating, and
// rate limiting against the Store.
type Manager struct {
	store         *store.Store
	rateLimitCap  int
	windowSeconds int64
}

// New builds a Manager. rateLimitPerMinute is the cap applied to each
// (agent_id, window) pair per §4.B.
func New(s *store.Store, rateLimitPerMinute int) *Manager {
	return &Manager{store: s, rateLimitCap: rateLimitPerMinute, windowSeconds: 60}
}

// Register creates a new agent and returns its cleartext API key. The
// key is never retrievable again; only its SHA-256 hash is persisted.
func (m *Manager) Register(ctx context.Context, name string) (*Registered, error) {
	agentID := id.New(id.PrefixAgent)
	apiKey := id.NewAPIKey()
	hash := hashKey(apiKey)
	now := store.Now()

	_, err := m.store.DB.ExecContext(ctx,
		`INSERT INTO agents (agent_id, name, api_key_hash, created_at, last_heartbeat, status, public)
		 VALUES (?, ?, ?, ?, ?, 'active', 0)`,
		agentID, name, hash, now, now,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "register agent")
	}
	return &Registered{AgentID: agentID, APIKey: apiKey}, nil
}

// Authenticate resolves presentedKey to an agent and records a heartbeat.
// It returns apierr.Unauthorized if the key does not match any agent.
func (m *Manager) Authenticate(ctx context.Context, presentedKey string) (*Agent, error) {
	hash := hashKey(presentedKey)

	row := m.store.DB.QueryRowContext(ctx,
		`SELECT agent_id, name, created_at, last_heartbeat, status, metadata, description, capabilities, public
		 FROM agents WHERE api_key_hash = ?`, hash)

	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NewUnauthorized("invalid API key")
	}
	if err != nil {
		return nil, apierr.Wrap(err, "authenticate")
	}

	now := store.Now()
	if _, err := m.store.DB.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?`, now, a.AgentID,
	); err != nil {
		return nil, apierr.Wrap(err, "record heartbeat")
	}
	a.LastHeartbeat, _ = store.ParseTime(now)
	return a, nil
}

// Heartbeat records a liveness ping for agentID and optionally updates
// its status and/or metadata (§6 heartbeat(status?, metadata?)). A nil
// status or metadata leaves that column unchanged.
func (m *Manager) Heartbeat(ctx context.Context, agentID string, status *string, metadata map[string]any) (*Agent, error) {
	now := store.Now()

	if status != nil {
		if _, err := m.store.DB.ExecContext(ctx,
			`UPDATE agents SET status = ? WHERE agent_id = ?`, *status, agentID,
		); err != nil {
			return nil, apierr.Wrap(err, "update status")
		}
	}
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return nil, apierr.Wrap(err, "encode metadata")
		}
		if _, err := m.store.DB.ExecContext(ctx,
			`UPDATE agents SET metadata = ? WHERE agent_id = ?`, string(encoded), agentID,
		); err != nil {
			return nil, apierr.Wrap(err, "update metadata")
		}
	}

	res, err := m.store.DB.ExecContext(ctx,
		`UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?`, now, agentID,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "record heartbeat")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, apierr.Wrap(err, "record heartbeat")
	}
	if n == 0 {
		return nil, apierr.NewNotFound("agent %q not found", agentID)
	}

	row := m.store.DB.QueryRowContext(ctx,
		`SELECT agent_id, name, created_at, last_heartbeat, status, metadata, description, capabilities, public
		 FROM agents WHERE agent_id = ?`, agentID)
	a, err := scanAgent(row)
	if err != nil {
		return nil, apierr.Wrap(err, "reload agent after heartbeat")
	}
	return a, nil
}

// CheckRateLimit increments the fixed-window counter for agentID and
// returns apierr.RateLimited if the configured per-minute cap is
// exceeded (§4.B).
func (m *Manager) CheckRateLimit(ctx context.Context, agentID string) error {
	window := time.Now().UTC().Unix() / m.windowSeconds

	var count int
	err := m.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_limits (agent_id, window_start, count) VALUES (?, ?, 1)
			 ON CONFLICT(agent_id, window_start) DO UPDATE SET count = count + 1`,
			agentID, window,
		); err != nil {
			return err
		}

		return tx.QueryRowContext(ctx,
			`SELECT count FROM rate_limits WHERE agent_id = ? AND window_start = ?`,
			agentID, window,
		).Scan(&count)
	})
	if err != nil {
		return apierr.Wrap(err, "check rate limit")
	}

	if count > m.rateLimitCap {
		metrics.RateLimitedRequestsTotal.Inc()
		return apierr.NewRateLimited("rate limit exceeded")
	}
	return nil
}

// SweepOldWindows deletes rate-limit rows older than the current window,
// per §4.B's "may be swept lazily" allowance.
func (m *Manager) SweepOldWindows(ctx context.Context) error {
	window := time.Now().UTC().Unix() / m.windowSeconds
	_, err := m.store.DB.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE window_start < ?`, window,
	)
	if err != nil {
		return apierr.Wrap(err, "sweep rate limit windows")
	}
	return nil
}

// ActiveAgentCount returns the count of agents that have heartbeated
// within the last activeWindow duration.
func (m *Manager) ActiveAgentCount(ctx context.Context, activeWindow time.Duration) (int, error) {
	cutoff := store.FormatTime(time.Now().Add(-activeWindow))
	var count int
	err := m.store.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM agents WHERE last_heartbeat >= ?`, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(err, "count active agents")
	}
	return count, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var description sql.NullString
	var capabilities sql.NullString
	var metadata sql.NullString
	var createdAt, lastHeartbeat string
	var public int

	if err := row.Scan(&a.AgentID, &a.Name, &createdAt, &lastHeartbeat, &a.Status, &metadata, &description, &capabilities, &public); err != nil {
		return nil, err
	}

	a.CreatedAt, _ = store.ParseTime(createdAt)
	a.LastHeartbeat, _ = store.ParseTime(lastHeartbeat)
	a.Description = description.String
	a.Public = public != 0
	a.Capabilities = decodeCapabilities(capabilities.String)
	a.Metadata = decodeMetadata(metadata.String)
	return &a, nil
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeCapabilities(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
