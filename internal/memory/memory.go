// Package memory implements per-agent namespaced key/value storage with
// optional TTL (§4.C).
package memory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/store"
)

// DefaultNamespace is used when the caller omits one.
const DefaultNamespace = "default"

// MinTTLSeconds is the smallest ttl_seconds the caller may supply; §4.C
// rejects anything smaller outright rather than silently clamping it.
const MinTTLSeconds = 60

// Entry is a single namespaced key/value row.
type Entry struct {
	Key       string
	Value     string
	Namespace string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// Store provides the private-memory operations, scoped to whichever
// agentID the caller passes (the API layer supplies the authenticated
// caller's ID; memory has no notion of cross-agent access).
type Store struct {
	store *store.Store
}

// New wraps the shared Store.
func New(s *store.Store) *Store {
	return &Store{store: s}
}

// Set upserts key within namespace for agentID. A zero ttlSeconds means
// no expiry; a positive one below MinTTLSeconds is rejected.
func (s *Store) Set(ctx context.Context, agentID, namespace, key, value string, ttlSeconds int) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if ttlSeconds > 0 && ttlSeconds < MinTTLSeconds {
		return apierr.NewBadRequest("ttl_seconds must be >= %d", MinTTLSeconds)
	}

	now := store.Now()
	var expiresAt any
	if ttlSeconds > 0 {
		expiresAt = store.FormatTime(time.Now().Add(time.Duration(ttlSeconds) * time.Second))
	}

	_, err := s.store.DB.ExecContext(ctx,
		`INSERT INTO memory_entries (agent_id, namespace, key, value, created_at, updated_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, namespace, key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
		agentID, namespace, key, value, now, now, expiresAt,
	)
	if err != nil {
		return apierr.Wrap(err, "set memory entry")
	}
	return nil
}

// Get returns the entry for key within namespace, or NotFound if absent
// or expired.
func (s *Store) Get(ctx context.Context, agentID, namespace, key string) (*Entry, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	now := store.Now()

	row := s.store.DB.QueryRowContext(ctx,
		`SELECT key, value, namespace, created_at, updated_at, expires_at
		 FROM memory_entries
		 WHERE agent_id = ? AND namespace = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		agentID, namespace, key, now,
	)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NewNotFound("memory key %q not found", key)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "get memory entry")
	}
	return e, nil
}

// List returns entries within namespace whose key has the given prefix
// (empty prefix matches all), excluding expired entries.
func (s *Store) List(ctx context.Context, agentID, namespace, prefix string) ([]*Entry, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	now := store.Now()

	rows, err := s.store.DB.QueryContext(ctx,
		`SELECT key, value, namespace, created_at, updated_at, expires_at
		 FROM memory_entries
		 WHERE agent_id = ? AND namespace = ? AND key LIKE ? ESCAPE '\' AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY key ASC`,
		agentID, namespace, likePrefix(prefix), now,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "list memory entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apierr.Wrap(err, "scan memory entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes key within namespace for agentID, returning NotFound if
// the row is absent or already expired.
func (s *Store) Delete(ctx context.Context, agentID, namespace, key string) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	now := store.Now()

	res, err := s.store.DB.ExecContext(ctx,
		`DELETE FROM memory_entries
		 WHERE agent_id = ? AND namespace = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		agentID, namespace, key, now,
	)
	if err != nil {
		return apierr.Wrap(err, "delete memory entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(err, "delete memory entry")
	}
	if n == 0 {
		return apierr.NewNotFound("memory key %q not found", key)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var createdAt, updatedAt string
	var expiresAt sql.NullString

	if err := row.Scan(&e.Key, &e.Value, &e.Namespace, &createdAt, &updatedAt, &expiresAt); err != nil {
		return nil, err
	}

	e.CreatedAt, _ = store.ParseTime(createdAt)
	e.UpdatedAt, _ = store.ParseTime(updatedAt)
	if expiresAt.Valid {
		t, _ := store.ParseTime(expiresAt.String)
		e.ExpiresAt = &t
	}
	return &e, nil
}

// likePrefix escapes SQL LIKE metacharacters in prefix and appends a
// trailing wildcard.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, c)
	}
	return string(escaped) + "%"
}
