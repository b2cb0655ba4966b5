// Package sharedmemory implements cross-agent namespaced key/value
// storage with author-owned deletion and TTL (§4.D).
package sharedmemory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/memory"
	"github.com/moltgrid/agentforge/internal/store"
)

// Entry is a single shared-namespace key/value row.
type Entry struct {
	Namespace   string
	Key         string
	Value       string
	OwnerAgent  string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
}

// Store provides the shared-memory operations.
type Store struct {
	store *store.Store
}

// New wraps the shared Store.
func New(s *store.Store) *Store {
	return &Store{store: s}
}

// Set upserts (namespace, key). On an existing row, value/updated_at/
// description/expires_at are refreshed but owner_agent_id is retained
// from the original writer, even if a different agent calls Set.
func (s *Store) Set(ctx context.Context, agentID, namespace, key, value, description string, ttlSeconds int) error {
	if ttlSeconds > 0 && ttlSeconds < memory.MinTTLSeconds {
		return apierr.NewBadRequest("ttl_seconds must be >= %d", memory.MinTTLSeconds)
	}

	now := store.Now()
	var expiresAt any
	if ttlSeconds > 0 {
		expiresAt = store.FormatTime(time.Now().Add(time.Duration(ttlSeconds) * time.Second))
	}

	_, err := s.store.DB.ExecContext(ctx,
		`INSERT INTO shared_memory_entries (namespace, key, value, owner_agent_id, created_at, updated_at, expires_at, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET
			value = excluded.value, updated_at = excluded.updated_at,
			expires_at = excluded.expires_at, description = excluded.description`,
		namespace, key, value, agentID, now, now, expiresAt, description,
	)
	if err != nil {
		return apierr.Wrap(err, "set shared memory entry")
	}
	return nil
}

// Get returns the entry for (namespace, key); readable by any agent.
func (s *Store) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	now := store.Now()
	row := s.store.DB.QueryRowContext(ctx,
		`SELECT namespace, key, value, owner_agent_id, description, created_at, updated_at, expires_at
		 FROM shared_memory_entries
		 WHERE namespace = ? AND key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		namespace, key, now,
	)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NewNotFound("shared memory key %q not found in namespace %q", key, namespace)
	}
	if err != nil {
		return nil, apierr.Wrap(err, "get shared memory entry")
	}
	return e, nil
}

// List returns entries in namespace whose key has the given prefix.
func (s *Store) List(ctx context.Context, namespace, prefix string) ([]*Entry, error) {
	now := store.Now()
	rows, err := s.store.DB.QueryContext(ctx,
		`SELECT namespace, key, value, owner_agent_id, description, created_at, updated_at, expires_at
		 FROM shared_memory_entries
		 WHERE namespace = ? AND key LIKE ? ESCAPE '\' AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY key ASC`,
		namespace, likePrefix(prefix), now,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "list shared memory entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apierr.Wrap(err, "scan shared memory entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListNamespaces returns distinct namespaces currently holding at least
// one non-expired key.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	now := store.Now()
	rows, err := s.store.DB.QueryContext(ctx,
		`SELECT DISTINCT namespace FROM shared_memory_entries
		 WHERE expires_at IS NULL OR expires_at > ?
		 ORDER BY namespace ASC`,
		now,
	)
	if err != nil {
		return nil, apierr.Wrap(err, "list shared memory namespaces")
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, apierr.Wrap(err, "scan namespace")
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, rows.Err()
}

// CountByOwner returns the number of non-expired shared-memory keys
// currently owned by agentID, for /v1/stats.
func (s *Store) CountByOwner(ctx context.Context, agentID string) (int, error) {
	now := store.Now()
	var count int
	err := s.store.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM shared_memory_entries
		 WHERE owner_agent_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		agentID, now,
	).Scan(&count)
	if err != nil {
		return 0, apierr.Wrap(err, "count owned shared memory keys")
	}
	return count, nil
}

// Delete removes (namespace, key) if agentID is the owner. A missing
// row and an owner mismatch are both reported as NotFound, so existence
// of someone else's key is never leaked (§4.D).
func (s *Store) Delete(ctx context.Context, agentID, namespace, key string) error {
	now := store.Now()
	res, err := s.store.DB.ExecContext(ctx,
		`DELETE FROM shared_memory_entries
		 WHERE namespace = ? AND key = ? AND owner_agent_id = ? AND (expires_at IS NULL OR expires_at > ?)`,
		namespace, key, agentID, now,
	)
	if err != nil {
		return apierr.Wrap(err, "delete shared memory entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Wrap(err, "delete shared memory entry")
	}
	if n == 0 {
		return apierr.NewNotFound("shared memory key %q not found in namespace %q", key, namespace)
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

	if err := row.Scan(&e.Namespace, &e.Key, &e.Value, &e.OwnerAgent, &e.Description, &createdAt, &updatedAt, &expiresAt); err != nil {
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
