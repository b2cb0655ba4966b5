package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/memory"
	"github.com/moltgrid/agentforge/internal/store"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	sqlDB, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(sqlDB))
	return memory.New(store.New(sqlDB))
}

func TestSetGet_RoundTrips(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "agent_1", "", "color", "blue", 0))

	e, err := s.Get(ctx, "agent_1", "", "color")
	require.NoError(t, err)
	require.Equal(t, "blue", e.Value)
	require.Equal(t, memory.DefaultNamespace, e.Namespace)
}

func TestSet_RejectsShortTTL(t *testing.T) {
	s := newStore(t)
	err := s.Set(context.Background(), "agent_1", "", "k", "v", 10)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.BadRequest, apiErr.Class)
}

func TestSet_UpsertKeepsCreatedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "agent_1", "", "k", "v1", 0))
	first, err := s.Get(ctx, "agent_1", "", "k")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "agent_1", "", "k", "v2", 0))
	second, err := s.Get(ctx, "agent_1", "", "k")
	require.NoError(t, err)

	require.Equal(t, "v2", second.Value)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestGet_ExpiredEntryIsNotFound(t *testing.T) {
	sqlDB, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(sqlDB))
	s := memory.New(store.New(sqlDB))
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "agent_1", "", "k", "v", 60))

	_, err = s.Get(ctx, "agent_1", "", "k")
	require.NoError(t, err)

	// Move the 60s expiry into the past; the entry must now read as absent.
	_, err = sqlDB.ExecContext(ctx, `UPDATE memory_entries SET expires_at = ? WHERE key = 'k'`,
		store.FormatTime(time.Now().Add(-time.Second)))
	require.NoError(t, err)

	_, err = s.Get(ctx, "agent_1", "", "k")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.NotFound, apiErr.Class)
}

func TestList_FiltersByPrefix(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "agent_1", "", "user:1", "a", 0))
	require.NoError(t, s.Set(ctx, "agent_1", "", "user:2", "b", 0))
	require.NoError(t, s.Set(ctx, "agent_1", "", "order:1", "c", 0))

	entries, err := s.List(ctx, "agent_1", "", "user:")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestList_IsolatesByAgent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "agent_1", "", "k", "v", 0))
	require.NoError(t, s.Set(ctx, "agent_2", "", "k", "v", 0))

	entries, err := s.List(ctx, "agent_1", "", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDelete_AbsentKeyIsNotFound(t *testing.T) {
	s := newStore(t)
	err := s.Delete(context.Background(), "agent_1", "", "missing")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.NotFound, apiErr.Class)
}

func TestDelete_RemovesEntry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "agent_1", "", "k", "v", 0))
	require.NoError(t, s.Delete(ctx, "agent_1", "", "k"))

	_, err := s.Get(ctx, "agent_1", "", "k")
	require.Error(t, err)
}
