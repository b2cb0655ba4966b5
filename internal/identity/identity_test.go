package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moltgrid/agentforge/internal/apierr"
	"github.com/moltgrid/agentforge/internal/identity"
	"github.com/moltgrid/agentforge/internal/store"
)

func newManager(t *testing.T, rateLimitPerMinute int) *identity.Manager {
	t.Helper()
	sqlDB, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, store.Migrate(sqlDB))
	return identity.New(store.New(sqlDB), rateLimitPerMinute)
}

func TestRegister_ReturnsTaggedIDs(t *testing.T) {
	m := newManager(t, 600)
	reg, err := m.Register(context.Background(), "scout")
	require.NoError(t, err)
	require.Contains(t, reg.AgentID, "agent_")
	require.Contains(t, reg.APIKey, "af_")
}

func TestAuthenticate_ValidKey(t *testing.T) {
	m := newManager(t, 600)
	reg, err := m.Register(context.Background(), "scout")
	require.NoError(t, err)

	agent, err := m.Authenticate(context.Background(), reg.APIKey)
	require.NoError(t, err)
	require.Equal(t, reg.AgentID, agent.AgentID)
}

func TestAuthenticate_InvalidKeyIsUnauthorized(t *testing.T) {
	m := newManager(t, 600)
	_, err := m.Authenticate(context.Background(), "af_doesnotexist")
	require.Error(t, err)

	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.Unauthorized, apiErr.Class)
}

func TestAuthenticate_RecordsHeartbeat(t *testing.T) {
	m := newManager(t, 600)
	reg, err := m.Register(context.Background(), "scout")
	require.NoError(t, err)

	before, err := m.Authenticate(context.Background(), reg.APIKey)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), before.LastHeartbeat, 5*time.Second)
}

func TestHeartbeat_UpdatesStatusAndMetadata(t *testing.T) {
	m := newManager(t, 600)
	reg, err := m.Register(context.Background(), "scout")
	require.NoError(t, err)

	status := "busy"
	agent, err := m.Heartbeat(context.Background(), reg.AgentID, &status, map[string]any{"load": float64(3)})
	require.NoError(t, err)
	require.Equal(t, "busy", agent.Status)
	require.WithinDuration(t, time.Now(), agent.LastHeartbeat, 5*time.Second)

	reloaded, err := m.Authenticate(context.Background(), reg.APIKey)
	require.NoError(t, err)
	require.Equal(t, "busy", reloaded.Status)
	require.Equal(t, float64(3), reloaded.Metadata["load"])
}

func TestHeartbeat_NilFieldsLeaveStatusUnchanged(t *testing.T) {
	m := newManager(t, 600)
	reg, err := m.Register(context.Background(), "scout")
	require.NoError(t, err)

	agent, err := m.Heartbeat(context.Background(), reg.AgentID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "active", agent.Status)
}

func TestHeartbeat_UnknownAgentFailsNotFound(t *testing.T) {
	m := newManager(t, 600)
	_, err := m.Heartbeat(context.Background(), "agent_doesnotexist", nil, nil)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.NotFound, apiErr.Class)
}

func TestCheckRateLimit_ExceedsCap(t *testing.T) {
	m := newManager(t, 2)
	reg, err := m.Register(context.Background(), "scout")
	require.NoError(t, err)

	require.NoError(t, m.CheckRateLimit(context.Background(), reg.AgentID))
	require.NoError(t, m.CheckRateLimit(context.Background(), reg.AgentID))

	err = m.CheckRateLimit(context.Background(), reg.AgentID)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.RateLimited, apiErr.Class)
}

func TestCheckRateLimit_SeparatesAgents(t *testing.T) {
	m := newManager(t, 1)
	a, err := m.Register(context.Background(), "a")
	require.NoError(t, err)
	b, err := m.Register(context.Background(), "b")
	require.NoError(t, err)

	require.NoError(t, m.CheckRateLimit(context.Background(), a.AgentID))
	require.NoError(t, m.CheckRateLimit(context.Background(), b.AgentID))
}
