package pushsocket_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/moltgrid/agentforge/internal/events"
	"github.com/moltgrid/agentforge/internal/identity"
	"github.com/moltgrid/agentforge/internal/pushsocket"
	"github.com/moltgrid/agentforge/internal/relay"
	"github.com/moltgrid/agentforge/internal/store"
)

func newFixture(t *testing.T) (*httptest.Server, *identity.Manager, *pushsocket.Hub) {
	t.Helper()
	sqlDB, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(sqlDB))

	s := store.New(sqlDB)
	idm := identity.New(s, 600)
	sink := &events.Composite{}
	r := relay.New(s, sink)
	hub := pushsocket.New(r, idm)
	sink.Add(hub)

	server := httptest.NewServer(hub.Handler())
	t.Cleanup(server.Close)
	return server, idm, hub
}

func dial(t *testing.T, server *httptest.Server, apiKey string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "/?api_key=" + apiKey
	ws, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

func TestHandler_RejectsMissingAPIKey(t *testing.T) {
	server, _, _ := newFixture(t)
	_, _, err := websocket.Dial(context.Background(), "ws"+server.URL[len("http"):]+"/", nil)
	require.Error(t, err)
}

func TestServe_DeliversBetweenTwoSockets(t *testing.T) {
	server, idm, hub := newFixture(t)
	ctx := context.Background()
	sender, err := idm.Register(ctx, "sender")
	require.NoError(t, err)
	recipient, err := idm.Register(ctx, "recipient")
	require.NoError(t, err)

	senderWS := dial(t, server, sender.APIKey)
	recipientWS := dial(t, server, recipient.APIKey)

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, wsjson.Write(ctx, senderWS, map[string]any{
		"to_agent": recipient.AgentID,
		"payload":  "hello",
	}))

	var ack map[string]any
	require.NoError(t, wsjson.Read(ctx, senderWS, &ack))
	require.Equal(t, "delivered", ack["status"])

	var pushed map[string]any
	require.NoError(t, wsjson.Read(ctx, recipientWS, &pushed))
	require.Equal(t, "message.received", pushed["event"])
	require.Equal(t, "hello", pushed["payload"])
}

func TestServe_MissingFieldsReturnsError(t *testing.T) {
	server, idm, _ := newFixture(t)
	ctx := context.Background()
	sender, err := idm.Register(ctx, "sender")
	require.NoError(t, err)

	ws := dial(t, server, sender.APIKey)
	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"payload": "hello"}))

	var resp map[string]any
	require.NoError(t, wsjson.Read(ctx, ws, &resp))
	require.NotEmpty(t, resp["error"])
}
