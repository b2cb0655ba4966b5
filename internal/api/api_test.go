package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moltgrid/agentforge/internal/api"
	"github.com/moltgrid/agentforge/internal/directory"
	"github.com/moltgrid/agentforge/internal/events"
	"github.com/moltgrid/agentforge/internal/identity"
	"github.com/moltgrid/agentforge/internal/memory"
	"github.com/moltgrid/agentforge/internal/pushsocket"
	"github.com/moltgrid/agentforge/internal/queue"
	"github.com/moltgrid/agentforge/internal/relay"
	"github.com/moltgrid/agentforge/internal/scheduler"
	"github.com/moltgrid/agentforge/internal/sharedmemory"
	"github.com/moltgrid/agentforge/internal/store"
	"github.com/moltgrid/agentforge/internal/webhook"
)

func newFixture(t *testing.T) *httptest.Server {
	t.Helper()
	sqlDB, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(sqlDB))

	s := store.New(sqlDB)
	idm := identity.New(s, 600)
	mem := memory.New(s)
	shared := sharedmemory.New(s)
	dir := directory.New(s)
	sink := &events.Composite{}
	rel := relay.New(s, sink)
	q := queue.New(s, sink, 5*time.Minute)
	sched := scheduler.New(s, q)
	wh := webhook.New(s, 2*time.Second, 4)
	hub := pushsocket.New(rel, idm)
	sink.Add(wh)
	sink.Add(hub)

	srv := api.New(idm, mem, shared, dir, rel, q, sched, wh, hub)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

type jsonMap map[string]any

func doRequest(t *testing.T, ts *httptest.Server, method, path string, headers map[string]string, body any) (int, jsonMap) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded jsonMap
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func registerAgent(t *testing.T, ts *httptest.Server, name string) (agentID, apiKey string, headers map[string]string) {
	t.Helper()
	status, body := doRequest(t, ts, http.MethodPost, "/v1/register", nil, jsonMap{"name": name})
	require.Equal(t, http.StatusOK, status)
	agentID = body["agent_id"].(string)
	apiKey = body["api_key"].(string)
	return agentID, apiKey, map[string]string{"X-API-Key": apiKey}
}

func TestRegister_ReturnsTaggedIDsAndMessage(t *testing.T) {
	ts := newFixture(t)
	status, body := doRequest(t, ts, http.MethodPost, "/v1/register", nil, jsonMap{"name": "alice"})
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body["agent_id"].(string), "agent_")
	require.Contains(t, body["api_key"].(string), "af_")
	require.Contains(t, body["message"].(string), "Store your API key")
}

func TestAuth_MissingHeaderIsBadRequest(t *testing.T) {
	ts := newFixture(t)
	status, _ := doRequest(t, ts, http.MethodGet, "/v1/memory", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestAuth_InvalidKeyIsUnauthorized(t *testing.T) {
	ts := newFixture(t)
	status, _ := doRequest(t, ts, http.MethodGet, "/v1/memory", map[string]string{"X-API-Key": "bad_key"}, nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestMemory_SetGetDeleteRoundTrips(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "mem-agent")

	status, _ := doRequest(t, ts, http.MethodPost, "/v1/memory", h, jsonMap{"key": "k1", "value": "v1"})
	require.Equal(t, http.StatusOK, status)

	status, body := doRequest(t, ts, http.MethodGet, "/v1/memory/k1", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "v1", body["value"])

	status, _ = doRequest(t, ts, http.MethodDelete, "/v1/memory/k1", h, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, ts, http.MethodGet, "/v1/memory/k1", h, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestMemory_IsolatesBetweenAgents(t *testing.T) {
	ts := newFixture(t)
	_, _, h1 := registerAgent(t, ts, "a1")
	_, _, h2 := registerAgent(t, ts, "a2")

	doRequest(t, ts, http.MethodPost, "/v1/memory", h1, jsonMap{"key": "secret", "value": "mine"})
	status, _ := doRequest(t, ts, http.MethodGet, "/v1/memory/secret", h2, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestMemory_ListWithPrefixReportsCount(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "lister")

	doRequest(t, ts, http.MethodPost, "/v1/memory", h, jsonMap{"key": "user:1", "value": "a"})
	doRequest(t, ts, http.MethodPost, "/v1/memory", h, jsonMap{"key": "user:2", "value": "b"})
	doRequest(t, ts, http.MethodPost, "/v1/memory", h, jsonMap{"key": "config:x", "value": "c"})

	status, body := doRequest(t, ts, http.MethodGet, "/v1/memory?"+url.Values{"prefix": {"user:"}}.Encode(), h, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 2, body["count"])
}

func TestQueue_SubmitClaimComplete(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "worker")

	status, body := doRequest(t, ts, http.MethodPost, "/v1/queue/submit", h, jsonMap{"payload": "do stuff"})
	require.Equal(t, http.StatusOK, status)
	jobID := body["job_id"].(string)

	status, body = doRequest(t, ts, http.MethodGet, "/v1/queue/"+jobID, h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "pending", body["status"])

	status, body = doRequest(t, ts, http.MethodPost, "/v1/queue/claim", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, jobID, body["job_id"])

	status, body = doRequest(t, ts, http.MethodPost, "/v1/queue/"+jobID+"/complete?"+url.Values{"result": {"done!"}}.Encode(), h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "completed", body["status"])
}

func TestQueue_ClaimEmptyReportsEmptyStatus(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "idle-worker")

	status, body := doRequest(t, ts, http.MethodPost, "/v1/queue/claim", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "empty", body["status"])
}

func TestQueue_PriorityOrdering(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "priority-worker")

	doRequest(t, ts, http.MethodPost, "/v1/queue/submit", h, jsonMap{"payload": "low", "priority": 1})
	doRequest(t, ts, http.MethodPost, "/v1/queue/submit", h, jsonMap{"payload": "high", "priority": 10})

	status, body := doRequest(t, ts, http.MethodPost, "/v1/queue/claim", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "high", body["payload"])
}

func TestQueue_ExplicitZeroPriorityIsHonored(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "zero-priority-worker")

	status, body := doRequest(t, ts, http.MethodPost, "/v1/queue/submit", h, jsonMap{"payload": "p", "priority": 0, "max_attempts": 0})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, body["priority"])
	require.EqualValues(t, 0, body["max_attempts"])
}

func TestRelay_SendAndInbox(t *testing.T) {
	ts := newFixture(t)
	id1, _, h1 := registerAgent(t, ts, "sender")
	id2, _, h2 := registerAgent(t, ts, "receiver")

	status, _ := doRequest(t, ts, http.MethodPost, "/v1/relay/send", h1, jsonMap{"to_agent": id2, "payload": "hello"})
	require.Equal(t, http.StatusOK, status)

	status, body := doRequest(t, ts, http.MethodGet, "/v1/relay/inbox", h2, nil)
	require.Equal(t, http.StatusOK, status)
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]any)
	require.Equal(t, "hello", msg["payload"])
	require.Equal(t, id1, msg["from_agent"])
}

func TestRelay_SendToUnknownAgentFailsNotFound(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "lonely-sender")

	status, _ := doRequest(t, ts, http.MethodPost, "/v1/relay/send", h, jsonMap{"to_agent": "agent_fake", "payload": "hi"})
	require.Equal(t, http.StatusNotFound, status)
}

func TestRelay_MarkReadEmptiesUnreadInbox(t *testing.T) {
	ts := newFixture(t)
	_, _, h1 := registerAgent(t, ts, "s")
	id2, _, h2 := registerAgent(t, ts, "r")

	status, _ := doRequest(t, ts, http.MethodPost, "/v1/relay/send", h1, jsonMap{"to_agent": id2, "payload": "msg"})
	require.Equal(t, http.StatusOK, status)

	_, inbox := doRequest(t, ts, http.MethodGet, "/v1/relay/inbox", h2, nil)
	messages := inbox["messages"].([]any)
	require.Len(t, messages, 1)
	msgID := messages[0].(map[string]any)["message_id"].(string)

	status, _ = doRequest(t, ts, http.MethodPost, "/v1/relay/"+msgID+"/read", h2, nil)
	require.Equal(t, http.StatusOK, status)

	_, inbox2 := doRequest(t, ts, http.MethodGet, "/v1/relay/inbox", h2, nil)
	require.EqualValues(t, 0, inbox2["count"])
}

func TestWebhooks_RegisterListDelete(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "hook-owner")

	status, body := doRequest(t, ts, http.MethodPost, "/v1/webhooks", h, jsonMap{
		"url": "https://example.com/hook", "event_types": []string{"message.received"},
	})
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body["webhook_id"].(string), "wh_")
	require.Equal(t, true, body["active"])

	status, list := doRequest(t, ts, http.MethodGet, "/v1/webhooks", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, list["count"])

	whID := body["webhook_id"].(string)
	status, _ = doRequest(t, ts, http.MethodDelete, "/v1/webhooks/"+whID, h, nil)
	require.Equal(t, http.StatusOK, status)

	status, list = doRequest(t, ts, http.MethodGet, "/v1/webhooks", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 0, list["count"])
}

func TestWebhooks_InvalidEventTypeFailsBadRequest(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "bad-hook-owner")

	status, _ := doRequest(t, ts, http.MethodPost, "/v1/webhooks", h, jsonMap{
		"url": "https://example.com", "event_types": []string{"invalid.event"},
	})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSchedules_CreateListGetToggleDelete(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "scheduler-owner")

	status, body := doRequest(t, ts, http.MethodPost, "/v1/schedules", h, jsonMap{
		"cron_expr": "*/5 * * * *", "payload": "periodic task",
	})
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body["task_id"].(string), "sched_")
	require.Equal(t, true, body["enabled"])
	require.NotEmpty(t, body["next_run_at"])

	taskID := body["task_id"].(string)

	status, list := doRequest(t, ts, http.MethodGet, "/v1/schedules", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, list["count"])

	status, detail := doRequest(t, ts, http.MethodGet, "/v1/schedules/"+taskID, h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, taskID, detail["task_id"])

	status, toggled := doRequest(t, ts, http.MethodPatch, "/v1/schedules/"+taskID+"?"+url.Values{"enabled": {"false"}}.Encode(), h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, toggled["enabled"])

	status, _ = doRequest(t, ts, http.MethodDelete, "/v1/schedules/"+taskID, h, nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = doRequest(t, ts, http.MethodGet, "/v1/schedules/"+taskID, h, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestSchedules_InvalidCronFailsBadRequest(t *testing.T) {
	ts := newFixture(t)
	_, _, h := registerAgent(t, ts, "bad-cron-owner")

	status, _ := doRequest(t, ts, http.MethodPost, "/v1/schedules", h, jsonMap{
		"cron_expr": "not a cron", "payload": "x",
	})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestSharedMemory_PublishAndRead(t *testing.T) {
	ts := newFixture(t)
	_, _, h1 := registerAgent(t, ts, "publisher")
	_, _, h2 := registerAgent(t, ts, "reader")

	status, _ := doRequest(t, ts, http.MethodPost, "/v1/shared-memory", h1, jsonMap{
		"namespace": "prices", "key": "BTC", "value": "50000", "description": "Bitcoin price",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := doRequest(t, ts, http.MethodGet, "/v1/shared-memory/prices/BTC", h2, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "50000", body["value"])
}

func TestSharedMemory_NonOwnerCannotDelete(t *testing.T) {
	ts := newFixture(t)
	_, _, h1 := registerAgent(t, ts, "owner")
	_, _, h2 := registerAgent(t, ts, "intruder")

	doRequest(t, ts, http.MethodPost, "/v1/shared-memory", h1, jsonMap{"namespace": "ns", "key": "k", "value": "v"})
	status, _ := doRequest(t, ts, http.MethodDelete, "/v1/shared-memory/ns/k", h2, nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestDirectory_UpdateGetAndPublicListing(t *testing.T) {
	ts := newFixture(t)
	_, _, h1 := registerAgent(t, ts, "public-bot")
	_, _, h2 := registerAgent(t, ts, "private-bot")

	status, _ := doRequest(t, ts, http.MethodPut, "/v1/directory/me", h1, jsonMap{
		"description": "public", "capabilities": []string{"search"}, "public": true,
	})
	require.Equal(t, http.StatusOK, status)

	doRequest(t, ts, http.MethodPut, "/v1/directory/me", h2, jsonMap{"description": "private", "public": false})

	status, list := doRequest(t, ts, http.MethodGet, "/v1/directory", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, list["count"])
	agents := list["agents"].([]any)
	require.Equal(t, "public", agents[0].(map[string]any)["description"])
}

func TestDirectory_FilterByCapabilityIsExact(t *testing.T) {
	ts := newFixture(t)
	_, _, h1 := registerAgent(t, ts, "bot1")
	_, _, h2 := registerAgent(t, ts, "bot2")

	doRequest(t, ts, http.MethodPut, "/v1/directory/me", h1, jsonMap{"capabilities": []string{"translate"}, "public": true})
	doRequest(t, ts, http.MethodPut, "/v1/directory/me", h2, jsonMap{"capabilities": []string{"code-review"}, "public": true})

	status, list := doRequest(t, ts, http.MethodGet, "/v1/directory?"+url.Values{"capability": {"translate"}}.Encode(), nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, list["count"])
}

func TestHeartbeat_UpdatesStatus(t *testing.T) {
	ts := newFixture(t)
	agentID, _, h := registerAgent(t, ts, "heartbeat-agent")

	status, body := doRequest(t, ts, http.MethodPost, "/v1/heartbeat", h, jsonMap{
		"status": "busy", "metadata": jsonMap{"load": 3},
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, agentID, body["agent_id"])
	require.Equal(t, "busy", body["status"])
	require.NotEmpty(t, body["last_heartbeat"])
}

func TestHealthStatsRoot(t *testing.T) {
	ts := newFixture(t)

	status, health := doRequest(t, ts, http.MethodGet, "/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "operational", health["status"])
	stats := health["stats"].(map[string]any)
	require.Contains(t, stats, "active_webhooks")
	require.Contains(t, stats, "active_schedules")
	require.Contains(t, stats, "websocket_connections")

	_, _, h := registerAgent(t, ts, "stat-bot")
	status, agentStats := doRequest(t, ts, http.MethodGet, "/v1/stats", h, nil)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, agentStats, "active_webhooks")
	require.Contains(t, agentStats, "active_schedules")
	require.Contains(t, agentStats, "shared_memory_keys")

	status, root := doRequest(t, ts, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "0.3.0", root["version"])
	endpoints := root["endpoints"].(map[string]any)
	require.Contains(t, endpoints, "webhooks")
	require.Contains(t, endpoints, "schedules")
	require.Contains(t, endpoints, "shared_memory")
	require.Contains(t, endpoints, "directory")
	require.Contains(t, endpoints, "relay_ws")
}
