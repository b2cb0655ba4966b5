package api

import "net/http"

// version is AgentForge's wire-protocol version, reported by the root
// discovery document.
const version = "0.3.0"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version": version,
		"endpoints": map[string]string{
			"register":      "/v1/register",
			"heartbeat":     "/v1/heartbeat",
			"memory":        "/v1/memory",
			"shared_memory": "/v1/shared-memory",
			"directory":     "/v1/directory",
			"queue":         "/v1/queue",
			"relay":         "/v1/relay/send",
			"relay_ws":      "/v1/relay/ws",
			"webhooks":      "/v1/webhooks",
			"schedules":     "/v1/schedules",
			"health":        "/v1/health",
			"stats":         "/v1/stats",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	activeWebhooks, err := s.webhook.ActiveCount(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	activeSchedules, err := s.scheduler.ActiveCount(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "operational",
		"stats": map[string]any{
			"active_webhooks":      activeWebhooks,
			"active_schedules":     activeSchedules,
			"websocket_connections": s.pushSocket.ConnectionCount(),
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	activeWebhooks, err := s.webhook.ActiveCountForAgent(r.Context(), caller.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	activeSchedules, err := s.scheduler.ActiveCountForAgent(r.Context(), caller.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	sharedMemoryKeys, err := s.shared.CountByOwner(r.Context(), caller.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id":           caller.AgentID,
		"active_webhooks":    activeWebhooks,
		"active_schedules":   activeSchedules,
		"shared_memory_keys": sharedMemoryKeys,
	})
}
