package api

import "net/http"

type registerRequest struct {
	Name string `json:"name"`
}

type registerResponse struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		req.Name = "unnamed-agent"
	}

	reg, err := s.identity.Register(r.Context(), req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		AgentID: reg.AgentID,
		APIKey:  reg.APIKey,
		Message: "Store your API key — it will not be shown again.",
	})
}

type heartbeatRequest struct {
	Status   *string        `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

type heartbeatResponse struct {
	AgentID       string `json:"agent_id"`
	Status        string `json:"status"`
	LastHeartbeat string `json:"last_heartbeat"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	agent, err := s.identity.Heartbeat(r.Context(), caller.AgentID, req.Status, req.Metadata)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, heartbeatResponse{
		AgentID: agent.AgentID, Status: agent.Status, LastHeartbeat: formatTime(agent.LastHeartbeat),
	})
}
