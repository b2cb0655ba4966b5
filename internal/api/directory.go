package api

import (
	"net/http"

	"github.com/moltgrid/agentforge/internal/directory"
)

type directoryUpdateRequest struct {
	Description  *string   `json:"description"`
	Capabilities *[]string `json:"capabilities"`
	Public       *bool     `json:"public"`
}

type profileResponse struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Public       bool     `json:"public"`
	CreatedAt    string   `json:"created_at"`
}

func profileDTO(p *directory.Profile) profileResponse {
	capabilities := p.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	return profileResponse{
		AgentID: p.AgentID, Name: p.Name, Description: p.Description,
		Capabilities: capabilities, Public: p.Public, CreatedAt: formatTime(p.CreatedAt),
	}
}

func (s *Server) handleDirectoryUpdate(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req directoryUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.directory.Update(r.Context(), caller.AgentID, req.Description, req.Capabilities, req.Public); err != nil {
		writeErr(w, err)
		return
	}

	p, err := s.directory.GetMe(r.Context(), caller.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileDTO(p))
}

func (s *Server) handleDirectoryMe(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	p, err := s.directory.GetMe(r.Context(), caller.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileDTO(p))
}

func (s *Server) handleDirectoryList(w http.ResponseWriter, r *http.Request) {
	capability := r.URL.Query().Get("capability")

	profiles, err := s.directory.List(r.Context(), capability)
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]profileResponse, len(profiles))
	for i, p := range profiles {
		dtos[i] = profileDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(dtos), "agents": dtos})
}
