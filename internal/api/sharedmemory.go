package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/moltgrid/agentforge/internal/sharedmemory"
)

type sharedMemorySetRequest struct {
	Namespace   string `json:"namespace"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

type sharedMemoryEntryResponse struct {
	Namespace   string  `json:"namespace"`
	Key         string  `json:"key"`
	Value       string  `json:"value"`
	OwnerAgent  string  `json:"owner_agent_id"`
	Description string  `json:"description"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	ExpiresAt   *string `json:"expires_at"`
}

func sharedMemoryEntryDTO(e *sharedmemory.Entry) sharedMemoryEntryResponse {
	return sharedMemoryEntryResponse{
		Namespace: e.Namespace, Key: e.Key, Value: e.Value,
		OwnerAgent: e.OwnerAgent, Description: e.Description,
		CreatedAt: formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt),
		ExpiresAt: formatTimePtr(e.ExpiresAt),
	}
}

func (s *Server) handleSharedMemorySet(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req sharedMemorySetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.shared.Set(r.Context(), caller.AgentID, req.Namespace, req.Key, req.Value, req.Description, req.TTLSeconds); err != nil {
		writeErr(w, err)
		return
	}

	e, err := s.shared.Get(r.Context(), req.Namespace, req.Key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sharedMemoryEntryDTO(e))
}

func (s *Server) handleSharedMemoryGet(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")

	e, err := s.shared.Get(r.Context(), namespace, key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sharedMemoryEntryDTO(e))
}

func (s *Server) handleSharedMemoryList(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	prefix := r.URL.Query().Get("prefix")

	entries, err := s.shared.List(r.Context(), namespace, prefix)
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]sharedMemoryEntryResponse, len(entries))
	for i, e := range entries {
		dtos[i] = sharedMemoryEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(dtos), "entries": dtos})
}

func (s *Server) handleSharedMemoryNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.shared.ListNamespaces(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(namespaces), "namespaces": namespaces})
}

func (s *Server) handleSharedMemoryDelete(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	namespace := chi.URLParam(r, "namespace")
	key := chi.URLParam(r, "key")

	if err := s.shared.Delete(r.Context(), caller.AgentID, namespace, key); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
