package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/moltgrid/agentforge/internal/memory"
)

type memorySetRequest struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	Namespace  string `json:"namespace"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type memoryEntryResponse struct {
	Key       string  `json:"key"`
	Value     string  `json:"value"`
	Namespace string  `json:"namespace"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	ExpiresAt *string `json:"expires_at"`
}

func memoryEntryDTO(e *memory.Entry) memoryEntryResponse {
	return memoryEntryResponse{
		Key: e.Key, Value: e.Value, Namespace: e.Namespace,
		CreatedAt: formatTime(e.CreatedAt), UpdatedAt: formatTime(e.UpdatedAt),
		ExpiresAt: formatTimePtr(e.ExpiresAt),
	}
}

func (s *Server) handleMemorySet(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req memorySetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.memory.Set(r.Context(), caller.AgentID, req.Namespace, req.Key, req.Value, req.TTLSeconds); err != nil {
		writeErr(w, err)
		return
	}

	e, err := s.memory.Get(r.Context(), caller.AgentID, req.Namespace, req.Key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memoryEntryDTO(e))
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	key := chi.URLParam(r, "key")
	namespace := r.URL.Query().Get("namespace")

	e, err := s.memory.Get(r.Context(), caller.AgentID, namespace, key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memoryEntryDTO(e))
}

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	namespace := r.URL.Query().Get("namespace")
	prefix := r.URL.Query().Get("prefix")

	entries, err := s.memory.List(r.Context(), caller.AgentID, namespace, prefix)
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]memoryEntryResponse, len(entries))
	for i, e := range entries {
		dtos[i] = memoryEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(dtos), "entries": dtos})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	key := chi.URLParam(r, "key")
	namespace := r.URL.Query().Get("namespace")

	if err := s.memory.Delete(r.Context(), caller.AgentID, namespace, key); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
