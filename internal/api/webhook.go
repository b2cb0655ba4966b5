package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/moltgrid/agentforge/internal/webhook"
)

type webhookRegisterRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Secret     string   `json:"secret"`
}

type webhookResponse struct {
	WebhookID  string   `json:"webhook_id"`
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Active     bool     `json:"active"`
	CreatedAt  string   `json:"created_at"`
}

func webhookDTO(wh *webhook.Webhook) webhookResponse {
	eventTypes := wh.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}
	return webhookResponse{
		WebhookID: wh.WebhookID, URL: wh.URL, EventTypes: eventTypes,
		Active: wh.Active, CreatedAt: formatTime(wh.CreatedAt),
	}
}

func (s *Server) handleWebhookRegister(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req webhookRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	webhookID, err := s.webhook.Register(r.Context(), caller.AgentID, req.URL, req.EventTypes, req.Secret)
	if err != nil {
		writeErr(w, err)
		return
	}

	h, err := s.webhook.Get(r.Context(), caller.AgentID, webhookID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookDTO(h))
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	hooks, err := s.webhook.List(r.Context(), caller.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]webhookResponse, len(hooks))
	for i, h := range hooks {
		dtos[i] = webhookDTO(h)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(dtos), "webhooks": dtos})
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	webhookID := chi.URLParam(r, "id")

	if err := s.webhook.Delete(r.Context(), caller.AgentID, webhookID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
