package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/moltgrid/agentforge/internal/relay"
)

type relaySendRequest struct {
	ToAgent string `json:"to_agent"`
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

type messageResponse struct {
	MessageID string  `json:"message_id"`
	FromAgent string  `json:"from_agent"`
	ToAgent   string  `json:"to_agent"`
	Channel   string  `json:"channel"`
	Payload   string  `json:"payload"`
	CreatedAt string  `json:"created_at"`
	ReadAt    *string `json:"read_at"`
}

func messageDTO(m *relay.Message) messageResponse {
	return messageResponse{
		MessageID: m.MessageID, FromAgent: m.FromAgent, ToAgent: m.ToAgent,
		Channel: m.Channel, Payload: m.Payload, CreatedAt: formatTime(m.CreatedAt),
		ReadAt: formatTimePtr(m.ReadAt),
	}
}

func (s *Server) handleRelaySend(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req relaySendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	msg, err := s.relay.Send(r.Context(), caller.AgentID, req.ToAgent, req.Channel, req.Payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageDTO(msg))
}

func (s *Server) handleRelayInbox(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	channel := r.URL.Query().Get("channel")

	unreadOnly := true
	if v := r.URL.Query().Get("unread_only"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			unreadOnly = parsed
		}
	}

	messages, err := s.relay.Inbox(r.Context(), caller.AgentID, channel, unreadOnly)
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]messageResponse, len(messages))
	for i, m := range messages {
		dtos[i] = messageDTO(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(dtos), "messages": dtos})
}

func (s *Server) handleRelayMarkRead(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	messageID := chi.URLParam(r, "id")

	if err := s.relay.MarkRead(r.Context(), caller.AgentID, messageID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
