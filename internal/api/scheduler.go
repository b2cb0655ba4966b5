package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/moltgrid/agentforge/internal/scheduler"
)

type scheduleCreateRequest struct {
	CronExpr    string `json:"cron_expr"`
	Payload     string `json:"payload"`
	QueueName   string `json:"queue_name"`
	Priority    *int   `json:"priority"`
	MaxAttempts *int   `json:"max_attempts"`
}

type scheduleResponse struct {
	TaskID      string  `json:"task_id"`
	CronExpr    string  `json:"cron_expr"`
	Payload     string  `json:"payload"`
	QueueName   string  `json:"queue_name"`
	Priority    int     `json:"priority"`
	MaxAttempts int     `json:"max_attempts"`
	Enabled     bool    `json:"enabled"`
	NextRunAt   string  `json:"next_run_at"`
	LastRunAt   *string `json:"last_run_at"`
	CreatedAt   string  `json:"created_at"`
}

func scheduleDTO(t *scheduler.Task) scheduleResponse {
	return scheduleResponse{
		TaskID: t.TaskID, CronExpr: t.CronExpr, Payload: t.Payload, QueueName: t.QueueName,
		Priority: t.Priority, MaxAttempts: t.MaxAttempts, Enabled: t.Enabled,
		NextRunAt: formatTime(t.NextRunAt), LastRunAt: formatTimePtr(t.LastRunAt),
		CreatedAt: formatTime(t.CreatedAt),
	}
}

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req scheduleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	task, err := s.scheduler.Create(r.Context(), caller.AgentID, req.CronExpr, req.Payload, req.QueueName, req.Priority, req.MaxAttempts)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleDTO(task))
}

func (s *Server) handleScheduleList(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	tasks, err := s.scheduler.List(r.Context(), caller.AgentID)
	if err != nil {
		writeErr(w, err)
		return
	}

	dtos := make([]scheduleResponse, len(tasks))
	for i, t := range tasks {
		dtos[i] = scheduleDTO(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(dtos), "schedules": dtos})
}

func (s *Server) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	taskID := chi.URLParam(r, "id")

	task, err := s.scheduler.Get(r.Context(), caller.AgentID, taskID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleDTO(task))
}

func (s *Server) handleScheduleToggle(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	taskID := chi.URLParam(r, "id")

	enabled := true
	if v := r.URL.Query().Get("enabled"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			enabled = parsed
		}
	}

	if err := s.scheduler.Toggle(r.Context(), caller.AgentID, taskID, enabled); err != nil {
		writeErr(w, err)
		return
	}
	task, err := s.scheduler.Get(r.Context(), caller.AgentID, taskID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleDTO(task))
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	taskID := chi.URLParam(r, "id")

	if err := s.scheduler.Delete(r.Context(), caller.AgentID, taskID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}
