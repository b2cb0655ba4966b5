package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/moltgrid/agentforge/internal/queue"
)

type querySubmitRequest struct {
	Payload     string `json:"payload"`
	QueueName   string `json:"queue_name"`
	Priority    *int   `json:"priority"`
	MaxAttempts *int   `json:"max_attempts"`
}

type queueClaimRequest struct {
	QueueName string `json:"queue_name"`
}

type jobResponse struct {
	JobID              string  `json:"job_id"`
	AgentID            string  `json:"agent_id"`
	QueueName          string  `json:"queue_name"`
	Payload            string  `json:"payload"`
	Priority           int     `json:"priority"`
	Status             string  `json:"status"`
	Attempts           int     `json:"attempts"`
	MaxAttempts        int     `json:"max_attempts"`
	ClaimedBy          string  `json:"claimed_by,omitempty"`
	ClaimedAt          *string `json:"claimed_at"`
	CompletedAt        *string `json:"completed_at"`
	Result             string  `json:"result,omitempty"`
	Error              string  `json:"error,omitempty"`
	CreatedAt          string  `json:"created_at"`
	VisibilityDeadline *string `json:"visibility_deadline"`
}

func jobDTO(j *queue.Job) jobResponse {
	return jobResponse{
		JobID: j.JobID, AgentID: j.AgentID, QueueName: j.QueueName, Payload: j.Payload,
		Priority: j.Priority, Status: j.Status, Attempts: j.Attempts, MaxAttempts: j.MaxAttempts,
		ClaimedBy: j.ClaimedBy, ClaimedAt: formatTimePtr(j.ClaimedAt), CompletedAt: formatTimePtr(j.CompletedAt),
		Result: j.Result, Error: j.Error, CreatedAt: formatTime(j.CreatedAt),
		VisibilityDeadline: formatTimePtr(j.VisibilityDeadline),
	}
}

func (s *Server) handleQueueSubmit(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req querySubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	jobID, err := s.queue.Submit(r.Context(), caller.AgentID, req.QueueName, req.Payload, req.Priority, req.MaxAttempts)
	if err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.queue.Get(r.Context(), caller.AgentID, jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDTO(job))
}

func (s *Server) handleQueueClaim(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())

	var req queueClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	job, err := s.queue.Claim(r.Context(), caller.AgentID, req.QueueName)
	if err != nil {
		writeErr(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "empty"})
		return
	}
	writeJSON(w, http.StatusOK, jobDTO(job))
}

func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	jobID := chi.URLParam(r, "id")

	job, err := s.queue.Get(r.Context(), caller.AgentID, jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDTO(job))
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	queueName := r.URL.Query().Get("queue_name")
	status := r.URL.Query().Get("status")

	jobs, err := s.queue.List(r.Context(), caller.AgentID, queueName, status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJobList(w, jobs)
}

func (s *Server) handleQueueDeadLetter(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	queueName := r.URL.Query().Get("queue_name")

	jobs, err := s.queue.DeadLetter(r.Context(), caller.AgentID, queueName)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJobList(w, jobs)
}

func writeJobList(w http.ResponseWriter, jobs []*queue.Job) {
	dtos := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		dtos[i] = jobDTO(j)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(dtos), "jobs": dtos})
}

func (s *Server) handleQueueComplete(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	jobID := chi.URLParam(r, "id")
	result := r.URL.Query().Get("result")

	if err := s.queue.Complete(r.Context(), caller.AgentID, jobID, result); err != nil {
		writeErr(w, err)
		return
	}
	job, err := s.queue.Get(r.Context(), "", jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDTO(job))
}

func (s *Server) handleQueueFail(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	jobID := chi.URLParam(r, "id")
	reason := r.URL.Query().Get("reason")

	if err := s.queue.Fail(r.Context(), caller.AgentID, jobID, reason); err != nil {
		writeErr(w, err)
		return
	}
	job, err := s.queue.Get(r.Context(), "", jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDTO(job))
}

func (s *Server) handleQueueReplay(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	jobID := chi.URLParam(r, "id")

	if err := s.queue.Replay(r.Context(), caller.AgentID, jobID); err != nil {
		writeErr(w, err)
		return
	}
	job, err := s.queue.Get(r.Context(), caller.AgentID, jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobDTO(job))
}
