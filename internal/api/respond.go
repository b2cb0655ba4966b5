package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/moltgrid/agentforge/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: failed to encode response", "error", err)
	}
}

// writeErr maps err to its apierr status code, falling back to 500 for
// anything that isn't a *apierr.Error (a bug, not a caller mistake).
func writeErr(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		slog.Error("api: unclassified error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	if apiErr.Class == apierr.Internal {
		slog.Error("api: internal error", "error", apiErr)
	}
	writeJSON(w, apiErr.StatusCode(), errorBody{Error: apiErr.Message})
}

type errorBody struct {
	Error string `json:"error"`
}

// decodeJSON decodes r's body into v. A missing or empty body is not an
// error — several routes (e.g. POST /v1/queue/claim) accept an entirely
// optional body and rely on v's zero value.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apierr.NewBadRequest("invalid request body: %v", err)
	}
	return nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
