package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/logging"
	"github.com/markdave123-py/docindex/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// writeServiceError maps service and store errors onto HTTP status codes.
// Unexpected errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrDocumentNotFound):
		writeError(w, r, http.StatusNotFound, "document not found")
	case errors.Is(err, core.ErrTerminalStatus):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidDocument),
		errors.Is(err, services.ErrEmptyQuery),
		errors.Is(err, services.ErrInvalidSearch):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ingestion_engine.ErrQueueFull),
		errors.Is(err, ingestion_engine.ErrRunnerClosed):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, "ingestion queue unavailable, retry later")
	default:
		logging.FromContext(r.Context()).Error("request failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
