// Package httpapi exposes the synchronous checking endpoint.
//
// Stage failure is business data, not a transport error: /check answers 200
// with a partial result whenever the pipeline ran at all, 404 only for an
// unknown task, and 5xx only when the check could not even be started.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patternlab/checker/pkg/metrics"
	"github.com/patternlab/checker/pkg/security"
	"github.com/patternlab/checker/pkg/sequencer"
)

type checkRequest struct {
	UserID string `json:"user_id"`
	TaskID string `json:"task_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler creates the http.Handler for the checking API.
//
// Usage:
//
//	mux.Handle("/", httpapi.Handler(seq))
func Handler(seq *sequencer.Sequencer) http.Handler {
	metrics.Register(prometheus.DefaultRegisterer)

	logger := slog.Default()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /check", func(w http.ResponseWriter, r *http.Request) {
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		result, err := seq.Handle(r.Context(), req.UserID, req.TaskID)
		if err != nil {
			switch {
			case errors.Is(err, sequencer.ErrTaskNotFound):
				writeJSON(w, http.StatusNotFound, errorResponse{Error: "task not found"})
			case isValidationError(err):
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			default:
				logger.Error("check could not be started", "error", err)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			}
			return
		}

		writeJSON(w, http.StatusOK, result)
	})

	mux.HandleFunc("POST /check/{correlationID}/cancel", func(w http.ResponseWriter, r *http.Request) {
		if err := seq.Cancel(r.Context(), r.PathValue("correlationID")); err != nil {
			logger.Error("cancel could not be published", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func isValidationError(err error) bool {
	return errors.Is(err, security.ErrInvalidTaskID) ||
		errors.Is(err, security.ErrTaskIDTooLong) ||
		errors.Is(err, security.ErrInvalidUserID) ||
		errors.Is(err, security.ErrUserIDTooLong)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
