package web

// errors.go provides unified JSON error response handling for the web
// layer. The HTTP surface is JSON-only: every error is logged with its
// technical detail and request id server-side, then mapped to a sanitized
// {"error", "action", "code"} body for the client.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dangthobach/excel-migration-engine/internal/migration"
	"github.com/dangthobach/excel-migration-engine/internal/migration/migerr"
)

// errorResponse is the JSON body every 4xx/5xx response carries.
type errorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
	Code   string `json:"code,omitempty"`
}

// respondErrorFromErr maps a technical error to an operator-facing message,
// logs it server-side with the request id for correlation, and writes the
// sanitized JSON body.
func respondErrorFromErr(ctx context.Context, w http.ResponseWriter, status int, err error) {
	requestID := middleware.GetReqID(ctx)
	slog.Error("web: request failed", "request_id", requestID, "status", status, "error", err.Error())

	msg := migerr.MapError(err)
	body := errorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code}
	if body.Error == "" {
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

// respondError writes a plain-message JSON error without attempting to map
// err, for request-validation failures that are already user-facing.
func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	requestID := middleware.GetReqID(ctx)
	slog.Warn("web: request rejected", "request_id", requestID, "status", status, "message", message)
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps a migration-domain sentinel error to its HTTP status; an
// open circuit breaker surfaces as 503.
func statusFor(err error) int {
	switch {
	case errors.Is(err, migration.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, migration.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, migration.ErrTooManyJobs):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("web: json encode failed", "error", err)
	}
}
