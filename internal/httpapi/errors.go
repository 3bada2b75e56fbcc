package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"triton/internal/fleet"
	"triton/pkg/api"

	"github.com/go-chi/chi/v5/middleware"
)

// writeJSON renders v with the request id echoed back, matching what the
// firmware logs against the server's own records.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	if id := middleware.GetReqID(r.Context()); id != "" {
		w.Header().Set("X-Request-ID", id)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}

// writeError maps a domain error onto the wire envelope. Unrecognized
// errors become 500 INTERNAL with a generic message; the detail goes to
// the log, not the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status >= 500 {
		slog.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
		msg = "internal error"
	}
	writeJSON(w, r, status, api.ErrorBody{Error: api.ErrorDetail{Kind: kind, Message: msg}})
}

func classify(err error) (int, string) {
	var verr *fleet.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, api.KindInvalidPayload
	case errors.Is(err, fleet.ErrUnknownDevice):
		return http.StatusNotFound, api.KindUnknownDevice
	case errors.Is(err, fleet.ErrUnknownCommand):
		return http.StatusNotFound, api.KindUnknownCommand
	case errors.Is(err, fleet.ErrNotFound):
		return http.StatusNotFound, api.KindNotFound
	case errors.Is(err, fleet.ErrConflict):
		return http.StatusConflict, api.KindConflict
	case errors.Is(err, fleet.ErrBadState):
		return http.StatusConflict, api.KindBadState
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, api.KindUnavailable
	}
	return http.StatusInternalServerError, api.KindInternal
}
