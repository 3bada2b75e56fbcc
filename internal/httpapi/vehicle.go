package httpapi

import (
	"encoding/json"
	"net/http"

	"triton/internal/fleet"
	"triton/pkg/api"
)

// decodeBody parses a JSON request body. Unknown fields pass through;
// firmware builds ahead of the server must not be rejected.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fleet.Validationf("body", "is not valid JSON: %v", err)
	}
	return nil
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Ingest.Process(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) handleDescentCheck(w http.ResponseWriter, r *http.Request) {
	var req api.DescentCheckRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Gate.Check(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) handleAscentNotify(w http.ResponseWriter, r *http.Request) {
	var req api.AscentNotifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := h.Reconciler.Notify(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
