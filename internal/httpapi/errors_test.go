package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"triton/internal/fleet"
	"triton/pkg/api"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"validation", fleet.Validationf("mid", "is required"), http.StatusBadRequest, api.KindInvalidPayload},
		{"wrapped validation", fmt.Errorf("handle: %w", fleet.Validationf("x", "bad")), http.StatusBadRequest, api.KindInvalidPayload},
		{"unknown device", fleet.ErrUnknownDevice, http.StatusNotFound, api.KindUnknownDevice},
		{"unknown command", fmt.Errorf("command 3: %w", fleet.ErrUnknownCommand), http.StatusNotFound, api.KindUnknownCommand},
		{"not found", fleet.ErrNotFound, http.StatusNotFound, api.KindNotFound},
		{"conflict", fmt.Errorf("enqueue: %w", fleet.ErrConflict), http.StatusConflict, api.KindConflict},
		{"bad state", fleet.ErrBadState, http.StatusConflict, api.KindBadState},
		{"timeout", context.DeadlineExceeded, http.StatusServiceUnavailable, api.KindUnavailable},
		{"unrecognized", errors.New("disk on fire"), http.StatusInternalServerError, api.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classify(tt.err)
			if status != tt.wantStatus || kind != tt.wantKind {
				t.Errorf("got (%d, %s), want (%d, %s)", status, kind, tt.wantStatus, tt.wantKind)
			}
		})
	}
}
