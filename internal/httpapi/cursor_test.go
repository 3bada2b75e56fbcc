package httpapi

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"triton/internal/fleet"
)

func TestCursorRoundTrip(t *testing.T) {
	in := cursor{ID: 42, CreatedAt: time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC)}

	out, err := decodeCursor(in.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID {
		t.Errorf("id %d, want %d", out.ID, in.ID)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("created_at %v, want %v", out.CreatedAt, in.CreatedAt)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	for _, raw := range []string{"not base64!!", "aGVsbG8=", "OnRpbWU="} {
		_, err := decodeCursor(raw)
		var verr *fleet.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%q: got %v, want ValidationError", raw, err)
		}
	}
}

func TestPageParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/commands", nil)
	limit, afterID, err := pageParams(r)
	if err != nil {
		t.Fatal(err)
	}
	if limit != defaultPageLimit || afterID != 0 {
		t.Errorf("defaults: limit %d after %d", limit, afterID)
	}

	// Limit is capped, not rejected.
	r = httptest.NewRequest("GET", "/api/v1/commands?limit=5000", nil)
	limit, _, err = pageParams(r)
	if err != nil {
		t.Fatal(err)
	}
	if limit != maxPageLimit {
		t.Errorf("limit %d, want cap %d", limit, maxPageLimit)
	}

	r = httptest.NewRequest("GET", "/api/v1/commands?limit=0", nil)
	if _, _, err := pageParams(r); err == nil {
		t.Error("limit=0 must be rejected")
	}
}
