package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"triton/internal/fleet"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// cursor pins a list position by (id, created_at) so pages stay stable
// while new rows arrive. The wire form is opaque base64.
type cursor struct {
	ID        int64
	CreatedAt time.Time
}

func (c cursor) Encode() string {
	raw := fmt.Sprintf("%d:%s", c.ID, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, fleet.Validationf("cursor", "is not valid")
	}
	id, ts, ok := strings.Cut(string(raw), ":")
	if !ok {
		return c, fleet.Validationf("cursor", "is not valid")
	}
	if c.ID, err = strconv.ParseInt(id, 10, 64); err != nil {
		return c, fleet.Validationf("cursor", "is not valid")
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return c, fleet.Validationf("cursor", "is not valid")
	}
	return c, nil
}

// pageParams pulls limit and cursor from the query string. The returned
// afterID is 0 on the first page.
func pageParams(r *http.Request) (limit int, afterID int64, err error) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return 0, 0, fleet.Validationf("limit", "must be a positive integer")
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}
	}
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		c, err := decodeCursor(raw)
		if err != nil {
			return 0, 0, err
		}
		afterID = c.ID
	}
	return limit, afterID, nil
}

// timeRange parses optional from/to query params in RFC 3339.
func timeRange(r *http.Request) (from, to *time.Time, err error) {
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fleet.Validationf("from", "is not an RFC 3339 timestamp")
		}
		from = &t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fleet.Validationf("to", "is not an RFC 3339 timestamp")
		}
		to = &t
	}
	return from, to, nil
}
