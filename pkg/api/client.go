package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the operator Web API.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Error.Kind == "" {
			return &APIError{StatusCode: resp.StatusCode, Kind: KindInternal, Message: resp.Status}
		}
		return &APIError{StatusCode: resp.StatusCode, Kind: eb.Error.Kind, Message: eb.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListOptions narrow list calls. Zero values are omitted from the query.
type ListOptions struct {
	MID    string
	Status string
	Type   string
	State  string
	From   *time.Time
	To     *time.Time
	Cursor string
	Limit  int
}

func (o ListOptions) values() url.Values {
	q := url.Values{}
	if o.MID != "" {
		q.Set("mid", o.MID)
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Type != "" {
		q.Set("type", o.Type)
	}
	if o.State != "" {
		q.Set("state", o.State)
	}
	if o.From != nil {
		q.Set("from", o.From.UTC().Format(time.RFC3339))
	}
	if o.To != nil {
		q.Set("to", o.To.UTC().Format(time.RFC3339))
	}
	if o.Cursor != "" {
		q.Set("cursor", o.Cursor)
	}
	if o.Limit > 0 {
		q.Set("limit", fmt.Sprint(o.Limit))
	}
	return q
}

func (c *Client) Devices(ctx context.Context, opts ListOptions) (Page[DeviceView], error) {
	var page Page[DeviceView]
	err := c.do(ctx, http.MethodGet, "/api/v1/devices", opts.values(), nil, &page)
	return page, err
}

func (c *Client) Device(ctx context.Context, mid string) (DeviceView, error) {
	var v DeviceView
	err := c.do(ctx, http.MethodGet, "/api/v1/devices/"+url.PathEscape(mid), nil, nil, &v)
	return v, err
}

func (c *Client) DeviceStatus(ctx context.Context, mid string) (DeviceStatusView, error) {
	var v DeviceStatusView
	err := c.do(ctx, http.MethodGet, "/api/v1/devices/"+url.PathEscape(mid)+"/status", nil, nil, &v)
	return v, err
}

func (c *Client) EnqueueCommand(ctx context.Context, req EnqueueCommandRequest) (CommandView, error) {
	var v CommandView
	err := c.do(ctx, http.MethodPost, "/api/v1/commands", nil, req, &v)
	return v, err
}

func (c *Client) Commands(ctx context.Context, opts ListOptions) (Page[CommandView], error) {
	var page Page[CommandView]
	err := c.do(ctx, http.MethodGet, "/api/v1/commands", opts.values(), nil, &page)
	return page, err
}

func (c *Client) Command(ctx context.Context, id int64) (CommandView, error) {
	var v CommandView
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/commands/%d", id), nil, nil, &v)
	return v, err
}

func (c *Client) LatestTelemetry(ctx context.Context, mid string) (HeartbeatView, error) {
	var v HeartbeatView
	err := c.do(ctx, http.MethodGet, "/api/v1/telemetry/latest/"+url.PathEscape(mid), nil, nil, &v)
	return v, err
}

func (c *Client) Heartbeats(ctx context.Context, opts ListOptions) (Page[HeartbeatView], error) {
	var page Page[HeartbeatView]
	err := c.do(ctx, http.MethodGet, "/api/v1/telemetry/heartbeats", opts.values(), nil, &page)
	return page, err
}

// Trajectory returns the raw GeoJSON document for mid. format is
// "geojson" or "detailed".
func (c *Client) Trajectory(ctx context.Context, mid, format string, from, to *time.Time) (json.RawMessage, error) {
	q := ListOptions{From: from, To: to}.values()
	if format != "" {
		q.Set("format", format)
	}
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/telemetry/trajectory/"+url.PathEscape(mid), q, nil, &raw)
	return raw, err
}

func (c *Client) Dives(ctx context.Context, opts ListOptions) (Page[DiveView], error) {
	var page Page[DiveView]
	err := c.do(ctx, http.MethodGet, "/api/v1/dives", opts.values(), nil, &page)
	return page, err
}

func (c *Client) Dive(ctx context.Context, id int64) (DiveView, error) {
	var v DiveView
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/dives/%d", id), nil, nil, &v)
	return v, err
}

func (c *Client) Events(ctx context.Context, opts ListOptions) (Page[EventView], error) {
	var page Page[EventView]
	err := c.do(ctx, http.MethodGet, "/api/v1/events", opts.values(), nil, &page)
	return page, err
}

func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var v HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, nil, &v)
	return v, err
}
