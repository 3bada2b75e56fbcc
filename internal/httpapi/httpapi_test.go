package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"triton/internal/ingest"
	"triton/internal/mission"
	"triton/internal/store"
	"triton/pkg/api"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	srv   *httptest.Server
	store *store.Store
	now   time.Time
}

func newFixture(t *testing.T, adminReset bool) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{store: st, now: testTime}
	clock := func() time.Time { return f.now }

	h := &Handler{
		Store:          st,
		Ingest:         &ingest.Service{Store: st, Clock: clock},
		Gate:           &mission.Gate{Store: st, Freshness: 10 * time.Minute, Clock: clock},
		Reconciler:     &mission.Reconciler{Store: st, Clock: clock},
		VehicleTimeout: 5 * time.Second,
		AdminReset:     adminReset,
		Clock:          clock,
	}
	f.srv = httptest.NewServer(h.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body, out any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp
}

func (f *fixture) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp
}

func (f *fixture) heartbeat(t *testing.T, mid string, seq uint64) api.HeartbeatResponse {
	t.Helper()
	var out api.HeartbeatResponse
	resp := f.post(t, "/hb", api.HeartbeatRequest{
		MID:      mid,
		HBSeq:    seq,
		TsUTC:    f.now.Add(-time.Second),
		State:    "SURFACE_WAIT",
		Position: &api.Position{Lat: 35.1, Lon: 139.6},
	}, &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat: status %d", resp.StatusCode)
	}
	return out
}

// --- end to end ---

func TestFullDiveLifecycle(t *testing.T) {
	f := newFixture(t, false)

	// Device checks in before any command exists.
	if hb := f.heartbeat(t, "auv-1", 1); hb.Command != nil {
		t.Fatal("no command should be pending yet")
	}

	// Operator queues a dive.
	var queued api.CommandView
	resp := f.post(t, "/api/v1/commands", api.EnqueueCommandRequest{
		MID:  "auv-1",
		Cmd:  "RUN_DIVE",
		Args: api.RunDiveArgs{TargetDepthM: 30, HoldAtDepthS: 60, Cycles: 1},
	}, &queued)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue: status %d", resp.StatusCode)
	}
	if queued.Status != "QUEUED" || queued.Seq != 1 {
		t.Fatalf("queued: %+v", queued)
	}

	// Next heartbeat pulls it.
	hb := f.heartbeat(t, "auv-1", 2)
	if hb.Command == nil {
		t.Fatal("expected the queued command")
	}
	if hb.Command.PlanHash != queued.PlanHash {
		t.Error("envelope hash differs from the stored one")
	}

	// Pre-dive gate passes.
	var gate api.DescentCheckResponse
	f.post(t, "/descent-check", api.DescentCheckRequest{
		MID: "auv-1", TsUTC: f.now, CheckSeq: 1,
		CmdSeq: hb.Command.Seq, PlanHash: hb.Command.PlanHash,
	}, &gate)
	if !gate.OK {
		t.Fatalf("gate refused: %s", gate.Reason)
	}

	// Dive happens; ascent report closes it out.
	var ack api.AscentNotifyResponse
	f.post(t, "/ascent-notify", api.AscentNotifyRequest{
		MID: "auv-1", TsUTC: f.now.Add(20 * time.Minute), CmdSeq: hb.Command.Seq,
		OK: true, Summary: json.RawMessage(`{"max_depth_m":29.2,"duration_s":1200}`),
	}, &ack)
	if !ack.Ack {
		t.Fatal("ascent not acked")
	}

	var cmd api.CommandView
	f.get(t, fmt.Sprintf("/api/v1/commands/%d", queued.ID), &cmd)
	if cmd.Status != "COMPLETED" {
		t.Errorf("got status %s, want COMPLETED", cmd.Status)
	}

	var dives api.Page[api.DiveView]
	f.get(t, "/api/v1/dives?mid=auv-1", &dives)
	if len(dives.Items) != 1 {
		t.Fatalf("got %d dives, want 1", len(dives.Items))
	}
	if dives.Items[0].OK == nil || !*dives.Items[0].OK {
		t.Error("dive not marked ok")
	}
}

func TestErrorEnvelope(t *testing.T) {
	f := newFixture(t, false)

	var body api.ErrorBody
	resp := f.get(t, "/api/v1/devices/ghost", &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
	if body.Error.Kind != api.KindUnknownDevice {
		t.Errorf("kind %s, want UNKNOWN_DEVICE", body.Error.Kind)
	}
	if body.Error.Message == "" {
		t.Error("message must not be empty")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestEnqueue_UnknownDeviceAndConflict(t *testing.T) {
	f := newFixture(t, false)

	req := api.EnqueueCommandRequest{
		MID: "auv-1", Cmd: "RUN_DIVE",
		Args: api.RunDiveArgs{TargetDepthM: 30, Cycles: 1},
	}

	// Unknown device first.
	var body api.ErrorBody
	resp := f.post(t, "/api/v1/commands", req, &body)
	if resp.StatusCode != http.StatusNotFound || body.Error.Kind != api.KindUnknownDevice {
		t.Fatalf("status %d kind %s", resp.StatusCode, body.Error.Kind)
	}

	f.heartbeat(t, "auv-1", 1)
	if resp := f.post(t, "/api/v1/commands", req, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("enqueue: status %d", resp.StatusCode)
	}

	// Second while the first is in flight.
	resp = f.post(t, "/api/v1/commands", req, &body)
	if resp.StatusCode != http.StatusConflict || body.Error.Kind != api.KindConflict {
		t.Errorf("status %d kind %s, want 409 CONFLICT", resp.StatusCode, body.Error.Kind)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	f := newFixture(t, false)
	f.heartbeat(t, "auv-1", 1)

	tests := []struct {
		name string
		req  api.EnqueueCommandRequest
	}{
		{"wrong cmd", api.EnqueueCommandRequest{MID: "auv-1", Cmd: "SELF_DESTRUCT", Args: api.RunDiveArgs{TargetDepthM: 10}}},
		{"zero depth", api.EnqueueCommandRequest{MID: "auv-1", Cmd: "RUN_DIVE"}},
		{"negative hold", api.EnqueueCommandRequest{MID: "auv-1", Cmd: "RUN_DIVE", Args: api.RunDiveArgs{TargetDepthM: 10, HoldAtDepthS: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body api.ErrorBody
			resp := f.post(t, "/api/v1/commands", tt.req, &body)
			if resp.StatusCode != http.StatusBadRequest || body.Error.Kind != api.KindInvalidPayload {
				t.Errorf("status %d kind %s, want 400 INVALID_PAYLOAD", resp.StatusCode, body.Error.Kind)
			}
		})
	}
}

func TestDeviceViews(t *testing.T) {
	f := newFixture(t, false)
	f.heartbeat(t, "auv-1", 1)
	f.heartbeat(t, "auv-2", 1)

	var page api.Page[api.DeviceView]
	f.get(t, "/api/v1/devices", &page)
	if len(page.Items) != 2 {
		t.Fatalf("got %d devices, want 2", len(page.Items))
	}
	if !page.Items[0].Online {
		t.Error("device just seen should be online")
	}

	// A device silent past the threshold reads offline.
	f.now = f.now.Add(5 * time.Minute)
	var status api.DeviceStatusView
	f.get(t, "/api/v1/devices/auv-1/status", &status)
	if status.Online {
		t.Error("silent device should be offline")
	}
}

func TestHeartbeatPagination(t *testing.T) {
	f := newFixture(t, false)
	for seq := uint64(1); seq <= 5; seq++ {
		f.heartbeat(t, "auv-1", seq)
	}

	var first api.Page[api.HeartbeatView]
	f.get(t, "/api/v1/telemetry/heartbeats?mid=auv-1&limit=3", &first)
	if len(first.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(first.Items))
	}
	if first.Items[0].HBSeq != 5 {
		t.Error("listing must run newest-first")
	}
	if first.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	var second api.Page[api.HeartbeatView]
	f.get(t, "/api/v1/telemetry/heartbeats?mid=auv-1&limit=3&cursor="+first.NextCursor, &second)
	if len(second.Items) != 2 {
		t.Fatalf("got %d items on page 2, want 2", len(second.Items))
	}
	if second.Items[0].HBSeq != 2 {
		t.Errorf("page 2 starts at seq %d, want 2", second.Items[0].HBSeq)
	}
	if second.NextCursor != "" {
		t.Error("last page must not carry a cursor")
	}
}

func TestTrajectoryEndpoint(t *testing.T) {
	f := newFixture(t, false)
	for seq := uint64(1); seq <= 3; seq++ {
		f.heartbeat(t, "auv-1", seq)
		f.now = f.now.Add(time.Minute)
	}

	var fc struct {
		Type       string           `json:"type"`
		Features   []map[string]any `json:"features"`
		Statistics map[string]any   `json:"statistics"`
	}
	resp := f.get(t, "/api/v1/telemetry/trajectory/auv-1", &fc)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("type %q", fc.Type)
	}
	if fc.Statistics != nil {
		t.Error("plain format must not include statistics")
	}

	f.get(t, "/api/v1/telemetry/trajectory/auv-1?format=detailed", &fc)
	if fc.Statistics == nil {
		t.Error("detailed format must include statistics")
	}

	var body api.ErrorBody
	resp = f.get(t, "/api/v1/telemetry/trajectory/auv-1?format=kml", &body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad format: status %d, want 400", resp.StatusCode)
	}

	resp = f.get(t, "/api/v1/telemetry/trajectory/ghost", &body)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown device: status %d, want 404", resp.StatusCode)
	}
}

func TestAdminReset(t *testing.T) {
	disabled := newFixture(t, false)
	resp, err := http.Post(disabled.srv.URL+"/admin/reset-db", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled reset: status %d, want 404", resp.StatusCode)
	}

	enabled := newFixture(t, true)
	enabled.heartbeat(t, "auv-1", 1)
	resp, err = http.Post(enabled.srv.URL+"/admin/reset-db", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enabled reset: status %d", resp.StatusCode)
	}

	var body api.ErrorBody
	r := enabled.get(t, "/api/v1/devices/auv-1", &body)
	if r.StatusCode != http.StatusNotFound {
		t.Error("device survived reset")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)

	var h api.HealthResponse
	resp := f.get(t, "/health", &h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if h.Status != "ok" || !h.DB {
		t.Errorf("health: %+v", h)
	}
}
