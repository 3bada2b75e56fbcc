package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"triton/internal/fleet"
	"triton/internal/store"
	"triton/pkg/api"
)

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return &Service{Store: st, Clock: func() time.Time { return testTime }}, st
}

func hbReq(mid string, seq uint64) api.HeartbeatRequest {
	return api.HeartbeatRequest{
		MID:   mid,
		HBSeq: seq,
		TsUTC: testTime.Add(-time.Second),
		State: fleet.StateSurfaceWait,
	}
}

func enqueue(t *testing.T, st *store.Store, mid string) fleet.Command {
	t.Helper()
	args := json.RawMessage(`{"target_depth_m":30,"hold_at_depth_s":0,"cycles":1}`)
	hash, err := fleet.PlanHash(fleet.KindRunDive, args)
	if err != nil {
		t.Fatal(err)
	}
	c, err := st.EnqueueCommand(context.Background(), mid, fleet.KindRunDive, args, hash, "op", testTime)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestProcess_AckWithoutCommand(t *testing.T) {
	svc, _ := newService(t)

	resp, err := svc.Process(context.Background(), hbReq("auv-1", 1))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Ack {
		t.Error("expected ack")
	}
	if resp.Command != nil {
		t.Error("no command queued, none should be dispensed")
	}
	if resp.NextHBSeconds != 15 {
		t.Errorf("got next_hb_s %d, want 15", resp.NextHBSeconds)
	}
}

func TestProcess_DispensesQueuedCommand(t *testing.T) {
	svc, st := newService(t)
	queued := enqueue(t, st, "auv-1")

	resp, err := svc.Process(context.Background(), hbReq("auv-1", 5))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Command == nil {
		t.Fatal("expected a command in the slot")
	}
	if resp.Command.Seq != queued.Seq {
		t.Errorf("got seq %d, want %d", resp.Command.Seq, queued.Seq)
	}
	if resp.Command.PlanHash != queued.PlanHash {
		t.Error("envelope must carry the stored plan hash")
	}

	got, err := st.CommandByID(context.Background(), queued.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != fleet.StatusIssued {
		t.Errorf("got status %s, want ISSUED", got.Status)
	}
	if got.IssuedHBSeq == nil || *got.IssuedHBSeq != 5 {
		t.Error("issuance must be bound to the pulling heartbeat")
	}
}

func TestProcess_ReplayedHeartbeatRedispensesSameCommand(t *testing.T) {
	svc, st := newService(t)
	enqueue(t, st, "auv-1")

	first, err := svc.Process(context.Background(), hbReq("auv-1", 5))
	if err != nil {
		t.Fatal(err)
	}
	if first.Command == nil {
		t.Fatal("expected a command on first delivery")
	}

	// The exact same frame again: same command, no double issue.
	replay, err := svc.Process(context.Background(), hbReq("auv-1", 5))
	if err != nil {
		t.Fatal(err)
	}
	if replay.Command == nil {
		t.Fatal("replay must re-receive the issued command")
	}
	if replay.Command.Seq != first.Command.Seq || replay.Command.PlanHash != first.Command.PlanHash {
		t.Error("replay response differs from the original")
	}

	// A later heartbeat while the command is still ISSUED gets nothing.
	later, err := svc.Process(context.Background(), hbReq("auv-1", 6))
	if err != nil {
		t.Fatal(err)
	}
	if later.Command != nil {
		t.Error("an ISSUED command must not be dispensed again on a new heartbeat")
	}
}

func TestProcess_ReplayDoesNotRegressRollup(t *testing.T) {
	svc, st := newService(t)

	for _, seq := range []uint64{1, 2} {
		req := hbReq("auv-1", seq)
		if seq == 2 {
			req.State = fleet.StateDive
		}
		if _, err := svc.Process(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}

	// Replay of seq 1 arrives late.
	if _, err := svc.Process(context.Background(), hbReq("auv-1", 1)); err != nil {
		t.Fatal(err)
	}

	d, err := st.Device(context.Background(), "auv-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.LastHBSeq == nil || *d.LastHBSeq != 2 {
		t.Errorf("got rollup seq %v, want 2", d.LastHBSeq)
	}
	if d.LastState != fleet.StateDive {
		t.Errorf("got state %s, want DIVE", d.LastState)
	}
}

func TestProcess_Validation(t *testing.T) {
	svc, _ := newService(t)

	tests := []struct {
		name string
		req  api.HeartbeatRequest
	}{
		{"missing mid", api.HeartbeatRequest{State: "SURFACE_WAIT", TsUTC: testTime}},
		{"missing state", api.HeartbeatRequest{MID: "auv-1", TsUTC: testTime}},
		{"missing ts", api.HeartbeatRequest{MID: "auv-1", State: "SURFACE_WAIT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Process(context.Background(), tt.req)
			var verr *fleet.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("got %v, want ValidationError", err)
			}
		})
	}
}

func TestProcess_RollupCarriesSensors(t *testing.T) {
	svc, st := newService(t)

	soc := 87.5
	req := hbReq("auv-1", 1)
	req.FW = "1.4.2"
	req.Position = &api.Position{Lat: 35.1, Lon: 139.62}
	req.Power = &api.Power{SOC: &soc}
	if _, err := svc.Process(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	d, err := st.Device(context.Background(), "auv-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.FW != "1.4.2" {
		t.Errorf("got fw %q", d.FW)
	}
	var pos api.Position
	if err := json.Unmarshal(d.LastPos, &pos); err != nil {
		t.Fatalf("position snapshot: %v", err)
	}
	if pos.Lat != 35.1 {
		t.Errorf("got lat %v", pos.Lat)
	}
}
