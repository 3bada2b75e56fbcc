package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"triton/internal/fleet"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testHeartbeat(mid string, seq uint64) fleet.Heartbeat {
	return fleet.Heartbeat{
		MID:        mid,
		HBSeq:      seq,
		TsUTC:      testTime,
		Payload:    json.RawMessage(`{"state":"SURFACE_WAIT"}`),
		ReceivedAt: testTime.Add(2 * time.Second),
	}
}

// --- heartbeats ---

func TestInsertHeartbeat_DuplicateCollapses(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	inserted, err := st.InsertHeartbeat(ctx, testHeartbeat("auv-1", 7))
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first insert should win")
	}

	inserted, err = st.InsertHeartbeat(ctx, testHeartbeat("auv-1", 7))
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("duplicate (mid, hb_seq) must be a no-op")
	}

	hbs, err := st.HeartbeatsAscending(ctx, "auv-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hbs) != 1 {
		t.Errorf("got %d rows, want 1", len(hbs))
	}
}

func TestInsertHeartbeat_SameSeqDifferentDevice(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, mid := range []string{"auv-1", "auv-2"} {
		inserted, err := st.InsertHeartbeat(ctx, testHeartbeat(mid, 7))
		if err != nil {
			t.Fatal(err)
		}
		if !inserted {
			t.Errorf("insert for %s should win", mid)
		}
	}
}

func TestLatestHeartbeat(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		if _, err := st.InsertHeartbeat(ctx, testHeartbeat("auv-1", seq)); err != nil {
			t.Fatal(err)
		}
	}

	hb, err := st.LatestHeartbeat(ctx, "auv-1")
	if err != nil {
		t.Fatal(err)
	}
	if hb.HBSeq != 3 {
		t.Errorf("got seq %d, want 3", hb.HBSeq)
	}

	if _, err := st.LatestHeartbeat(ctx, "nope"); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// --- device rollup ---

func TestUpsertDeviceRollup_Monotone(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seq5, seq3 := uint64(5), uint64(3)
	if err := st.UpsertDeviceRollup(ctx, fleet.Device{
		MID: "auv-1", LastState: fleet.StateDive, LastHBSeq: &seq5, LastSeenAt: testTime,
	}); err != nil {
		t.Fatal(err)
	}

	// A late frame with an older seq must not clobber the rollup.
	if err := st.UpsertDeviceRollup(ctx, fleet.Device{
		MID: "auv-1", LastState: fleet.StateSurfaceWait, LastHBSeq: &seq3, LastSeenAt: testTime.Add(time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	d, err := st.Device(ctx, "auv-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.LastHBSeq == nil || *d.LastHBSeq != 5 {
		t.Errorf("got seq %v, want 5", d.LastHBSeq)
	}
	if d.LastState != fleet.StateDive {
		t.Errorf("got state %s, want DIVE", d.LastState)
	}
}

func TestTouchDevice_PreservesSnapshots(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seq := uint64(1)
	if err := st.UpsertDeviceRollup(ctx, fleet.Device{
		MID: "auv-1", LastState: fleet.StateSurfaceWait, LastHBSeq: &seq,
		LastSeenAt: testTime, LastPos: json.RawMessage(`{"lat":35.1,"lon":139.6}`),
	}); err != nil {
		t.Fatal(err)
	}

	// A touch without a position snapshot keeps the old one.
	if err := st.TouchDevice(ctx, fleet.Device{
		MID: "auv-1", LastState: fleet.StateDescentCheck, LastSeenAt: testTime.Add(time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	d, err := st.Device(ctx, "auv-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.LastState != fleet.StateDescentCheck {
		t.Errorf("got state %s, want DESCENT_CHECK", d.LastState)
	}
	if len(d.LastPos) == 0 {
		t.Error("position snapshot was dropped")
	}
	if d.LastHBSeq == nil || *d.LastHBSeq != 1 {
		t.Error("touch must not change last_hb_seq")
	}
}

func TestDevice_Unknown(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Device(context.Background(), "ghost"); !errors.Is(err, fleet.ErrUnknownDevice) {
		t.Errorf("got %v, want ErrUnknownDevice", err)
	}
}

// --- commands ---

func TestEnqueueCommand_SeqAllocationAndConflict(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	args := json.RawMessage(`{"target_depth_m":30}`)

	c1, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, args, "h1", "op", testTime)
	if err != nil {
		t.Fatal(err)
	}
	if c1.Seq != 1 {
		t.Errorf("got seq %d, want 1", c1.Seq)
	}

	// One in-flight command per device.
	if _, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, args, "h2", "op", testTime); !errors.Is(err, fleet.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	// A terminal command frees the slot; seq keeps counting.
	if _, err := st.Transition(ctx, c1.ID, fleet.StatusQueued, fleet.StatusCanceled, testTime); err != nil {
		t.Fatal(err)
	}
	c2, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, args, "h3", "op", testTime)
	if err != nil {
		t.Fatal(err)
	}
	if c2.Seq != 2 {
		t.Errorf("got seq %d, want 2", c2.Seq)
	}
}

func TestEnqueueCommand_ParallelOneWinner(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	args := json.RawMessage(`{"target_depth_m":30}`)

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = st.WithTx(ctx, func(tx *Tx) error {
				_, err := tx.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, args, "h1", "op", testTime)
				return err
			})
		}()
	}
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, fleet.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	}
	if won != 1 || conflicts != writers-1 {
		t.Errorf("got %d winners and %d conflicts, want 1 and %d", won, conflicts, writers-1)
	}
}

func TestTransition_Guarded(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, json.RawMessage(`{}`), "h", "op", testTime)
	if err != nil {
		t.Fatal(err)
	}

	moved, err := st.Transition(ctx, c.ID, fleet.StatusIssued, fleet.StatusExecuting, testTime)
	if err != nil {
		t.Fatal(err)
	}
	if moved {
		t.Error("transition with wrong precondition must not move")
	}

	moved, err = st.Transition(ctx, c.ID, fleet.StatusQueued, fleet.StatusExpired, testTime)
	if err != nil {
		t.Fatal(err)
	}
	if !moved {
		t.Fatal("expected QUEUED -> EXPIRED to move")
	}

	got, err := st.CommandByID(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != fleet.StatusExpired {
		t.Errorf("got %s, want EXPIRED", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("terminal transition must stamp completed_at")
	}
}

func TestIssue_BindsHeartbeat(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, json.RawMessage(`{}`), "h", "op", testTime)
	if err != nil {
		t.Fatal(err)
	}

	moved, err := st.Issue(ctx, c.ID, 42, testTime)
	if err != nil {
		t.Fatal(err)
	}
	if !moved {
		t.Fatal("expected issue to move a QUEUED command")
	}

	// Issue is not repeatable.
	moved, err = st.Issue(ctx, c.ID, 43, testTime)
	if err != nil {
		t.Fatal(err)
	}
	if moved {
		t.Error("second issue must not move")
	}

	bound, err := st.CommandIssuedAtHB(ctx, "auv-1", 42)
	if err != nil {
		t.Fatal(err)
	}
	if bound == nil || bound.ID != c.ID {
		t.Fatal("command not found by its issuing heartbeat")
	}
	if bound.IssuedHBSeq == nil || *bound.IssuedHBSeq != 42 {
		t.Errorf("got issued_hb_seq %v, want 42", bound.IssuedHBSeq)
	}

	// A different heartbeat seq sees nothing.
	other, err := st.CommandIssuedAtHB(ctx, "auv-1", 43)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Error("lookup must match the issuing seq exactly")
	}
}

func TestQueuedCreatedBefore(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	old, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, json.RawMessage(`{}`), "h", "op", testTime)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.EnqueueCommand(ctx, "auv-2", fleet.KindRunDive, json.RawMessage(`{}`), "h", "op", testTime.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, err := st.QueuedCreatedBefore(ctx, testTime.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Errorf("got %d candidates, want only the old command", len(got))
	}
}

// --- descent checks and dives ---

func TestInsertDescentCheck_Replay(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	dc := fleet.DescentCheck{
		MID: "auv-1", CheckSeq: 1, CmdSeq: 1, PlanHash: "h",
		OK: true, Payload: json.RawMessage(`{}`), CreatedAt: testTime,
	}
	inserted, err := st.InsertDescentCheck(ctx, dc)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first insert should win")
	}

	// Replay with a different verdict must not overwrite.
	dc.OK = false
	dc.Reason = fleet.ReasonStale
	inserted, err = st.InsertDescentCheck(ctx, dc)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("replayed check_seq must be a no-op")
	}

	got, err := st.DescentCheck(ctx, "auv-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.OK {
		t.Error("recorded decision was overwritten by replay")
	}
}

func TestDive_InsertUpdateLookup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	ok := true
	start, end := testTime, testTime.Add(20*time.Minute)
	d, err := st.InsertDive(ctx, fleet.Dive{
		MID: "auv-1", CmdSeq: 1, OK: &ok,
		Summary:   json.RawMessage(`{"max_depth_m":28.5}`),
		StartedAt: &start, EndedAt: &end, CreatedAt: end,
	})
	if err != nil {
		t.Fatal(err)
	}

	byCmd, err := st.DiveByCmd(ctx, "auv-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if byCmd == nil || byCmd.ID != d.ID {
		t.Fatal("dive not found by command seq")
	}

	notOK := false
	byCmd.OK = &notOK
	if err := st.UpdateDive(ctx, *byCmd); err != nil {
		t.Fatal(err)
	}

	got, err := st.DiveByID(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.OK == nil || *got.OK {
		t.Error("update did not land")
	}

	if _, err := st.DiveByID(ctx, 999); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// --- events, reset, transactions ---

func TestAppendAndListEvents(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.AppendEvent(ctx, "auv-1", fleet.EventHeartbeat, map[string]any{"hb_seq": 1}, testTime); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendEvent(ctx, "auv-1", fleet.EventCommandQueued, map[string]any{"cmd_seq": 1}, testTime); err != nil {
		t.Fatal(err)
	}

	events, err := st.ListEvents(ctx, EventFilter{MID: "auv-1", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	only, err := st.ListEvents(ctx, EventFilter{MID: "auv-1", Type: fleet.EventHeartbeat, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(only) != 1 || only[0].Type != fleet.EventHeartbeat {
		t.Error("type filter did not narrow")
	}
}

func TestReset(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.InsertHeartbeat(ctx, testHeartbeat("auv-1", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, json.RawMessage(`{}`), "h", "op", testTime); err != nil {
		t.Fatal(err)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatal(err)
	}

	hbs, err := st.HeartbeatsAscending(ctx, "auv-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hbs) != 0 {
		t.Error("heartbeats survived reset")
	}

	// Autoincrement restarts.
	c, err := st.EnqueueCommand(ctx, "auv-1", fleet.KindRunDive, json.RawMessage(`{}`), "h", "op", testTime)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 1 {
		t.Errorf("got id %d after reset, want 1", c.ID)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := st.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertHeartbeat(ctx, testHeartbeat("auv-1", 1)); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want sentinel", err)
	}

	hbs, err := st.HeartbeatsAscending(ctx, "auv-1", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hbs) != 0 {
		t.Error("rolled-back insert is visible")
	}
}
