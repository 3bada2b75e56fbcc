// Package mission owns the command lifecycle around a dive: the pre-dive
// descent gate, the post-dive ascent reconciler and the expiry sweep.
package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"triton/internal/fleet"
	"triton/internal/store"
	"triton/pkg/api"
)

// Gate validates a pending dive immediately before the vehicle commits to
// it. Freshness bounds how old an issuance may be and still be executed.
type Gate struct {
	Store     *store.Store
	Freshness time.Duration
	Clock     func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

// Check runs the descent gate. The audit row is written whatever the
// decision; a failed check also cancels the issued command so the next
// heartbeat does not re-deliver it. A replayed (mid, check_seq) returns
// the recorded decision without re-evaluating.
func (g *Gate) Check(ctx context.Context, req api.DescentCheckRequest) (api.DescentCheckResponse, error) {
	var resp api.DescentCheckResponse

	if req.MID == "" {
		return resp, fleet.Validationf("mid", "is required")
	}
	if req.PlanHash == "" {
		return resp, fleet.Validationf("plan_hash", "is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal descent payload: %w", err)
	}
	now := g.now()

	err = g.Store.WithTx(ctx, func(tx *store.Tx) error {
		// Replay detection runs before the decision so a replayed
		// check_seq never touches command state.
		prev, err := tx.DescentCheck(ctx, req.MID, req.CheckSeq)
		if err == nil {
			resp = api.DescentCheckResponse{OK: prev.OK, Reason: prev.Reason}
			return nil
		}
		if !errors.Is(err, fleet.ErrNotFound) {
			return err
		}

		ok, reason, err := g.decide(ctx, tx, req, now)
		if err != nil {
			return err
		}

		inserted, err := tx.InsertDescentCheck(ctx, fleet.DescentCheck{
			MID:       req.MID,
			CheckSeq:  req.CheckSeq,
			CmdSeq:    req.CmdSeq,
			PlanHash:  req.PlanHash,
			OK:        ok,
			Reason:    reason,
			Payload:   payload,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// A concurrent check for the same (mid, check_seq) won the
			// insert after our lookup. Fail so the whole transaction,
			// the decision's transition included, rolls back.
			return fmt.Errorf("descent check %s/%d: %w", req.MID, req.CheckSeq, fleet.ErrConflict)
		}

		if err := tx.TouchDevice(ctx, descentRollup(req, ok, now)); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, req.MID, fleet.EventDescentCheck, map[string]any{
			"check_seq": req.CheckSeq,
			"cmd_seq":   req.CmdSeq,
			"ok":        ok,
			"reason":    reason,
		}, now); err != nil {
			return err
		}

		resp = api.DescentCheckResponse{OK: ok, Reason: reason}
		return nil
	})
	if err != nil {
		return resp, err
	}

	slog.Info("descent check",
		"mid", req.MID, "check_seq", req.CheckSeq, "cmd_seq", req.CmdSeq,
		"ok", resp.OK, "reason", resp.Reason)
	return resp, nil
}

// decide applies the gate rules and performs the resulting command
// transition. The returned reason is empty iff ok.
func (g *Gate) decide(ctx context.Context, tx *store.Tx, req api.DescentCheckRequest, now time.Time) (bool, string, error) {
	cmd, err := tx.CommandByMidSeq(ctx, req.MID, req.CmdSeq)
	if err != nil {
		if errors.Is(err, fleet.ErrUnknownCommand) {
			return false, fleet.ReasonUnknownCommand, nil
		}
		return false, "", err
	}

	if cmd.Status != fleet.StatusIssued {
		return false, fleet.ReasonBadState, nil
	}

	expected, err := fleet.PlanHash(cmd.Cmd, cmd.Args)
	if err != nil {
		return false, "", err
	}
	if expected != req.PlanHash {
		return false, fleet.ReasonPlanMismatch, g.cancel(ctx, tx, cmd, fleet.ReasonPlanMismatch, now)
	}

	if cmd.IssuedAt == nil || now.Sub(*cmd.IssuedAt) > g.Freshness {
		return false, fleet.ReasonStale, g.cancel(ctx, tx, cmd, fleet.ReasonStale, now)
	}

	moved, err := tx.Transition(ctx, cmd.ID, fleet.StatusIssued, fleet.StatusExecuting, now)
	if err != nil {
		return false, "", err
	}
	if !moved {
		// Lost a race; whoever moved it owns the outcome now.
		return false, fleet.ReasonBadState, nil
	}
	return true, "", nil
}

// cancel moves an ISSUED command to CANCELED after a failed gate. The
// transition is guarded; losing the race is fine, the command is no
// longer ours to cancel.
func (g *Gate) cancel(ctx context.Context, tx *store.Tx, cmd fleet.Command, reason string, now time.Time) error {
	moved, err := tx.Transition(ctx, cmd.ID, fleet.StatusIssued, fleet.StatusCanceled, now)
	if err != nil {
		return err
	}
	if moved {
		return tx.AppendEvent(ctx, cmd.MID, fleet.EventCommandCanceled, map[string]any{
			"cmd_seq": cmd.Seq,
			"reason":  reason,
		}, now)
	}
	return nil
}

func descentRollup(req api.DescentCheckRequest, ok bool, now time.Time) fleet.Device {
	d := fleet.Device{
		MID:        req.MID,
		FW:         req.FW,
		LastState:  fleet.StateDescentCheck,
		LastSeenAt: now,
	}
	if ok {
		seq := req.CmdSeq
		d.LastExecCmdSeq = &seq
		d.LastExecStatus = fleet.ExecRunning
	}
	if len(req.HK) > 0 {
		var hk struct {
			Pos json.RawMessage `json:"pos"`
			Pwr json.RawMessage `json:"pwr"`
			Env json.RawMessage `json:"env"`
			Net json.RawMessage `json:"net"`
		}
		if err := json.Unmarshal(req.HK, &hk); err == nil {
			d.LastPos, d.LastPwr, d.LastEnv, d.LastNet = hk.Pos, hk.Pwr, hk.Env, hk.Net
		}
	}
	return d
}
