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

// Reconciler closes out a dive attempt reported by /ascent-notify.
type Reconciler struct {
	Store *store.Store
	Clock func() time.Time
}

func (r *Reconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// Notify records the dive outcome and transitions the command. A report
// for a command that never reached EXECUTING (the descent check was lost)
// still produces a Dive row, flagged orphan, with no command transition.
func (r *Reconciler) Notify(ctx context.Context, req api.AscentNotifyRequest) (api.AscentNotifyResponse, error) {
	resp := api.AscentNotifyResponse{Ack: true}

	if req.MID == "" {
		return resp, fleet.Validationf("mid", "is required")
	}
	if req.TsUTC.IsZero() {
		return resp, fleet.Validationf("ts_utc", "is required")
	}
	now := r.now()

	err := r.Store.WithTx(ctx, func(tx *store.Tx) error {
		orphan := false

		cmd, err := tx.CommandByMidSeq(ctx, req.MID, req.CmdSeq)
		switch {
		case errors.Is(err, fleet.ErrUnknownCommand):
			orphan = true
		case err != nil:
			return err
		case cmd.Status != fleet.StatusExecuting:
			orphan = true
		default:
			to := fleet.StatusCompleted
			if !req.OK {
				to = fleet.StatusError
			}
			moved, err := tx.Transition(ctx, cmd.ID, fleet.StatusExecuting, to, now)
			if err != nil {
				return err
			}
			if !moved {
				orphan = true
			}
		}

		if err := r.recordDive(ctx, tx, req, orphan, now); err != nil {
			return err
		}
		if err := tx.TouchDevice(ctx, ascentRollup(req, now)); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, req.MID, fleet.EventAscentNotify, map[string]any{
			"cmd_seq": req.CmdSeq,
			"ok":      req.OK,
			"orphan":  orphan,
		}, now)
	})
	if err != nil {
		return resp, err
	}

	slog.Info("ascent reconciled", "mid", req.MID, "cmd_seq", req.CmdSeq, "ok", req.OK)
	return resp, nil
}

// recordDive inserts the Dive summary, or refreshes it when the vehicle
// re-sends the report for the same command.
func (r *Reconciler) recordDive(ctx context.Context, tx *store.Tx, req api.AscentNotifyRequest, orphan bool, now time.Time) error {
	summary, err := diveSummary(req, orphan)
	if err != nil {
		return err
	}

	endedAt := req.TsUTC
	startedAt := diveStart(req.Summary, endedAt)
	ok := req.OK

	existing, err := tx.DiveByCmd(ctx, req.MID, req.CmdSeq)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.OK = &ok
		existing.Summary = summary
		existing.StartedAt = startedAt
		existing.EndedAt = &endedAt
		return tx.UpdateDive(ctx, *existing)
	}

	_, err = tx.InsertDive(ctx, fleet.Dive{
		MID:       req.MID,
		CmdSeq:    req.CmdSeq,
		OK:        &ok,
		Summary:   summary,
		StartedAt: startedAt,
		EndedAt:   &endedAt,
		CreatedAt: now,
	})
	return err
}

// diveSummary folds the orphan flag and remarks into the vehicle summary.
func diveSummary(req api.AscentNotifyRequest, orphan bool) (json.RawMessage, error) {
	m := map[string]any{}
	if len(req.Summary) > 0 {
		if err := json.Unmarshal(req.Summary, &m); err != nil {
			return nil, fleet.Validationf("summary", "is not a JSON object")
		}
	}
	if orphan {
		m["orphan"] = true
	}
	if req.Remarks != "" {
		m["remarks"] = req.Remarks
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal dive summary: %w", err)
	}
	return raw, nil
}

// diveStart back-computes started_at from the reported duration when the
// vehicle does not state it outright.
func diveStart(summary json.RawMessage, endedAt time.Time) *time.Time {
	if len(summary) == 0 {
		return nil
	}
	var s struct {
		StartedAt *time.Time `json:"started_at"`
		DurationS float64    `json:"duration_s"`
	}
	if err := json.Unmarshal(summary, &s); err != nil {
		return nil
	}
	if s.StartedAt != nil {
		return s.StartedAt
	}
	if s.DurationS > 0 {
		t := endedAt.Add(-time.Duration(s.DurationS * float64(time.Second)))
		return &t
	}
	return nil
}

func ascentRollup(req api.AscentNotifyRequest, now time.Time) fleet.Device {
	seq := req.CmdSeq
	execStatus := fleet.ExecDone
	if !req.OK {
		execStatus = fleet.ExecError
	}
	return fleet.Device{
		MID:            req.MID,
		FW:             req.FW,
		LastState:      fleet.StateSurfaceWait,
		LastSeenAt:     now,
		LastExecCmdSeq: &seq,
		LastExecStatus: execStatus,
		LastPos:        marshalJSON(req.Position),
		LastPwr:        marshalJSON(req.Power),
		LastEnv:        marshalJSON(req.Environment),
		LastNet:        marshalJSON(req.Network),
	}
}

func marshalJSON(v any) json.RawMessage {
	switch t := v.(type) {
	case nil:
		return nil
	case *api.Position:
		if t == nil {
			return nil
		}
	case *api.Power:
		if t == nil {
			return nil
		}
	case *api.Environment:
		if t == nil {
			return nil
		}
	case *api.Network:
		if t == nil {
			return nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
