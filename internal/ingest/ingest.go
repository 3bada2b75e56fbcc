// Package ingest absorbs vehicle heartbeats and dispenses pending
// commands on the same request — the half-duplex command channel.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"triton/internal/fleet"
	"triton/internal/store"
	"triton/pkg/api"
)

const nextHBSeconds = 15

// Service processes heartbeats. Clock is injectable for tests and
// defaults to time.Now.
type Service struct {
	Store *store.Store
	Clock func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Process validates and persists one heartbeat and returns the response,
// all within a single transaction: either the frame is logged and a
// command (possibly) dispensed, or neither.
//
// Replays are expected on the wire (the firmware retransmits on poor
// cellular links): a frame whose (mid, hb_seq) already exists re-returns
// whatever command was issued against that hb_seq, not the next one.
func (s *Service) Process(ctx context.Context, req api.HeartbeatRequest) (api.HeartbeatResponse, error) {
	resp := api.HeartbeatResponse{Ack: true, NextHBSeconds: nextHBSeconds}

	if err := validate(req); err != nil {
		return resp, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("marshal heartbeat payload: %w", err)
	}
	now := s.now()

	err = s.Store.WithTx(ctx, func(tx *store.Tx) error {
		inserted, err := tx.InsertHeartbeat(ctx, fleet.Heartbeat{
			MID:        req.MID,
			HBSeq:      req.HBSeq,
			TsUTC:      req.TsUTC,
			Payload:    payload,
			ReceivedAt: now,
		})
		if err != nil {
			return err
		}

		if !inserted {
			// Replay: re-dispense whatever this hb_seq pulled originally.
			cmd, err := tx.CommandIssuedAtHB(ctx, req.MID, req.HBSeq)
			if err != nil {
				return err
			}
			if cmd != nil {
				resp.Command = envelope(*cmd)
			}
			return tx.AppendEvent(ctx, req.MID, fleet.EventHeartbeat, map[string]any{
				"hb_seq":    req.HBSeq,
				"state":     req.State,
				"duplicate": true,
			}, now)
		}

		if err := tx.UpsertDeviceRollup(ctx, rollup(req, now)); err != nil {
			return err
		}

		cmd, err := dispense(ctx, tx, req.MID, req.HBSeq, now)
		if err != nil {
			return err
		}
		if cmd != nil {
			resp.Command = envelope(*cmd)
			if err := tx.AppendEvent(ctx, req.MID, fleet.EventCommandIssued, map[string]any{
				"cmd_seq": cmd.Seq,
				"cmd":     cmd.Cmd,
				"hb_seq":  req.HBSeq,
			}, now); err != nil {
				return err
			}
		}

		return tx.AppendEvent(ctx, req.MID, fleet.EventHeartbeat, map[string]any{
			"hb_seq":           req.HBSeq,
			"state":            req.State,
			"command_returned": resp.Command != nil,
		}, now)
	})
	if err != nil {
		return resp, err
	}

	slog.Debug("heartbeat processed",
		"mid", req.MID, "hb_seq", req.HBSeq, "state", req.State,
		"command", resp.Command != nil)
	return resp, nil
}

// dispense claims the oldest QUEUED command for mid via the guarded
// QUEUED->ISSUED move. A lost race is retried once with the next
// candidate; after that the slot stays empty until the next heartbeat.
func dispense(ctx context.Context, tx *store.Tx, mid string, hbSeq uint64, now time.Time) (*fleet.Command, error) {
	candidates, err := tx.QueuedOldestFirst(ctx, mid, 2)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		won, err := tx.Issue(ctx, c.ID, hbSeq, now)
		if err != nil {
			return nil, err
		}
		if won {
			issued := c
			issued.Status = fleet.StatusIssued
			issued.IssuedHBSeq = &hbSeq
			t := now.UTC()
			issued.IssuedAt = &t
			return &issued, nil
		}
	}
	return nil, nil
}

func envelope(c fleet.Command) *api.CommandEnvelope {
	return &api.CommandEnvelope{
		Seq:      c.Seq,
		Cmd:      string(c.Cmd),
		Args:     c.Args,
		PlanHash: c.PlanHash,
	}
}

func rollup(req api.HeartbeatRequest, now time.Time) fleet.Device {
	hbSeq := req.HBSeq
	d := fleet.Device{
		MID:        req.MID,
		FW:         req.FW,
		LastState:  req.State,
		LastHBSeq:  &hbSeq,
		LastSeenAt: now,
		LastPos:    marshalOptional(req.Position),
		LastPwr:    marshalOptional(req.Power),
		LastEnv:    marshalOptional(req.Environment),
		LastNet:    marshalOptional(req.Network),
	}
	if req.Exec != nil {
		d.LastExecCmdSeq = req.Exec.LastCmdSeq
		d.LastExecStatus = req.Exec.Status
	}
	return d
}

func marshalOptional(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	switch t := v.(type) {
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

func validate(req api.HeartbeatRequest) error {
	if req.MID == "" {
		return fleet.Validationf("mid", "is required")
	}
	if req.State == "" {
		return fleet.Validationf("state", "is required")
	}
	if req.TsUTC.IsZero() {
		return fleet.Validationf("ts_utc", "is required")
	}
	return nil
}
