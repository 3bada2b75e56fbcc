package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"triton/internal/fleet"
)

// InsertDescentCheck appends one audit row; (mid, check_seq) duplicates
// are a no-op and inserted reports whether this call won.
func (s *queries) InsertDescentCheck(ctx context.Context, dc fleet.DescentCheck) (inserted bool, err error) {
	res, err := s.q.ExecContext(ctx, `
INSERT INTO descent_checks (mid, check_seq, cmd_seq, plan_hash, ok, reason, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (mid, check_seq) DO NOTHING`,
		dc.MID, int64(dc.CheckSeq), int64(dc.CmdSeq), dc.PlanHash, dc.OK, dc.Reason,
		string(dc.Payload), fmtTime(dc.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert descent check %s/%d: %w", dc.MID, dc.CheckSeq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert descent check %s/%d: %w", dc.MID, dc.CheckSeq, err)
	}
	return n > 0, nil
}

const descentCols = `id, mid, check_seq, cmd_seq, plan_hash, ok, reason, payload, created_at`

func scanDescentCheck(row interface{ Scan(...any) error }) (fleet.DescentCheck, error) {
	var (
		dc               fleet.DescentCheck
		checkSeq, cmdSeq int64
		payload          string
		createdAt        string
	)
	if err := row.Scan(&dc.ID, &dc.MID, &checkSeq, &cmdSeq, &dc.PlanHash,
		&dc.OK, &dc.Reason, &payload, &createdAt); err != nil {
		return dc, err
	}
	dc.CheckSeq = uint64(checkSeq)
	dc.CmdSeq = uint64(cmdSeq)
	dc.Payload = []byte(payload)
	var err error
	if dc.CreatedAt, err = parseTime(createdAt); err != nil {
		return dc, err
	}
	return dc, nil
}

// DescentCheck loads the recorded decision for (mid, check_seq).
func (s *queries) DescentCheck(ctx context.Context, mid string, checkSeq uint64) (fleet.DescentCheck, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+descentCols+` FROM descent_checks WHERE mid = ? AND check_seq = ?`,
		mid, int64(checkSeq))
	dc, err := scanDescentCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return dc, fmt.Errorf("descent check %s/%d: %w", mid, checkSeq, fleet.ErrNotFound)
	}
	if err != nil {
		return dc, fmt.Errorf("load descent check %s/%d: %w", mid, checkSeq, err)
	}
	return dc, nil
}
