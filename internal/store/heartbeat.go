package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triton/internal/fleet"
)

// InsertHeartbeat appends one frame. The (mid, hb_seq) unique constraint
// makes duplicate frames a no-op; inserted reports whether this call won.
func (s *queries) InsertHeartbeat(ctx context.Context, hb fleet.Heartbeat) (inserted bool, err error) {
	res, err := s.q.ExecContext(ctx, `
INSERT INTO heartbeats (mid, hb_seq, ts_utc, payload, received_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (mid, hb_seq) DO NOTHING`,
		hb.MID, int64(hb.HBSeq), fmtTime(hb.TsUTC), string(hb.Payload), fmtTime(hb.ReceivedAt))
	if err != nil {
		return false, fmt.Errorf("insert heartbeat %s/%d: %w", hb.MID, hb.HBSeq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert heartbeat %s/%d: %w", hb.MID, hb.HBSeq, err)
	}
	return n > 0, nil
}

const heartbeatCols = `id, mid, hb_seq, ts_utc, payload, received_at`

func scanHeartbeat(row interface{ Scan(...any) error }) (fleet.Heartbeat, error) {
	var (
		hb           fleet.Heartbeat
		seq          int64
		tsUTC, recAt string
		payload      string
	)
	if err := row.Scan(&hb.ID, &hb.MID, &seq, &tsUTC, &payload, &recAt); err != nil {
		return hb, err
	}
	hb.HBSeq = uint64(seq)
	hb.Payload = []byte(payload)
	var err error
	if hb.TsUTC, err = parseTime(tsUTC); err != nil {
		return hb, err
	}
	if hb.ReceivedAt, err = parseTime(recAt); err != nil {
		return hb, err
	}
	return hb, nil
}

// LatestHeartbeat returns the newest frame for mid.
func (s *queries) LatestHeartbeat(ctx context.Context, mid string) (fleet.Heartbeat, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+heartbeatCols+` FROM heartbeats WHERE mid = ? ORDER BY hb_seq DESC LIMIT 1`, mid)
	hb, err := scanHeartbeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hb, fmt.Errorf("latest heartbeat for %s: %w", mid, fleet.ErrNotFound)
	}
	if err != nil {
		return hb, fmt.Errorf("latest heartbeat for %s: %w", mid, err)
	}
	return hb, nil
}

// HeartbeatFilter narrows ListHeartbeats. AfterID is the pagination
// cursor; listing runs newest-first.
type HeartbeatFilter struct {
	MID     string
	From    *time.Time
	To      *time.Time
	AfterID int64
	Limit   int
}

func (s *queries) ListHeartbeats(ctx context.Context, f HeartbeatFilter) ([]fleet.Heartbeat, error) {
	query := `SELECT ` + heartbeatCols + ` FROM heartbeats WHERE 1=1`
	var args []any
	if f.MID != "" {
		query += ` AND mid = ?`
		args = append(args, f.MID)
	}
	if f.From != nil {
		query += ` AND ts_utc >= ?`
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		query += ` AND ts_utc <= ?`
		args = append(args, fmtTime(*f.To))
	}
	if f.AfterID > 0 {
		query += ` AND id < ?`
		args = append(args, f.AfterID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	var out []fleet.Heartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// HeartbeatsAscending returns every frame for mid inside [from, to],
// ordered by hb_seq — the trajectory builder's input.
func (s *queries) HeartbeatsAscending(ctx context.Context, mid string, from, to *time.Time) ([]fleet.Heartbeat, error) {
	query := `SELECT ` + heartbeatCols + ` FROM heartbeats WHERE mid = ?`
	args := []any{mid}
	if from != nil {
		query += ` AND ts_utc >= ?`
		args = append(args, fmtTime(*from))
	}
	if to != nil {
		query += ` AND ts_utc <= ?`
		args = append(args, fmtTime(*to))
	}
	query += ` ORDER BY hb_seq ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load heartbeats for %s: %w", mid, err)
	}
	defer rows.Close()

	var out []fleet.Heartbeat
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}
