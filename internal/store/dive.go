package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triton/internal/fleet"
)

const diveCols = `id, mid, cmd_seq, ok, summary, started_at, ended_at, created_at`

func scanDive(row interface{ Scan(...any) error }) (fleet.Dive, error) {
	var (
		d            fleet.Dive
		cmdSeq       int64
		ok           sql.NullBool
		summary      sql.NullString
		startA, endA sql.NullString
		createdAt    string
	)
	if err := row.Scan(&d.ID, &d.MID, &cmdSeq, &ok, &summary, &startA, &endA, &createdAt); err != nil {
		return d, err
	}
	d.CmdSeq = uint64(cmdSeq)
	if ok.Valid {
		v := ok.Bool
		d.OK = &v
	}
	d.Summary = jsonCol(summary)
	var err error
	if d.StartedAt, err = parseTimePtr(startA); err != nil {
		return d, err
	}
	if d.EndedAt, err = parseTimePtr(endA); err != nil {
		return d, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return d, err
	}
	return d, nil
}

// InsertDive records one dive attempt and returns the stored row.
func (s *queries) InsertDive(ctx context.Context, d fleet.Dive) (fleet.Dive, error) {
	res, err := s.q.ExecContext(ctx, `
INSERT INTO dives (mid, cmd_seq, ok, summary, started_at, ended_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.MID, int64(d.CmdSeq), nullBool(d.OK), nullJSON(d.Summary),
		fmtTimePtr(d.StartedAt), fmtTimePtr(d.EndedAt), fmtTime(d.CreatedAt))
	if err != nil {
		return d, fmt.Errorf("insert dive %s/%d: %w", d.MID, d.CmdSeq, err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return d, fmt.Errorf("insert dive %s/%d: %w", d.MID, d.CmdSeq, err)
	}
	return d, nil
}

// UpdateDive refreshes outcome fields of an existing dive (a re-sent
// ascent report overwrites rather than duplicates).
func (s *queries) UpdateDive(ctx context.Context, d fleet.Dive) error {
	_, err := s.q.ExecContext(ctx, `
UPDATE dives SET ok = ?, summary = ?, started_at = ?, ended_at = ? WHERE id = ?`,
		nullBool(d.OK), nullJSON(d.Summary), fmtTimePtr(d.StartedAt), fmtTimePtr(d.EndedAt), d.ID)
	if err != nil {
		return fmt.Errorf("update dive %d: %w", d.ID, err)
	}
	return nil
}

// DiveByCmd looks up the dive recorded for (mid, cmd_seq); nil when none.
func (s *queries) DiveByCmd(ctx context.Context, mid string, cmdSeq uint64) (*fleet.Dive, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+diveCols+` FROM dives WHERE mid = ? AND cmd_seq = ? LIMIT 1`, mid, int64(cmdSeq))
	d, err := scanDive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dive %s/%d: %w", mid, cmdSeq, err)
	}
	return &d, nil
}

// DiveByID loads one dive by its global id.
func (s *queries) DiveByID(ctx context.Context, id int64) (fleet.Dive, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+diveCols+` FROM dives WHERE id = ?`, id)
	d, err := scanDive(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("dive %d: %w", id, fleet.ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("load dive %d: %w", id, err)
	}
	return d, nil
}

// DivesAscending returns dives for mid ordered by creation — the
// trajectory builder's dive windows.
func (s *queries) DivesAscending(ctx context.Context, mid string) ([]fleet.Dive, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT `+diveCols+` FROM dives WHERE mid = ? ORDER BY id ASC`, mid)
	if err != nil {
		return nil, fmt.Errorf("load dives for %s: %w", mid, err)
	}
	defer rows.Close()

	var out []fleet.Dive
	for rows.Next() {
		d, err := scanDive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dive: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DiveFilter narrows ListDives. AfterID is the pagination cursor.
type DiveFilter struct {
	MID     string
	OK      *bool
	From    *time.Time
	To      *time.Time
	AfterID int64
	Limit   int
}

func (s *queries) ListDives(ctx context.Context, f DiveFilter) ([]fleet.Dive, error) {
	query := `SELECT ` + diveCols + ` FROM dives WHERE 1=1`
	var args []any
	if f.MID != "" {
		query += ` AND mid = ?`
		args = append(args, f.MID)
	}
	if f.OK != nil {
		query += ` AND ok = ?`
		args = append(args, *f.OK)
	}
	if f.From != nil {
		query += ` AND created_at >= ?`
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		query += ` AND created_at <= ?`
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
		return nil, fmt.Errorf("list dives: %w", err)
	}
	defer rows.Close()

	var out []fleet.Dive
	for rows.Next() {
		d, err := scanDive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dive: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
