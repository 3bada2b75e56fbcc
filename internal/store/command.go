package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triton/internal/fleet"
)

const commandCols = `id, mid, seq, cmd, args, plan_hash, status, issued_by,
	issued_hb_seq, created_at, updated_at, issued_at, executing_at, completed_at`

func scanCommand(row interface{ Scan(...any) error }) (fleet.Command, error) {
	var (
		c                  fleet.Command
		seq                int64
		cmd, status        string
		args               string
		issuedHB           sql.NullInt64
		createdAt, updAt   string
		issAt, exAt, cmpAt sql.NullString
	)
	if err := row.Scan(&c.ID, &c.MID, &seq, &cmd, &args, &c.PlanHash, &status,
		&c.IssuedBy, &issuedHB, &createdAt, &updAt, &issAt, &exAt, &cmpAt); err != nil {
		return c, err
	}
	c.Seq = uint64(seq)
	c.Cmd = fleet.CommandKind(cmd)
	c.Args = []byte(args)
	c.Status = fleet.CommandStatus(status)
	c.IssuedHBSeq = u64Ptr(issuedHB)
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = parseTime(updAt); err != nil {
		return c, err
	}
	if c.IssuedAt, err = parseTimePtr(issAt); err != nil {
		return c, err
	}
	if c.ExecutingAt, err = parseTimePtr(exAt); err != nil {
		return c, err
	}
	if c.CompletedAt, err = parseTimePtr(cmpAt); err != nil {
		return c, err
	}
	return c, nil
}

// EnqueueCommand inserts a QUEUED command, allocating the per-device seq
// as max(seq)+1 inside the caller's transaction. It fails with
// fleet.ErrConflict while any command for the device is still in flight:
// the COUNT pre-check catches it up front, and the partial unique index
// on in-flight commands catches any writer that slipped past it.
func (s *queries) EnqueueCommand(ctx context.Context, mid string, kind fleet.CommandKind, args []byte, planHash, issuedBy string, now time.Time) (fleet.Command, error) {
	var c fleet.Command

	var inFlight int
	err := s.q.QueryRowContext(ctx, `
SELECT COUNT(*) FROM commands WHERE mid = ? AND status IN (?, ?, ?)`,
		mid, fleet.StatusQueued, fleet.StatusIssued, fleet.StatusExecuting).Scan(&inFlight)
	if err != nil {
		return c, fmt.Errorf("count in-flight commands for %s: %w", mid, err)
	}
	if inFlight > 0 {
		return c, fmt.Errorf("enqueue for %s: %w", mid, fleet.ErrConflict)
	}

	var maxSeq sql.NullInt64
	if err := s.q.QueryRowContext(ctx, `SELECT MAX(seq) FROM commands WHERE mid = ?`, mid).Scan(&maxSeq); err != nil {
		return c, fmt.Errorf("allocate command seq for %s: %w", mid, err)
	}
	seq := maxSeq.Int64 + 1

	res, err := s.q.ExecContext(ctx, `
INSERT INTO commands (mid, seq, cmd, args, plan_hash, status, issued_by, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mid, seq, string(kind), string(args), planHash, fleet.StatusQueued, issuedBy,
		fmtTime(now), fmtTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return c, fmt.Errorf("enqueue for %s: %w", mid, fleet.ErrConflict)
		}
		return c, fmt.Errorf("insert command for %s: %w", mid, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return c, fmt.Errorf("insert command for %s: %w", mid, err)
	}

	c = fleet.Command{
		ID:        id,
		MID:       mid,
		Seq:       uint64(seq),
		Cmd:       kind,
		Args:      args,
		PlanHash:  planHash,
		Status:    fleet.StatusQueued,
		IssuedBy:  issuedBy,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	return c, nil
}

// Transition is the guarded state move: UPDATE ... WHERE id AND status.
// A false return means another worker moved the row first; callers must
// re-read and decide. Timestamps are stamped per target state.
func (s *queries) Transition(ctx context.Context, id int64, from, to fleet.CommandStatus, now time.Time) (bool, error) {
	query := `UPDATE commands SET status = ?, updated_at = ?`
	args := []any{to, fmtTime(now)}
	switch to {
	case fleet.StatusExecuting:
		query += `, executing_at = ?`
		args = append(args, fmtTime(now))
	case fleet.StatusCompleted, fleet.StatusCanceled, fleet.StatusExpired, fleet.StatusError:
		query += `, completed_at = ?`
		args = append(args, fmtTime(now))
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition command %d %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition command %d %s->%s: %w", id, from, to, err)
	}
	return n > 0, nil
}

// Issue moves QUEUED -> ISSUED and binds the issuance to the heartbeat
// that pulled it, which is what makes replayed heartbeats re-receive the
// same command.
func (s *queries) Issue(ctx context.Context, id int64, hbSeq uint64, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
UPDATE commands SET status = ?, updated_at = ?, issued_at = ?, issued_hb_seq = ?
WHERE id = ? AND status = ?`,
		fleet.StatusIssued, fmtTime(now), fmtTime(now), int64(hbSeq), id, fleet.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("issue command %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("issue command %d: %w", id, err)
	}
	return n > 0, nil
}

// QueuedOldestFirst returns the QUEUED commands for mid, oldest seq first.
func (s *queries) QueuedOldestFirst(ctx context.Context, mid string, limit int) ([]fleet.Command, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT `+commandCols+` FROM commands WHERE mid = ? AND status = ? ORDER BY seq ASC LIMIT ?`,
		mid, fleet.StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("load queued commands for %s: %w", mid, err)
	}
	defer rows.Close()

	var out []fleet.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommandIssuedAtHB returns the command whose issuance was bound to
// exactly (mid, hbSeq), regardless of its current status — a replayed
// heartbeat must see the same answer it got the first time.
func (s *queries) CommandIssuedAtHB(ctx context.Context, mid string, hbSeq uint64) (*fleet.Command, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+commandCols+` FROM commands WHERE mid = ? AND issued_hb_seq = ? LIMIT 1`,
		mid, int64(hbSeq))
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load command issued at %s/%d: %w", mid, hbSeq, err)
	}
	return &c, nil
}

// CommandByID loads one command by its global id.
func (s *queries) CommandByID(ctx context.Context, id int64) (fleet.Command, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+commandCols+` FROM commands WHERE id = ?`, id)
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("command %d: %w", id, fleet.ErrUnknownCommand)
	}
	if err != nil {
		return c, fmt.Errorf("load command %d: %w", id, err)
	}
	return c, nil
}

// CommandByMidSeq resolves the per-device sequence the vehicle references.
func (s *queries) CommandByMidSeq(ctx context.Context, mid string, seq uint64) (fleet.Command, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT `+commandCols+` FROM commands WHERE mid = ? AND seq = ?`, mid, int64(seq))
	c, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("command %s/%d: %w", mid, seq, fleet.ErrUnknownCommand)
	}
	if err != nil {
		return c, fmt.Errorf("load command %s/%d: %w", mid, seq, err)
	}
	return c, nil
}

// QueuedCreatedBefore returns QUEUED commands older than cutoff, the
// sweep's candidates.
func (s *queries) QueuedCreatedBefore(ctx context.Context, cutoff time.Time) ([]fleet.Command, error) {
	rows, err := s.q.QueryContext(ctx, `
SELECT `+commandCols+` FROM commands WHERE status = ? AND created_at < ?`,
		fleet.StatusQueued, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("load expirable commands: %w", err)
	}
	defer rows.Close()

	var out []fleet.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CommandFilter narrows ListCommands. AfterID is the pagination cursor;
// listing runs newest-first.
type CommandFilter struct {
	MID     string
	Status  fleet.CommandStatus
	From    *time.Time
	To      *time.Time
	AfterID int64
	Limit   int
}

func (s *queries) ListCommands(ctx context.Context, f CommandFilter) ([]fleet.Command, error) {
	query := `SELECT ` + commandCols + ` FROM commands WHERE 1=1`
	var args []any
	if f.MID != "" {
		query += ` AND mid = ?`
		args = append(args, f.MID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
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
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	var out []fleet.Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
