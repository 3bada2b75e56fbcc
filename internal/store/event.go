package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"triton/internal/fleet"
)

// AppendEvent writes one diagnostic record. detail is marshaled to JSON;
// it is advisory data, so a marshal failure degrades to an empty object
// rather than failing the surrounding transaction.
func (s *queries) AppendEvent(ctx context.Context, mid, eventType string, detail any, now time.Time) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = []byte("{}")
	}
	if _, err := s.q.ExecContext(ctx, `
INSERT INTO event_logs (mid, event_type, detail, created_at) VALUES (?, ?, ?, ?)`,
		mid, eventType, string(raw), fmtTime(now)); err != nil {
		return fmt.Errorf("append event %s: %w", eventType, err)
	}
	return nil
}

// EventFilter narrows ListEvents. AfterID is the pagination cursor.
type EventFilter struct {
	MID     string
	Type    string
	From    *time.Time
	To      *time.Time
	AfterID int64
	Limit   int
}

func (s *queries) ListEvents(ctx context.Context, f EventFilter) ([]fleet.Event, error) {
	query := `SELECT id, mid, event_type, detail, created_at FROM event_logs WHERE 1=1`
	var args []any
	if f.MID != "" {
		query += ` AND mid = ?`
		args = append(args, f.MID)
	}
	if f.Type != "" {
		query += ` AND event_type = ?`
		args = append(args, f.Type)
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
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []fleet.Event
	for rows.Next() {
		var (
			e         fleet.Event
			detail    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.MID, &e.Type, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Detail = []byte(detail)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
