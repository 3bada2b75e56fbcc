package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"triton/internal/fleet"
)

// UpsertDeviceRollup writes the heartbeat-path rollup. The update only
// lands when the incoming hb_seq is at least the stored one, so late or
// duplicate frames never clobber a newer snapshot.
func (s *queries) UpsertDeviceRollup(ctx context.Context, d fleet.Device) error {
	_, err := s.q.ExecContext(ctx, `
INSERT INTO devices (mid, fw, last_state, last_hb_seq, last_seen_at,
	last_exec_cmd_seq, last_exec_status, last_pos, last_pwr, last_env, last_net)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (mid) DO UPDATE SET
	fw = excluded.fw,
	last_state = excluded.last_state,
	last_hb_seq = excluded.last_hb_seq,
	last_seen_at = excluded.last_seen_at,
	last_exec_cmd_seq = excluded.last_exec_cmd_seq,
	last_exec_status = excluded.last_exec_status,
	last_pos = excluded.last_pos,
	last_pwr = excluded.last_pwr,
	last_env = excluded.last_env,
	last_net = excluded.last_net
WHERE devices.last_hb_seq IS NULL OR excluded.last_hb_seq >= devices.last_hb_seq`,
		d.MID, d.FW, d.LastState, nullU64(d.LastHBSeq), fmtTime(d.LastSeenAt),
		nullU64(d.LastExecCmdSeq), d.LastExecStatus,
		nullJSON(d.LastPos), nullJSON(d.LastPwr), nullJSON(d.LastEnv), nullJSON(d.LastNet))
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", d.MID, err)
	}
	return nil
}

// TouchDevice refreshes the non-sequence rollup fields from a descent or
// ascent interaction. last_hb_seq is never written here; rollup
// monotonicity belongs to the heartbeat path alone.
func (s *queries) TouchDevice(ctx context.Context, d fleet.Device) error {
	_, err := s.q.ExecContext(ctx, `
INSERT INTO devices (mid, fw, last_state, last_hb_seq, last_seen_at,
	last_exec_cmd_seq, last_exec_status, last_pos, last_pwr, last_env, last_net)
VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (mid) DO UPDATE SET
	fw = excluded.fw,
	last_state = excluded.last_state,
	last_seen_at = excluded.last_seen_at,
	last_exec_cmd_seq = COALESCE(excluded.last_exec_cmd_seq, devices.last_exec_cmd_seq),
	last_exec_status = CASE WHEN excluded.last_exec_status != '' THEN excluded.last_exec_status ELSE devices.last_exec_status END,
	last_pos = COALESCE(excluded.last_pos, devices.last_pos),
	last_pwr = COALESCE(excluded.last_pwr, devices.last_pwr),
	last_env = COALESCE(excluded.last_env, devices.last_env),
	last_net = COALESCE(excluded.last_net, devices.last_net)`,
		d.MID, d.FW, d.LastState, fmtTime(d.LastSeenAt),
		nullU64(d.LastExecCmdSeq), d.LastExecStatus,
		nullJSON(d.LastPos), nullJSON(d.LastPwr), nullJSON(d.LastEnv), nullJSON(d.LastNet))
	if err != nil {
		return fmt.Errorf("touch device %s: %w", d.MID, err)
	}
	return nil
}

const deviceCols = `mid, fw, last_state, last_hb_seq, last_seen_at,
	last_exec_cmd_seq, last_exec_status, last_pos, last_pwr, last_env, last_net`

func scanDevice(row interface{ Scan(...any) error }) (fleet.Device, error) {
	var (
		d          fleet.Device
		hbSeq      sql.NullInt64
		seenAt     string
		execSeq    sql.NullInt64
		execStatus sql.NullString
		pos, pwr   sql.NullString
		env, net   sql.NullString
	)
	if err := row.Scan(&d.MID, &d.FW, &d.LastState, &hbSeq, &seenAt,
		&execSeq, &execStatus, &pos, &pwr, &env, &net); err != nil {
		return d, err
	}
	d.LastHBSeq = u64Ptr(hbSeq)
	d.LastExecCmdSeq = u64Ptr(execSeq)
	d.LastExecStatus = execStatus.String
	d.LastPos, d.LastPwr = jsonCol(pos), jsonCol(pwr)
	d.LastEnv, d.LastNet = jsonCol(env), jsonCol(net)
	var err error
	if d.LastSeenAt, err = parseTime(seenAt); err != nil {
		return d, err
	}
	return d, nil
}

// Device loads one rollup row by machine id.
func (s *queries) Device(ctx context.Context, mid string) (fleet.Device, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+deviceCols+` FROM devices WHERE mid = ?`, mid)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("device %s: %w", mid, fleet.ErrUnknownDevice)
	}
	if err != nil {
		return d, fmt.Errorf("load device %s: %w", mid, err)
	}
	return d, nil
}

// DeviceFilter narrows ListDevices. AfterMID is the pagination cursor.
type DeviceFilter struct {
	State    string
	AfterMID string
	Limit    int
}

// ListDevices returns rollups ordered by mid ascending.
func (s *queries) ListDevices(ctx context.Context, f DeviceFilter) ([]fleet.Device, error) {
	query := `SELECT ` + deviceCols + ` FROM devices WHERE mid > ?`
	args := []any{f.AfterMID}
	if f.State != "" {
		query += ` AND last_state = ?`
		args = append(args, f.State)
	}
	query += ` ORDER BY mid ASC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []fleet.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
