// Package api defines the JSON wire contract of the Triton COM server:
// the vehicle-facing protocol (/hb, /descent-check, /ascent-notify) and
// the operator Web API (/api/v1). Server handlers, the operator CLI and
// tests all share these types.
package api

import (
	"encoding/json"
	"time"
)

// --- Vehicle wire format ---

// Position is a GPS fix. Lat/Lon of exactly (0, 0) is the firmware's
// "no fix" sentinel.
type Position struct {
	Lat  float64  `json:"lat"`
	Lon  float64  `json:"lon"`
	AltM *float64 `json:"alt_m,omitempty"`
	Fix  *int     `json:"fix,omitempty"`
	NSat *int     `json:"nsat,omitempty"`
}

type Power struct {
	SOC   *float64 `json:"soc,omitempty"`
	VBatt *float64 `json:"v_batt,omitempty"`
	IA    *float64 `json:"i_a,omitempty"`
	TempC *float64 `json:"temp_c,omitempty"`
}

type Environment struct {
	DepthM     *float64 `json:"depth_m,omitempty"`
	WaterTempC *float64 `json:"water_temp_c,omitempty"`
}

type Network struct {
	RAT     string   `json:"rat,omitempty"`
	RSRPDbm *float64 `json:"rsrp_dbm,omitempty"`
	RSRQDb  *float64 `json:"rsrq_db,omitempty"`
	SNRDb   *float64 `json:"snr_db,omitempty"`
	CellID  *int64   `json:"cell_id,omitempty"`
}

// ExecReport is the firmware's view of its last command execution.
type ExecReport struct {
	LastCmdSeq *uint64         `json:"last_cmd_seq,omitempty"`
	Status     string          `json:"status"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

// HeartbeatRequest is the body of POST /hb.
type HeartbeatRequest struct {
	MID         string          `json:"mid"`
	FW          string          `json:"fw,omitempty"`
	HBSeq       uint64          `json:"hb_seq"`
	TsUTC       time.Time       `json:"ts_utc"`
	State       string          `json:"state"`
	Position    *Position       `json:"position,omitempty"`
	Power       *Power          `json:"power,omitempty"`
	Environment *Environment    `json:"environment,omitempty"`
	Network     *Network        `json:"network,omitempty"`
	Exec        *ExecReport     `json:"exec,omitempty"`
	Extra       json.RawMessage `json:"x,omitempty"`
}

// CommandEnvelope is the command slot piggy-backed on the heartbeat
// response. PlanHash lets the firmware verify the args it received.
type CommandEnvelope struct {
	Seq      uint64          `json:"seq"`
	Cmd      string          `json:"cmd"`
	Args     json.RawMessage `json:"args"`
	PlanHash string          `json:"plan_hash"`
}

// HeartbeatResponse acknowledges a heartbeat and carries zero or one
// pending command. NextHBSeconds is the polling cadence hint; it is
// constant so replayed heartbeats still get byte-identical responses.
type HeartbeatResponse struct {
	Ack           bool             `json:"ack"`
	Command       *CommandEnvelope `json:"command"`
	NextHBSeconds int              `json:"next_hb_s"`
}

// DescentCheckRequest is the body of POST /descent-check, sent by the
// vehicle immediately before it commits to a dive.
type DescentCheckRequest struct {
	MID      string          `json:"mid"`
	FW       string          `json:"fw,omitempty"`
	TsUTC    time.Time       `json:"ts_utc"`
	CheckSeq uint64          `json:"check_seq"`
	CmdSeq   uint64          `json:"cmd_seq"`
	PlanHash string          `json:"plan_hash"`
	HK       json.RawMessage `json:"hk,omitempty"`
}

type DescentCheckResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// AscentNotifyRequest is the body of POST /ascent-notify, reporting the
// outcome of a dive attempt.
type AscentNotifyRequest struct {
	MID         string          `json:"mid"`
	FW          string          `json:"fw,omitempty"`
	TsUTC       time.Time       `json:"ts_utc"`
	CmdSeq      uint64          `json:"cmd_seq"`
	OK          bool            `json:"ok"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Remarks     string          `json:"remarks,omitempty"`
	Position    *Position       `json:"position,omitempty"`
	Power       *Power          `json:"power,omitempty"`
	Environment *Environment    `json:"environment,omitempty"`
	Network     *Network        `json:"network,omitempty"`
}

type AscentNotifyResponse struct {
	Ack bool `json:"ack"`
}

// --- Errors ---

// ErrorBody is the envelope of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error kinds surfaced to clients.
const (
	KindInvalidPayload = "INVALID_PAYLOAD"
	KindUnknownDevice  = "UNKNOWN_DEVICE"
	KindUnknownCommand = "UNKNOWN_COMMAND"
	KindBadState       = "BAD_STATE"
	KindPlanMismatch   = "PLAN_MISMATCH"
	KindStale          = "STALE"
	KindConflict       = "CONFLICT"
	KindNotFound       = "NOT_FOUND"
	KindUnavailable    = "UNAVAILABLE"
	KindInternal       = "INTERNAL"
)

// --- Web API ---

// RunDiveArgs are the arguments of a RUN_DIVE command.
type RunDiveArgs struct {
	TargetDepthM float64 `json:"target_depth_m"`
	HoldAtDepthS int     `json:"hold_at_depth_s"`
	Cycles       int     `json:"cycles"`
}

// EnqueueCommandRequest is the body of POST /api/v1/commands.
type EnqueueCommandRequest struct {
	MID  string      `json:"mid"`
	Cmd  string      `json:"cmd"`
	Args RunDiveArgs `json:"args"`
}

type CommandView struct {
	ID        int64           `json:"id"`
	MID       string          `json:"mid"`
	Seq       uint64          `json:"seq"`
	Cmd       string          `json:"cmd"`
	Args      json.RawMessage `json:"args,omitempty"`
	PlanHash  string          `json:"plan_hash"`
	Status    string          `json:"status"`
	IssuedBy  string          `json:"issued_by,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	IssuedAt  *time.Time      `json:"issued_at,omitempty"`
}

type DeviceView struct {
	MID            string       `json:"mid"`
	FW             string       `json:"fw,omitempty"`
	State          string       `json:"state"`
	LastHBSeq      *uint64      `json:"last_hb_seq,omitempty"`
	LastSeenAt     time.Time    `json:"last_seen_at"`
	LastExecCmdSeq *uint64      `json:"last_exec_cmd_seq,omitempty"`
	LastExecStatus string       `json:"last_exec_status,omitempty"`
	Online         bool         `json:"online"`
	Position       *Position    `json:"position,omitempty"`
	Power          *Power       `json:"power,omitempty"`
	Environment    *Environment `json:"environment,omitempty"`
	Network        *Network     `json:"network,omitempty"`
}

type DeviceStatusView struct {
	MID        string    `json:"mid"`
	State      string    `json:"state"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExecStatus string    `json:"exec_status,omitempty"`
}

type HeartbeatView struct {
	ID         int64           `json:"id"`
	MID        string          `json:"mid"`
	HBSeq      uint64          `json:"hb_seq"`
	TsUTC      time.Time       `json:"ts_utc"`
	State      string          `json:"state"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

type DiveView struct {
	ID        int64           `json:"id"`
	MID       string          `json:"mid"`
	CmdSeq    uint64          `json:"cmd_seq"`
	OK        *bool           `json:"ok,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type EventView struct {
	ID        int64           `json:"id"`
	MID       string          `json:"mid,omitempty"`
	Type      string          `json:"type"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Page wraps a list response with opaque cursor pagination. NextCursor is
// empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	DB     bool   `json:"db"`
	Clock  string `json:"clock,omitempty"`
}

// ResetResponse is the body of POST /admin/reset-db.
type ResetResponse struct {
	Message string `json:"message"`
}
