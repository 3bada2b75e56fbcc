package fleet

import (
	"encoding/json"
	"time"
)

// CommandKind names the instruction carried by a command. RUN_DIVE is the
// only kind the lifecycle understands; others are extension points.
type CommandKind string

const KindRunDive CommandKind = "RUN_DIVE"

// CommandStatus is the command lifecycle state machine.
type CommandStatus string

const (
	StatusQueued    CommandStatus = "QUEUED"
	StatusIssued    CommandStatus = "ISSUED"
	StatusExecuting CommandStatus = "EXECUTING"
	StatusCompleted CommandStatus = "COMPLETED"
	StatusCanceled  CommandStatus = "CANCELED"
	StatusExpired   CommandStatus = "EXPIRED"
	StatusError     CommandStatus = "ERROR"
)

// Terminal reports whether no further transition is possible.
func (s CommandStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusExpired, StatusError:
		return true
	}
	return false
}

// InFlight reports whether the status counts against the one-command-per-
// device rule.
func (s CommandStatus) InFlight() bool {
	switch s {
	case StatusQueued, StatusIssued, StatusExecuting:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal lifecycle edge.
func (s CommandStatus) CanTransition(to CommandStatus) bool {
	switch s {
	case StatusQueued:
		return to == StatusIssued || to == StatusExpired || to == StatusCanceled
	case StatusIssued:
		return to == StatusExecuting || to == StatusCanceled
	case StatusExecuting:
		return to == StatusCompleted || to == StatusError
	}
	return false
}

// ValidStatus reports whether raw names a known command status.
func ValidStatus(raw string) bool {
	switch CommandStatus(raw) {
	case StatusQueued, StatusIssued, StatusExecuting, StatusCompleted,
		StatusCanceled, StatusExpired, StatusError:
		return true
	}
	return false
}

// Vehicle-reported coarse states.
const (
	StateSurfaceWait  = "SURFACE_WAIT"
	StateDescentCheck = "DESCENT_CHECK"
	StateDescending   = "DESCENDING"
	StateAtDepth      = "AT_DEPTH"
	StateAscending    = "ASCENDING"
	StateDive         = "DIVE"
	StateRecovery     = "RECOVERY"
)

// Exec report statuses sent by the firmware.
const (
	ExecIdle    = "IDLE"
	ExecRunning = "RUNNING"
	ExecDone    = "DONE"
	ExecAborted = "ABORTED"
	ExecError   = "ERROR"
)

// Device is the latest-value rollup per vehicle, owned by the ingest path.
type Device struct {
	MID            string
	FW             string
	LastState      string
	LastHBSeq      *uint64
	LastSeenAt     time.Time
	LastExecCmdSeq *uint64
	LastExecStatus string
	LastPos        json.RawMessage
	LastPwr        json.RawMessage
	LastEnv        json.RawMessage
	LastNet        json.RawMessage
}

// Heartbeat is one append-only telemetry frame. (MID, HBSeq) is the
// natural key; duplicates are expected on the wire and collapse to one row.
type Heartbeat struct {
	ID         int64
	MID        string
	HBSeq      uint64
	TsUTC      time.Time
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Command is one operator-issued instruction.
type Command struct {
	ID          int64
	MID         string
	Seq         uint64
	Cmd         CommandKind
	Args        json.RawMessage
	PlanHash    string
	Status      CommandStatus
	IssuedBy    string
	IssuedHBSeq *uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	IssuedAt    *time.Time
	ExecutingAt *time.Time
	CompletedAt *time.Time
}

// DescentCheck records one pre-dive validation, pass or fail.
type DescentCheck struct {
	ID        int64
	MID       string
	CheckSeq  uint64
	CmdSeq    uint64
	PlanHash  string
	OK        bool
	Reason    string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Dive summarizes one completed (or aborted) dive attempt.
type Dive struct {
	ID        int64
	MID       string
	CmdSeq    uint64
	OK        *bool
	Summary   json.RawMessage
	StartedAt *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
}

// Event is one append-only diagnostic record.
type Event struct {
	ID        int64
	MID       string
	Type      string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// Event types written by the server.
const (
	EventHeartbeat       = "HB"
	EventDescentCheck    = "DESCENT_CHECK"
	EventAscentNotify    = "ASCENT_NOTIFY"
	EventCommandQueued   = "CMD_QUEUED"
	EventCommandIssued   = "CMD_ISSUED"
	EventCommandExpired  = "CMD_EXPIRED"
	EventCommandCanceled = "CMD_CANCELED"
)
