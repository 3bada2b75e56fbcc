// Package store is the persistence layer: SQLite via database/sql, with
// three logical primitives consumed by the rest of the server — idempotent
// upserts (device rollup), insert-if-absent on natural keys (heartbeats,
// descent checks) and guarded command transitions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every data-access method; it runs against either the pool
// or an open transaction.
type queries struct {
	q dbtx
}

// Store is the process-wide handle. All methods are safe for concurrent
// use; the database serializes writers.
type Store struct {
	queries
	db *sql.DB
}

// Tx exposes the same data-access methods inside one transaction.
type Tx struct {
	queries
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string, poolSize int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them;
	// busy_timeout and foreign_keys are per-connection settings.
	// _txlock=immediate makes transactions take the write lock at BEGIN,
	// so concurrent writers queue on busy_timeout instead of failing a
	// mid-transaction lock upgrade with SQLITE_BUSY.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping runs a trivial SELECT, proving the database answers.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// WithTx runs fn inside a single transaction, committing on nil error.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{queries{q: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Reset truncates every table in dependency order and restarts the
// autoincrement counters. Development only.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"event_logs", "descent_checks", "dives", "commands", "heartbeats", "devices"}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, t := range tables {
			if _, err := tx.q.ExecContext(ctx, `DELETE FROM `+t); err != nil {
				return fmt.Errorf("truncate %s: %w", t, err)
			}
			if _, err := tx.q.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = ?`, t); err != nil {
				return fmt.Errorf("reset sequence for %s: %w", t, err)
			}
		}
		return nil
	})
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
	mid TEXT PRIMARY KEY,
	fw TEXT NOT NULL DEFAULT '',
	last_state TEXT NOT NULL,
	last_hb_seq INTEGER,
	last_seen_at TEXT NOT NULL,
	last_exec_cmd_seq INTEGER,
	last_exec_status TEXT NOT NULL DEFAULT '',
	last_pos TEXT,
	last_pwr TEXT,
	last_env TEXT,
	last_net TEXT
)`,
		`CREATE TABLE IF NOT EXISTS heartbeats (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mid TEXT NOT NULL,
	hb_seq INTEGER NOT NULL,
	ts_utc TEXT NOT NULL,
	payload TEXT NOT NULL,
	received_at TEXT NOT NULL,
	UNIQUE (mid, hb_seq)
)`,
		`CREATE INDEX IF NOT EXISTS idx_heartbeats_mid_ts ON heartbeats (mid, ts_utc)`,
		`CREATE TABLE IF NOT EXISTS commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mid TEXT NOT NULL,
	seq INTEGER NOT NULL,
	cmd TEXT NOT NULL,
	args TEXT NOT NULL,
	plan_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	issued_by TEXT NOT NULL DEFAULT '',
	issued_hb_seq INTEGER,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	issued_at TEXT,
	executing_at TEXT,
	completed_at TEXT,
	UNIQUE (mid, seq)
)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_mid_status ON commands (mid, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_commands_one_in_flight
	ON commands (mid) WHERE status IN ('QUEUED', 'ISSUED', 'EXECUTING')`,
		`CREATE TABLE IF NOT EXISTS descent_checks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mid TEXT NOT NULL,
	check_seq INTEGER NOT NULL,
	cmd_seq INTEGER NOT NULL,
	plan_hash TEXT NOT NULL,
	ok INTEGER NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (mid, check_seq)
)`,
		`CREATE TABLE IF NOT EXISTS dives (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mid TEXT NOT NULL,
	cmd_seq INTEGER NOT NULL,
	ok INTEGER,
	summary TEXT,
	started_at TEXT,
	ended_at TEXT,
	created_at TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_dives_mid ON dives (mid, created_at)`,
		`CREATE TABLE IF NOT EXISTS event_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mid TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_event_logs_created ON event_logs (created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure, such as a second in-flight command hitting
// idx_commands_one_in_flight.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// --- column helpers ---

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullU64(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func u64Ptr(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func jsonCol(s sql.NullString) []byte {
	if !s.Valid || s.String == "" {
		return nil
	}
	return []byte(s.String)
}
