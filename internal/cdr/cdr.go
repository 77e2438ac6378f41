package cdr

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/coppervoice/skinnyd/internal/infrastructure/config"
)

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second
)

// Call dispositions. These describe how the call ended from the
// perspective of the leg the record belongs to.
const (
	DispositionAnswered = "ANSWERED"
	DispositionNoAnswer = "NO ANSWER"
	DispositionBusy     = "BUSY"
	DispositionFailed   = "FAILED"
)

// Call directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Record is one call detail row. A record is written once, when the
// subchannel it describes is torn down.
type Record struct {
	ID          int64
	CallID      uint32
	Device      string
	Line        string
	Direction   string
	PeerName    string
	PeerNum     string
	Dialed      string
	Codec       string
	Start       time.Time
	Answer      time.Time // zero if never answered
	End         time.Time
	Disposition string
}

// Duration returns the total call time including ring time.
func (r Record) Duration() time.Duration {
	if r.End.IsZero() || r.Start.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// BillSec returns the connected time, zero for unanswered calls.
func (r Record) BillSec() time.Duration {
	if r.Answer.IsZero() || r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Answer)
}

// Store writes call detail records to a local SQLite database.
//
// A nil *Store is valid: all methods become no-ops. This lets callers
// hold a Store unconditionally and only open one when CDR is enabled.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the CDR database, applying the same pragmas the rest of
// the deployment uses for embedded SQLite: WAL journal for concurrent
// readers and a busy timeout so a slow reader cannot fail a write.
func Open(cfg config.CDRConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating cdr directory: %w", err)
	}

	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path,
		busyTimeout*msPerSecond,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening cdr database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying cdr database: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(cfg.Path, filePermissions)

	return s, nil
}

// ensureSchema creates the cdr table on first open. The schema is a
// single append-only table, so versioned migrations are not needed.
func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cdr (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id     INTEGER NOT NULL,
			device      TEXT NOT NULL,
			line        TEXT NOT NULL,
			direction   TEXT NOT NULL,
			peer_name   TEXT NOT NULL DEFAULT '',
			peer_num    TEXT NOT NULL DEFAULT '',
			dialed      TEXT NOT NULL DEFAULT '',
			codec       TEXT NOT NULL DEFAULT '',
			start_time  TEXT NOT NULL,
			answer_time TEXT,
			end_time    TEXT NOT NULL,
			disposition TEXT NOT NULL,
			duration    INTEGER NOT NULL,
			billsec     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cdr_start ON cdr(start_time);
		CREATE INDEX IF NOT EXISTS idx_cdr_line ON cdr(line);
	`)
	if err != nil {
		return fmt.Errorf("creating cdr schema: %w", err)
	}
	return nil
}

// Write appends one record. Safe to call on a nil Store.
func (s *Store) Write(ctx context.Context, r Record) error {
	if s == nil {
		return nil
	}

	var answer any
	if !r.Answer.IsZero() {
		answer = r.Answer.UTC().Format(time.RFC3339)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cdr (
			call_id, device, line, direction, peer_name, peer_num,
			dialed, codec, start_time, answer_time, end_time,
			disposition, duration, billsec
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CallID, r.Device, r.Line, r.Direction, r.PeerName, r.PeerNum,
		r.Dialed, r.Codec,
		r.Start.UTC().Format(time.RFC3339),
		answer,
		r.End.UTC().Format(time.RFC3339),
		r.Disposition,
		int64(r.Duration().Seconds()),
		int64(r.BillSec().Seconds()),
	)
	if err != nil {
		return fmt.Errorf("writing cdr record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first. Used by the
// management CLI.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, device, line, direction, peer_name, peer_num,
		       dialed, codec, start_time, answer_time, end_time, disposition
		FROM cdr ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cdr records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var start, end string
		var answer sql.NullString
		if err := rows.Scan(&r.ID, &r.CallID, &r.Device, &r.Line, &r.Direction,
			&r.PeerName, &r.PeerNum, &r.Dialed, &r.Codec,
			&start, &answer, &end, &r.Disposition); err != nil {
			return nil, fmt.Errorf("scanning cdr row: %w", err)
		}
		r.Start, _ = time.Parse(time.RFC3339, start)
		r.End, _ = time.Parse(time.RFC3339, end)
		if answer.Valid {
			r.Answer, _ = time.Parse(time.RFC3339, answer.String)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cdr rows: %w", err)
	}
	return records, nil
}

// HealthCheck verifies the database is accessible.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("cdr health check failed: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the database. Safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing cdr database: %w", err)
	}
	return nil
}
