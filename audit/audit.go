// Package audit provides the SQLite-backed record of masking runs.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Zerofisher/pcapscrub/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at       INTEGER NOT NULL,
	input            TEXT NOT NULL,
	output           TEXT NOT NULL,
	total_packets    INTEGER NOT NULL,
	modified_packets INTEGER NOT NULL,
	bytes_masked     INTEGER NOT NULL,
	streams          INTEGER NOT NULL,
	duration_ms      INTEGER NOT NULL,
	success          INTEGER NOT NULL,
	error            TEXT,
	stats            TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Run is one recorded masking run.
type Run struct {
	ID              int64
	StartedAt       time.Time
	Input           string
	Output          string
	TotalPackets    int
	ModifiedPackets int
	BytesMasked     int64
	Streams         int
	Duration        time.Duration
	Success         bool
	Error           string
	Stats           map[string]int64
}

// Store is the audit trail database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the audit database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// RecordRun persists the outcome of one masking session.
func (s *Store) RecordRun(startedAt time.Time, input, output string, res *session.Result) (int64, error) {
	statsJSON, err := json.Marshal(res.Stats)
	if err != nil {
		return 0, fmt.Errorf("marshal stats: %w", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO runs (started_at, input, output, total_packets, modified_packets,
			bytes_masked, streams, duration_ms, success, error, stats)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		startedAt.UnixMilli(), input, output,
		res.TotalPackets, res.ModifiedPackets, res.BytesMasked, res.StreamsProcessed,
		res.ProcessingTime.Milliseconds(), boolInt(res.Success), res.ErrorMessage, string(statsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return result.LastInsertId()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, input, output, total_packets, modified_packets,
			bytes_masked, streams, duration_ms, success, error, stats
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			startedMS int64
			durMS     int64
			success   int
			errMsg    sql.NullString
			statsJSON sql.NullString
		)
		if err := rows.Scan(&r.ID, &startedMS, &r.Input, &r.Output, &r.TotalPackets,
			&r.ModifiedPackets, &r.BytesMasked, &r.Streams, &durMS, &success,
			&errMsg, &statsJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMS)
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.Success = success != 0
		r.Error = errMsg.String
		if statsJSON.Valid && statsJSON.String != "" {
			if err := json.Unmarshal([]byte(statsJSON.String), &r.Stats); err != nil {
				return nil, fmt.Errorf("unmarshal stats of run %d: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
