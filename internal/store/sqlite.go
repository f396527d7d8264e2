package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	// Registers the pure-Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory journal.
const MemoryDSN = ":memory:"

var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sweep_runs (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL,
    dry_run     INTEGER NOT NULL DEFAULT 0,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER,
    deleted     INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    previewed   INTEGER NOT NULL DEFAULT 0,
    resets      INTEGER NOT NULL DEFAULT 0,
    outcome     TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sweep_events (
    run_id   TEXT NOT NULL REFERENCES sweep_runs(id) ON DELETE CASCADE,
    seq      INTEGER NOT NULL,
    kind     TEXT NOT NULL,
    at       INTEGER NOT NULL,
    identity TEXT NOT NULL DEFAULT '',
    detail   TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_sweep_runs_started ON sweep_runs(started_at);`

// SQLite is the local, single-file Journal. Timestamps are stored as unix
// milliseconds.
type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens or creates the journal database at path and applies the
// schema. Parent directories are created as needed.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// One writer, and every connection to :memory: would be a new database.
	db.SetMaxOpenConns(1)

	for _, p := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	logger.Named("journal.sqlite").Debug("Journal opened.", zap.String("path", path))
	return &SQLite{db: db, log: logger.Named("journal.sqlite")}, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLite) StartRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sweep_runs (id, url, dry_run, started_at, outcome) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.URL, run.DryRun, toMillis(run.StartedAt), OutcomeRunning)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *SQLite) FinishRun(ctx context.Context, run Run) error {
	var finished sql.NullInt64
	if run.FinishedAt != nil {
		finished = sql.NullInt64{Int64: toMillis(*run.FinishedAt), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sweep_runs
		 SET finished_at = ?, deleted = ?, skipped = ?, previewed = ?, resets = ?, outcome = ?, error = ?
		 WHERE id = ?`,
		finished, run.Deleted, run.Skipped, run.Previewed, run.Resets, run.Outcome, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update run %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// AppendEvents inserts events in one transaction.
func (s *SQLite) AppendEvents(ctx context.Context, runID string, events []EventRecord) (err error) {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.log.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sweep_events (run_id, seq, kind, at, identity, detail) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		detail, err := encodeDetail(e.Detail)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, e.Seq, e.Kind, toMillis(e.At), e.Identity, string(detail)); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, dry_run, started_at, finished_at, deleted, skipped, previewed, resets, outcome, error
		 FROM sweep_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
		)
		err := rows.Scan(&r.ID, &r.URL, &r.DryRun, &started, &finished,
			&r.Deleted, &r.Skipped, &r.Previewed, &r.Resets, &r.Outcome, &r.Error)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.StartedAt = fromMillis(started)
		if finished.Valid {
			t := fromMillis(finished.Int64)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func (s *SQLite) ListEvents(ctx context.Context, runID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, kind, at, identity, detail FROM sweep_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var (
			e      = EventRecord{RunID: runID}
			at     int64
			detail string
		)
		if err := rows.Scan(&e.Seq, &e.Kind, &at, &e.Identity, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		e.At = fromMillis(at)
		if e.Detail, err = decodeDetail([]byte(detail)); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
