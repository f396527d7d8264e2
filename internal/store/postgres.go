package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sweep_runs (
    id          UUID PRIMARY KEY,
    url         TEXT NOT NULL,
    dry_run     BOOLEAN NOT NULL DEFAULT FALSE,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    deleted     INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0,
    previewed   INTEGER NOT NULL DEFAULT 0,
    resets      INTEGER NOT NULL DEFAULT 0,
    outcome     TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sweep_events (
    run_id   UUID NOT NULL REFERENCES sweep_runs(id) ON DELETE CASCADE,
    seq      INTEGER NOT NULL,
    kind     TEXT NOT NULL,
    at       TIMESTAMPTZ NOT NULL,
    identity TEXT NOT NULL DEFAULT '',
    detail   JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (run_id, seq)
);`

const (
	sqlInsertRun = `
        INSERT INTO sweep_runs (id, url, dry_run, started_at, outcome)
        VALUES ($1, $2, $3, $4, $5);
    `
	sqlFinishRun = `
        UPDATE sweep_runs
        SET finished_at = $2, deleted = $3, skipped = $4, previewed = $5, resets = $6, outcome = $7, error = $8
        WHERE id = $1;
    `
	sqlListRuns = `
        SELECT id::text, url, dry_run, started_at, finished_at, deleted, skipped, previewed, resets, outcome, error
        FROM sweep_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `
	sqlListEvents = `
        SELECT seq, kind, at, identity, detail
        FROM sweep_events
        WHERE run_id = $1
        ORDER BY seq ASC;
    `
)

var eventColumns = []string{"run_id", "seq", "kind", "at", "identity", "detail"}

// Postgres is the PostgreSQL Journal.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a journal on pool and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{
		pool: pool,
		log:  logger.Named("journal.postgres"),
	}, nil
}

// Migrate creates the journal tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (s *Postgres) StartRun(ctx context.Context, run Run) error {
	_, err := s.pool.Exec(ctx, sqlInsertRun, run.ID, run.URL, run.DryRun, run.StartedAt.UTC(), OutcomeRunning)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Postgres) FinishRun(ctx context.Context, run Run) error {
	var finished interface{}
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	tag, err := s.pool.Exec(ctx, sqlFinishRun,
		run.ID, finished, run.Deleted, run.Skipped, run.Previewed, run.Resets, run.Outcome, run.Error)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update run %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// AppendEvents bulk-copies events inside one transaction.
func (s *Postgres) AppendEvents(ctx context.Context, runID string, events []EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(events))
	for i, e := range events {
		detail, err := encodeDetail(e.Detail)
		if err != nil {
			return err
		}
		// Timestamps are stored in UTC to prevent ambiguity.
		rows[i] = []interface{}{runID, e.Seq, e.Kind, e.At.UTC(), e.Identity, detail}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"sweep_events"}, eventColumns, pgx.CopyFromRows(rows))
	if err != nil {
		s.rollback(ctx, tx)
		return fmt.Errorf("failed to copy events: %w", err)
	}
	if int(copyCount) != len(events) {
		s.rollback(ctx, tx)
		return fmt.Errorf("mismatch in copied events count: expected %d, got %d", len(events), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Postgres) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Error("Failed to rollback transaction", zap.Error(err))
	}
}

func (s *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		err := rows.Scan(
			&r.ID, &r.URL, &r.DryRun, &r.StartedAt, &r.FinishedAt,
			&r.Deleted, &r.Skipped, &r.Previewed, &r.Resets,
			&r.Outcome, &r.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func (s *Postgres) ListEvents(ctx context.Context, runID string) ([]EventRecord, error) {
	rows, err := s.pool.Query(ctx, sqlListEvents, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		e := EventRecord{RunID: runID}
		var raw []byte
		if err := rows.Scan(&e.Seq, &e.Kind, &e.At, &e.Identity, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if e.Detail, err = decodeDetail(raw); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return events, nil
}

// Close closes the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
