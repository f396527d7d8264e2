package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sweep-cli/internal/config"
)

// ErrRunNotFound is returned when a run ID has no journal entry.
var ErrRunNotFound = errors.New("run not found")

// Run outcomes.
const (
	OutcomeRunning     = "running"
	OutcomeCompleted   = "completed"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// Run is the journal entry of one elimination run.
type Run struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Deleted    int        `json:"deleted"`
	Skipped    int        `json:"skipped"`
	Previewed  int        `json:"previewed"`
	Resets     int        `json:"resets"`
	Outcome    string     `json:"outcome"`
	Error      string     `json:"error,omitempty"`
}

// EventRecord is one loop event as persisted. Seq orders events within a run.
type EventRecord struct {
	RunID    string    `json:"run_id"`
	Seq      int       `json:"seq"`
	Kind     string    `json:"kind"`
	At       time.Time `json:"at"`
	Identity string    `json:"identity,omitempty"`
	Detail   Detail    `json:"detail"`
}

// Detail holds the free-form part of an event, stored as a JSON column.
type Detail struct {
	Text    string `json:"text,omitempty"`
	State   string `json:"state,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Deleted int    `json:"deleted"`
}

func encodeDetail(d Detail) (json.RawMessage, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event detail: %w", err)
	}
	return b, nil
}

func decodeDetail(raw []byte) (Detail, error) {
	var d Detail
	if len(raw) == 0 || string(raw) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("failed to decode event detail: %w", err)
	}
	return d, nil
}

// Journal persists runs and their events.
type Journal interface {
	StartRun(ctx context.Context, run Run) error
	AppendEvents(ctx context.Context, runID string, events []EventRecord) error
	FinishRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	ListEvents(ctx context.Context, runID string) ([]EventRecord, error)
	Close() error
}

// Open returns the journal selected by cfg. The "none" driver yields a
// journal that discards everything.
func Open(ctx context.Context, cfg config.JournalConfig, logger *zap.Logger) (Journal, error) {
	switch cfg.Driver {
	case config.JournalNone, "":
		return Nop{}, nil
	case config.JournalSQLite:
		return OpenSQLite(ctx, cfg.DSN, logger)
	case config.JournalPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		pg, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}

// Nop is a Journal that stores nothing.
type Nop struct{}

func (Nop) StartRun(context.Context, Run) error                       { return nil }
func (Nop) AppendEvents(context.Context, string, []EventRecord) error { return nil }
func (Nop) FinishRun(context.Context, Run) error                      { return nil }
func (Nop) ListRuns(context.Context, int) ([]Run, error)              { return nil, nil }
func (Nop) ListEvents(context.Context, string) ([]EventRecord, error) { return nil, nil }
func (Nop) Close() error                                              { return nil }
