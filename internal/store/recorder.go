package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/sweep-cli/internal/engine"
)

const (
	defaultBatchSize     = 32
	defaultFlushInterval = 2 * time.Second
	eventBuffer          = 256
	// writerGrace bounds the wait for a cancelled writer to return.
	writerGrace = time.Second
)

// Recorder journals one run. It is an engine.Observer: Observe never blocks
// the loop, events are queued and written in batches by a background writer.
type Recorder struct {
	journal Journal
	logger  *zap.Logger
	run     Run

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	events  chan EventRecord
	closed  bool
	seq     int
	dropped int

	g            *errgroup.Group
	stopWrites   context.CancelFunc
	writerExited chan struct{}
}

var _ engine.Observer = (*Recorder)(nil)

// NewRecorder prepares a recorder for a run against url. A fresh run ID is
// assigned.
func NewRecorder(journal Journal, url string, dryRun bool, logger *zap.Logger) *Recorder {
	return &Recorder{
		journal:       journal,
		logger:        logger.Named("recorder"),
		run:           Run{ID: uuid.NewString(), URL: url, DryRun: dryRun, Outcome: OutcomeRunning},
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		events:        make(chan EventRecord, eventBuffer),
	}
}

// RunID returns the journal ID of the run.
func (r *Recorder) RunID() string { return r.run.ID }

// Start writes the run header and launches the writer. Writes continue after
// ctx is cancelled so an interrupted run still has its events journaled; only
// Finish stops them.
func (r *Recorder) Start(ctx context.Context) error {
	r.run.StartedAt = time.Now().UTC()
	if err := r.journal.StartRun(ctx, r.run); err != nil {
		return err
	}
	writeCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	r.stopWrites = stop
	r.writerExited = make(chan struct{})
	r.g = &errgroup.Group{}
	r.g.Go(func() error {
		defer close(r.writerExited)
		return r.drain(writeCtx)
	})
	return nil
}

// Observe queues e for the writer. Events are dropped, and counted, when the
// writer falls too far behind.
func (r *Recorder) Observe(e engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.seq++
	rec := EventRecord{
		RunID:    r.run.ID,
		Seq:      r.seq,
		Kind:     string(e.Kind),
		At:       e.At,
		Identity: e.Identity,
		Detail: Detail{
			Text:    e.Text,
			State:   e.State.String(),
			Reason:  e.Reason,
			Deleted: e.Deleted,
		},
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	select {
	case r.events <- rec:
	default:
		r.dropped++
	}
}

func (r *Recorder) drain(ctx context.Context) error {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]EventRecord, 0, r.batchSize)
	var firstErr error
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.journal.AppendEvents(ctx, r.run.ID, batch); err != nil {
			r.logger.Warn("Failed to journal events.", zap.Int("count", len(batch)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				flush()
				return firstErr
			}
			batch = append(batch, e)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Finish stops the writer, waits for queued events and records the run's
// final counts and outcome. ctx bounds both: when it expires before the
// writer has drained, pending writes are abandoned.
func (r *Recorder) Finish(ctx context.Context, res engine.Result, runErr error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("recorder already finished")
	}
	r.closed = true
	close(r.events)
	dropped := r.dropped
	r.mu.Unlock()

	var writeErr error
	if r.g != nil {
		select {
		case <-r.writerExited:
			writeErr = r.g.Wait()
		case <-ctx.Done():
			r.stopWrites()
			writeErr = fmt.Errorf("journal writer did not drain: %w", ctx.Err())
			select {
			case <-r.writerExited:
			case <-time.After(writerGrace):
				r.logger.Warn("Journal writer still busy after cancellation.")
			}
		}
		defer r.stopWrites()
	}
	if dropped > 0 {
		r.logger.Warn("Journal writer fell behind; events were dropped.", zap.Int("dropped", dropped))
	}

	finished := time.Now().UTC()
	r.run.FinishedAt = &finished
	r.run.Deleted = res.Deleted
	r.run.Skipped = res.Skipped
	r.run.Previewed = res.Previewed
	r.run.Resets = res.Resets
	r.run.Outcome = OutcomeFor(runErr)
	if runErr != nil {
		r.run.Error = runErr.Error()
	}

	if err := r.journal.FinishRun(ctx, r.run); err != nil {
		return err
	}
	return writeErr
}

// Run returns a copy of the journal entry as last written.
func (r *Recorder) Run() Run { return r.run }

// OutcomeFor classifies the error a run ended with.
func OutcomeFor(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeInterrupted
	default:
		return OutcomeFailed
	}
}
