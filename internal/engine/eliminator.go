// File: internal/engine/eliminator.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds the engine's timing and budget policy.
type Config struct {
	Recovery RecoveryConfig
	// AwaitTimeout bounds polling for the delete action and the confirm button.
	AwaitTimeout     time.Duration
	PollInterval     time.Duration
	PostDeleteSettle time.Duration
	ScrollSettle     time.Duration
	StaleSettle      time.Duration
	// StaleRetries is how many consecutive stale re-scans are tolerated
	// before the row counts as a failure.
	StaleRetries int
	// ActionsPerSecond paces dispatch techniques; zero disables pacing.
	ActionsPerSecond float64
}

// DefaultConfig mirrors the defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		Recovery: RecoveryConfig{
			Threshold: 3,
			Mode:      RecoveryReload,
			Settle:    5 * time.Second,
			Timeout:   30 * time.Second,
			Attempts:  2,
			MaxResets: 10,
		},
		AwaitTimeout:     5 * time.Second,
		PollInterval:     200 * time.Millisecond,
		PostDeleteSettle: 2 * time.Second,
		ScrollSettle:     2 * time.Second,
		StaleSettle:      time.Second,
		StaleRetries:     3,
	}
}

// Options are the per-run knobs supplied by the caller.
type Options struct {
	// MaxDeletions stops the run after this many deletions; zero is unlimited.
	MaxDeletions int
	// InterActionDelay is inserted after every state-mutating step.
	InterActionDelay time.Duration
	// ExclusionPredicate, when it returns true, preserves the row.
	ExclusionPredicate func(Item) bool
	// DryRun selects rows and applies exclusions but never opens a menu.
	DryRun bool
}

// Result is returned by Run, populated even when Run fails.
type Result struct {
	Deleted   int
	Skipped   int
	Previewed int
	Resets    int
	Duration  time.Duration
}

// Option customises an Eliminator.
type Option func(*Eliminator)

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(e *Eliminator) { e.observer = o }
}

// Eliminator is the elimination loop. One Eliminator drives one host and
// must not be used by more than one goroutine at a time.
type Eliminator struct {
	host     Host
	table    Table
	cfg      Config
	logger   *zap.Logger
	observer Observer

	locator     *Locator
	dispatcher  *Dispatcher
	convergence *Convergence
	tracker     *Tracker
	recovery    *Recovery
	state       State
}

// New wires an Eliminator around host using the given locator table.
func New(host Host, table Table, cfg Config, logger *zap.Logger, opts ...Option) (*Eliminator, error) {
	if host == nil {
		return nil, errors.New("host cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.ActionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1)
	}

	logger = logger.Named("eliminator")
	e := &Eliminator{
		host:   host,
		table:  table,
		cfg:    cfg,
		logger: logger,
	}
	e.locator = NewLocator(host, table, cfg.PollInterval, logger)
	e.dispatcher = NewDispatcher(host, limiter, logger)
	e.convergence = NewConvergence(host, e.locator, cfg.ScrollSettle, logger)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the loop's current state.
func (e *Eliminator) State() State { return e.state }

// Tracker exposes the identity bookkeeping of the current or last run.
func (e *Eliminator) Tracker() *Tracker { return e.tracker }

// Run deletes rows until the list is exhausted, the cap or the reset limit
// is reached, the context is cancelled or recovery fails. The returned Result reflects all
// progress made, whatever the error.
func (e *Eliminator) Run(ctx context.Context, opts Options) (res Result, err error) {
	start := time.Now()
	e.tracker = NewTracker()
	e.recovery = NewRecovery(e.host, e.locator, e.dispatcher, e.tracker, e.cfg.Recovery, e.logger)

	defer func() {
		res.Skipped = e.tracker.SkippedCount()
		res.Resets = e.recovery.Resets()
		res.Duration = time.Since(start)
		e.setState(StateDone)
		reason := "completed"
		if err != nil {
			reason = err.Error()
		}
		e.emit(Event{Kind: EventDone, Reason: reason, Deleted: res.Deleted})
		e.logger.Info("Elimination run finished.",
			zap.Int("deleted", res.Deleted),
			zap.Int("skipped", res.Skipped),
			zap.Int("previewed", res.Previewed),
			zap.Int("resets", res.Resets),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
	}()

	staleStreak := 0
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if opts.MaxDeletions > 0 && res.Deleted+res.Previewed >= opts.MaxDeletions {
			e.logger.Info("Deletion cap reached.", zap.Int("max", opts.MaxDeletions))
			return res, nil
		}

		e.setState(StateScanning)
		rows, err := e.locator.All(ctx, RoleRow, PageScope())
		if errors.Is(err, ErrLocatorMiss) {
			e.logger.Info("No rows left in the list.")
			return res, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if rerr := e.fail(ctx, Item{}, fmt.Errorf("scanning rows: %w", err)); rerr != nil {
				return res, e.stopped(rerr)
			}
			continue
		}

		e.tracker.Observe(rows)
		row, ok := e.nextRow(rows)
		if !ok {
			more, err := e.convergence.TryAdvance(ctx, len(rows))
			if err != nil {
				return res, err
			}
			if !more {
				e.logger.Info("List converged, no new rows after load-more.", zap.Int("visible", len(rows)))
				return res, nil
			}
			e.emit(Event{Kind: EventAdvanced, Deleted: res.Deleted})
			continue
		}

		if opts.ExclusionPredicate != nil && opts.ExclusionPredicate(row) {
			e.setState(StateSkipped)
			e.tracker.MarkAttempted(row.Identity)
			e.tracker.MarkSkipped(row.Identity)
			e.logger.Info("Row excluded by content.", zap.String("identity", row.Identity))
			e.emit(Event{Kind: EventExcluded, Identity: row.Identity, Text: row.Text, Deleted: res.Deleted})
			continue
		}

		if opts.DryRun {
			e.setState(StateRowSelected)
			e.tracker.MarkAttempted(row.Identity)
			res.Previewed++
			e.emit(Event{Kind: EventPreviewed, Identity: row.Identity, Text: row.Text, Deleted: res.Deleted})
			continue
		}

		err = e.eliminate(ctx, row, opts)
		switch {
		case err == nil:
			staleStreak = 0
			e.tracker.MarkDeleted(row.Identity)
			e.recovery.RecordSuccess()
			res.Deleted++
			e.logger.Info("Row deleted.", zap.String("identity", row.Identity), zap.Int("deleted", res.Deleted))
			e.emit(Event{Kind: EventDeleted, Identity: row.Identity, Text: row.Text, Deleted: res.Deleted})
			if err := e.host.Wait(ctx, e.cfg.PostDeleteSettle); err != nil {
				return res, err
			}
		case ctx.Err() != nil:
			return res, ctx.Err()
		case errors.Is(err, ErrStale) && staleStreak < e.cfg.StaleRetries:
			staleStreak++
			e.logger.Debug("Row went stale, re-scanning.",
				zap.String("identity", row.Identity),
				zap.Int("streak", staleStreak),
				zap.Error(err))
			e.emit(Event{Kind: EventStale, Identity: row.Identity, State: e.state, Reason: err.Error(), Deleted: res.Deleted})
			if err := e.host.Wait(ctx, e.cfg.StaleSettle); err != nil {
				return res, err
			}
		default:
			staleStreak = 0
			if rerr := e.fail(ctx, row, err); rerr != nil {
				return res, e.stopped(rerr)
			}
		}
	}
}

// nextRow returns the first row still pending in this pass.
func (e *Eliminator) nextRow(rows []Item) (Item, bool) {
	for _, r := range rows {
		if e.tracker.Pending(r.Identity) {
			return r, true
		}
	}
	return Item{}, false
}

// stopped turns the reset limit into a normal end of the run. The rows still
// on the page are left in place and counted as skipped.
func (e *Eliminator) stopped(err error) error {
	if !errors.Is(err, ErrResetLimit) {
		return err
	}
	e.tracker.SkipVisible()
	e.logger.Warn("Reset limit reached, leaving the remaining rows in place.", zap.Error(err))
	return nil
}

// fail records an Errored transition and runs recovery when the budget is
// spent. It only returns an error when recovery fails or may not run again.
func (e *Eliminator) fail(ctx context.Context, row Item, cause error) error {
	failedIn := e.state
	e.setState(StateErrored)
	if row.Identity != "" {
		e.tracker.MarkAttempted(row.Identity)
		e.tracker.MarkSkipped(row.Identity)
	}
	n := e.recovery.RecordFailure()
	e.logger.Warn("Row attempt failed.",
		zap.String("identity", row.Identity),
		zap.Stringer("state", failedIn),
		zap.Int("consecutive_failures", n),
		zap.Error(cause))
	e.emit(Event{Kind: EventErrored, Identity: row.Identity, Text: row.Text, State: failedIn, Reason: cause.Error()})

	if !e.recovery.Exceeded() {
		return nil
	}
	if err := e.recovery.OnThresholdExceeded(ctx); err != nil {
		return err
	}
	e.emit(Event{Kind: EventReset, Reason: fmt.Sprintf("%d consecutive failures", n)})
	return nil
}

// eliminate walks one row from selection to confirmed deletion.
func (e *Eliminator) eliminate(ctx context.Context, row Item, opts Options) error {
	e.setState(StateRowSelected)
	attached, err := e.host.IsAttached(ctx, row)
	if err != nil {
		return fmt.Errorf("checking row: %w", err)
	}
	if !attached {
		return fmt.Errorf("row %s: %w", row.Identity, ErrStale)
	}
	if err := e.host.ScrollIntoView(ctx, row); err != nil {
		if errors.Is(err, ErrStale) || ctx.Err() != nil {
			return err
		}
		e.logger.Debug("Scroll into view failed, continuing.", zap.Error(err))
	}

	e.setState(StateMenuOpening)
	if err := e.openMenu(ctx, row); err != nil {
		return err
	}
	if err := e.host.Wait(ctx, opts.InterActionDelay); err != nil {
		return err
	}

	e.setState(StateMenuOpen)
	action, err := e.locator.Await(ctx, RoleDeleteAction, PageScope(), e.cfg.AwaitTimeout)
	if err != nil {
		e.dismissMenu(ctx)
		return fmt.Errorf("delete action: %w", err)
	}

	e.setState(StateActionSelecting)
	if out, err := e.dispatcher.Dispatch(ctx, Request{Item: action, Action: ActionClick, FallbackKey: KeyDelete}); out != OutcomeSucceeded {
		e.dismissMenu(ctx)
		return fmt.Errorf("delete action: %w", err)
	}
	if err := e.host.Wait(ctx, opts.InterActionDelay); err != nil {
		return err
	}

	e.setState(StateConfirming)
	confirm, err := e.locator.Await(ctx, RoleConfirmAction, DialogScope(), e.cfg.AwaitTimeout)
	if err != nil {
		e.escape(ctx)
		return fmt.Errorf("confirm action: %w", err)
	}
	if out, err := e.dispatcher.Dispatch(ctx, Request{Item: confirm, Action: ActionClick, FallbackKey: KeyEnter}); out != OutcomeSucceeded {
		e.escape(ctx)
		return fmt.Errorf("confirm action: %w", err)
	}
	e.setState(StateDeleted)
	return e.host.Wait(ctx, opts.InterActionDelay)
}

// openMenu tries the row's menu trigger first and the context menu second.
func (e *Eliminator) openMenu(ctx context.Context, row Item) error {
	if err := e.host.Hover(ctx, row); err != nil {
		if errors.Is(err, ErrStale) || ctx.Err() != nil {
			return err
		}
		e.logger.Debug("Hover failed.", zap.Error(err))
	}

	trigger, err := e.locator.Locate(ctx, RoleMenuTrigger, ItemScope(row))
	switch {
	case err == nil:
		out, derr := e.dispatcher.Dispatch(ctx, Request{Item: trigger, Action: ActionClick})
		if out == OutcomeSucceeded {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Debug("Menu trigger dispatch failed, trying context menu.", zap.Error(derr))
	case errors.Is(err, ErrStale), ctx.Err() != nil:
		return err
	default:
		e.logger.Debug("No menu trigger in row, trying context menu.", zap.Error(err))
	}

	out, err := e.dispatcher.Dispatch(ctx, Request{Item: row, Action: ActionContextOpen})
	if out != OutcomeSucceeded {
		return fmt.Errorf("opening menu: %w", err)
	}
	return nil
}

func (e *Eliminator) dismissMenu(ctx context.Context) {
	if err := e.host.ClickBlank(ctx); err == nil {
		return
	}
	e.escape(ctx)
}

func (e *Eliminator) escape(ctx context.Context) {
	if err := e.host.SendKey(ctx, KeyEscape); err != nil && ctx.Err() == nil {
		e.logger.Debug("Escape failed.", zap.Error(err))
	}
}

func (e *Eliminator) setState(s State) { e.state = s }

func (e *Eliminator) emit(ev Event) {
	if e.observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	// Errored and stale events carry the state the failure happened in.
	if ev.Kind != EventErrored && ev.Kind != EventStale {
		ev.State = e.state
	}
	e.observer.Observe(ev)
}
