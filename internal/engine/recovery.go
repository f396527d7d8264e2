// File: internal/engine/recovery.go
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RecoveryMode selects how the page is reset.
type RecoveryMode string

const (
	// RecoveryReload performs a full reload.
	RecoveryReload RecoveryMode = "reload"
	// RecoveryBack clicks the back control or navigates back, and reloads
	// only if neither works.
	RecoveryBack RecoveryMode = "back"
)

// RecoveryConfig tunes the error budget.
type RecoveryConfig struct {
	Threshold int
	Mode      RecoveryMode
	Settle    time.Duration
	// Timeout bounds each readiness check after a reset.
	Timeout  time.Duration
	Attempts int
	// MaxResets caps resets per run; zero means unlimited.
	MaxResets int
}

// Recovery counts consecutive failures and resets the page once the budget
// is spent.
type Recovery struct {
	host       Host
	locator    *Locator
	dispatcher *Dispatcher
	tracker    *Tracker
	cfg        RecoveryConfig
	logger     *zap.Logger

	failures int
	resets   int
}

// NewRecovery creates a Recovery that clears tracker on every reset.
func NewRecovery(host Host, locator *Locator, dispatcher *Dispatcher, tracker *Tracker, cfg RecoveryConfig, logger *zap.Logger) *Recovery {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = RecoveryReload
	}
	return &Recovery{
		host:       host,
		locator:    locator,
		dispatcher: dispatcher,
		tracker:    tracker,
		cfg:        cfg,
		logger:     logger.Named("recovery"),
	}
}

// RecordFailure increments the consecutive failure count and returns it.
func (r *Recovery) RecordFailure() int {
	r.failures++
	return r.failures
}

// RecordSuccess zeroes the consecutive failure count.
func (r *Recovery) RecordSuccess() { r.failures = 0 }

func (r *Recovery) Failures() int { return r.failures }

func (r *Recovery) Resets() int { return r.resets }

// Exceeded reports whether the failure budget is spent.
func (r *Recovery) Exceeded() bool { return r.failures >= r.cfg.Threshold }

// OnThresholdExceeded resets the page, waits for it to settle and checks it
// answers queries again. On success the failure count and the attempted set
// are cleared. It returns an error wrapping ErrRecoveryExhausted when no
// attempt restores the page, and ErrResetLimit without touching the page
// once the per-run reset cap is spent.
func (r *Recovery) OnThresholdExceeded(ctx context.Context) error {
	if r.cfg.MaxResets > 0 && r.resets >= r.cfg.MaxResets {
		return fmt.Errorf("%w: %d of %d used", ErrResetLimit, r.resets, r.cfg.MaxResets)
	}
	r.resets++

	r.logger.Warn("Failure budget spent, resetting page.",
		zap.Int("consecutive_failures", r.failures),
		zap.String("mode", string(r.cfg.Mode)),
		zap.Int("reset", r.resets))

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err := r.reset(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("Page reset failed.", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}
		if err := r.host.Wait(ctx, r.cfg.Settle); err != nil {
			return err
		}
		if err := r.waitReady(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("Page not queryable after reset.", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		r.failures = 0
		r.tracker.Reset()
		r.logger.Info("Page reset complete, attempted identities cleared.", zap.Int("attempt", attempt))
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRecoveryExhausted, r.cfg.Attempts, lastErr)
}

func (r *Recovery) waitReady(ctx context.Context) error {
	if r.cfg.Timeout <= 0 {
		return r.host.WaitReady(ctx)
	}
	readyCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.host.WaitReady(readyCtx)
}

func (r *Recovery) reset(ctx context.Context) error {
	if r.cfg.Mode == RecoveryBack {
		if item, err := r.locator.Locate(ctx, RoleBackControl, PageScope()); err == nil {
			if out, _ := r.dispatcher.Dispatch(ctx, Request{Item: item, Action: ActionClick}); out == OutcomeSucceeded {
				return nil
			}
		}
		err := r.host.GoBack(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Debug("Navigate back failed, reloading instead.", zap.Error(err))
	}
	return r.host.Reload(ctx)
}
