// File: internal/engine/dispatch.go
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Action is what the loop wants done to an element.
type Action int

const (
	ActionClick Action = iota
	// ActionContextOpen opens the element's context menu.
	ActionContextOpen
)

func (a Action) String() string {
	if a == ActionContextOpen {
		return "context_open"
	}
	return "click"
}

// Request describes one dispatch. FallbackKey, when set, adds a final
// keystroke technique sent to whatever currently has focus.
type Request struct {
	Item        Item
	Action      Action
	FallbackKey Key
}

type technique struct {
	name string
	run  func(ctx context.Context, item Item) error
}

// Dispatcher applies an action through an ordered chain of techniques,
// stopping at the first that works.
type Dispatcher struct {
	host    Host
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewDispatcher creates a Dispatcher. limiter may be nil for no pacing.
func NewDispatcher(host Host, limiter *rate.Limiter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		host:    host,
		limiter: limiter,
		logger:  logger.Named("dispatcher"),
	}
}

func (d *Dispatcher) chain(req Request) []technique {
	var chain []technique
	switch req.Action {
	case ActionContextOpen:
		chain = []technique{
			{name: "native_context_click", run: d.host.ContextClick},
			{name: "program_context_event", run: d.host.ContextClickViaProgram},
		}
	default:
		chain = []technique{
			{name: "native_click", run: d.host.Click},
			{name: "program_click", run: d.host.ClickViaProgram},
			{name: "pointer_sequence", run: d.host.ClickViaPointerSequence},
		}
	}
	if req.FallbackKey != "" {
		key := req.FallbackKey
		chain = append(chain, technique{
			name: "keystroke_" + string(key),
			run: func(ctx context.Context, _ Item) error {
				return d.host.SendKey(ctx, key)
			},
		})
	}
	return chain
}

// Dispatch runs the technique chain for req. Individual technique failures are
// logged and swallowed. The returned error is nil on success; on failure it
// wraps ErrStale when the element detached, ErrDispatchExhausted when every
// technique failed, or the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	var errs []error
	for _, t := range d.chain(req) {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return OutcomeFailed, err
			}
		}
		err := t.run(ctx, req.Item)
		if err == nil {
			d.logger.Debug("Technique succeeded.",
				zap.String("technique", t.name),
				zap.Stringer("action", req.Action),
				zap.String("handle", req.Item.Handle))
			return OutcomeSucceeded, nil
		}
		if ctx.Err() != nil {
			return OutcomeFailed, ctx.Err()
		}
		if errors.Is(err, ErrStale) {
			d.logger.Debug("Element detached during dispatch.",
				zap.String("technique", t.name),
				zap.String("handle", req.Item.Handle))
			return OutcomeFailed, fmt.Errorf("%s: %w", t.name, err)
		}
		d.logger.Debug("Technique failed, falling back.",
			zap.String("technique", t.name),
			zap.Stringer("action", req.Action),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
	}
	d.logger.Warn("Dispatch exhausted every technique.",
		zap.Stringer("action", req.Action),
		zap.String("handle", req.Item.Handle),
		zap.Int("techniques", len(errs)))
	return OutcomeFailed, fmt.Errorf("%w: %w", ErrDispatchExhausted, errors.Join(errs...))
}
