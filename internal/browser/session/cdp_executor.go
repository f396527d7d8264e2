// internal/browser/session/cdp_executor.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sweep-cli/internal/browser/humanoid"
)

const defaultActionTimeout = 10 * time.Second

// cdpExecutor runs individual CDP operations for the session. It is also the
// humanoid.Executor, so simulated pointer paths go through the same context
// handling as everything else.
type cdpExecutor struct {
	ctx            context.Context // the session's master context
	logger         *zap.Logger
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error // points to Session.RunActions
	timeout        time.Duration
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

func (e *cdpExecutor) opTimeout() time.Duration {
	if e.timeout > 0 {
		return e.timeout
	}
	return defaultActionTimeout
}

// run executes actions under the per-operation timeout and names a timeout
// as such in the returned error.
func (e *cdpExecutor) run(ctx context.Context, what string, actions ...chromedp.Action) error {
	timeout := e.opTimeout()
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := e.runActionsFunc(opCtx, actions...)
	if err == nil {
		return nil
	}
	// The caller's own cancellation wins over our deadline.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		e.logger.Debug("CDP operation timed out.", zap.String("op", what), zap.Duration("timeout", timeout))
		return fmt.Errorf("%s timed out after %v: %w", what, timeout, opCtx.Err())
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Sleep pauses for d, returning early when ctx or the session ends.
func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return e.runActionsFunc(ctx, chromedp.Sleep(d))
}

// DispatchMouseEvent dispatches a single mouse event via CDP.
func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, ev humanoid.MouseEvent) error {
	p := input.DispatchMouseEvent(input.MouseType(ev.Type), ev.X, ev.Y).
		WithButton(input.MouseButton(ev.Button)).
		WithButtons(ev.Buttons).
		WithClickCount(int64(ev.ClickCount))
	return e.run(ctx, "dispatch mouse event", p)
}

// SendKey presses and releases a single named key.
func (e *cdpExecutor) SendKey(ctx context.Context, key string) error {
	return e.run(ctx, "send key", chromedp.KeyEvent(key))
}

// Evaluate runs expr and returns its string result. Page helper calls always
// evaluate to a JSON string.
func (e *cdpExecutor) Evaluate(ctx context.Context, expr string) (string, error) {
	var res string
	err := e.run(ctx, "evaluate",
		chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		return "", err
	}
	return res, nil
}
