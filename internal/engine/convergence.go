package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Convergence decides whether an infinitely scrolling list has more rows.
type Convergence struct {
	host    Host
	locator *Locator
	settle  time.Duration
	logger  *zap.Logger
}

// NewConvergence creates a Convergence monitor.
func NewConvergence(host Host, locator *Locator, settle time.Duration, logger *zap.Logger) *Convergence {
	return &Convergence{
		host:    host,
		locator: locator,
		settle:  settle,
		logger:  logger.Named("convergence"),
	}
}

// TryAdvance scrolls to the bottom, waits for the list to load and reports
// whether the row count grew beyond current. A failed scroll or count is
// treated as no progress; only cancellation is returned as an error.
func (c *Convergence) TryAdvance(ctx context.Context, current int) (bool, error) {
	if err := c.host.ScrollToBottom(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Warn("Scroll to bottom failed.", zap.Error(err))
		return false, nil
	}
	if err := c.host.Wait(ctx, c.settle); err != nil {
		return false, err
	}
	n, err := c.locator.Count(ctx, RoleRow, PageScope())
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		c.logger.Warn("Row count after scroll failed.", zap.Error(err))
		return false, nil
	}
	c.logger.Debug("Load-more attempt finished.", zap.Int("before", current), zap.Int("after", n))
	return n > current, nil
}
