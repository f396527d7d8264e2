// Package login holds the run until the operator's browser session is
// authenticated and the list is on screen.
package login

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/sweep-cli/internal/config"
	"github.com/xkilldash9x/sweep-cli/internal/engine"
)

// ErrTimeout is returned when no list row appears within the login timeout.
var ErrTimeout = errors.New("timed out waiting for login")

const promptText = "Log in in the browser window and open the list, then press Enter to start... "

// RowCounter reports how many list rows are currently visible.
// engine.Locator satisfies it.
type RowCounter interface {
	Count(ctx context.Context, role engine.Role, scope engine.Scope) (int, error)
	Await(ctx context.Context, role engine.Role, scope engine.Scope, timeout time.Duration) (engine.Item, error)
}

// Gate blocks a run until login is complete.
type Gate struct {
	mode    string
	timeout time.Duration
	settle  time.Duration
	in      io.Reader
	out     io.Writer
	logger  *zap.Logger
}

// New creates a gate for cfg's login mode. in and out are used by the
// prompt mode, normally stdin and stderr.
func New(cfg config.TargetConfig, in io.Reader, out io.Writer, logger *zap.Logger) *Gate {
	return &Gate{
		mode:    cfg.LoginMode,
		timeout: cfg.LoginTimeout,
		settle:  cfg.LoginSettle,
		in:      in,
		out:     out,
		logger:  logger.Named("login"),
	}
}

// Wait returns once the operator is logged in, then lets the page settle.
func (g *Gate) Wait(ctx context.Context, host engine.Host, rows RowCounter) error {
	switch g.mode {
	case config.LoginNone, "":
		return nil
	case config.LoginPrompt:
		if err := g.prompt(ctx); err != nil {
			return err
		}
		if n, err := rows.Count(ctx, engine.RoleRow, engine.PageScope()); err == nil {
			if n == 0 {
				g.logger.Warn("No list rows visible yet; the run will start anyway.")
			} else {
				g.logger.Info("List detected.", zap.Int("rows", n))
			}
		}
	case config.LoginWait:
		g.logger.Info("Waiting for the list to appear.", zap.Duration("timeout", g.timeout))
		if _, err := rows.Await(ctx, engine.RoleRow, engine.PageScope(), g.timeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, engine.ErrLocatorMiss) {
				return fmt.Errorf("%w after %v", ErrTimeout, g.timeout)
			}
			return fmt.Errorf("failed waiting for login: %w", err)
		}
		g.logger.Info("List detected.")
	default:
		return fmt.Errorf("unknown login mode %q", g.mode)
	}

	if g.settle > 0 {
		return host.Wait(ctx, g.settle)
	}
	return nil
}

// prompt waits for a line on in. A closed input counts as confirmation so
// non-interactive runs do not hang.
func (g *Gate) prompt(ctx context.Context) error {
	fmt.Fprint(g.out, promptText)

	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(g.in).ReadString('\n')
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if errors.Is(err, io.EOF) {
			g.logger.Warn("Input closed before confirmation; continuing.")
		}
		return nil
	}
}
