// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sweep-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/sweep-cli/internal/browser/script"
	"github.com/xkilldash9x/sweep-cli/internal/browser/stealth"
	"github.com/xkilldash9x/sweep-cli/internal/config"
	"github.com/xkilldash9x/sweep-cli/internal/engine"
)

// ErrSessionClosed is returned for operations on a closed session.
var ErrSessionClosed = errors.New("browser session is closed")

const readyPollInterval = 250 * time.Millisecond

// Session is an engine.Host backed by one chromedp tab.
type Session struct {
	ctx    context.Context // tab context; carries the chromedp target
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger

	executor *cdpExecutor
	// humanoid drives native clicks when enabled; nil otherwise.
	humanoid *humanoid.Humanoid

	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
	evaluate       func(ctx context.Context, expr string) (string, error)
	pollInterval   time.Duration
}

var _ engine.Host = (*Session)(nil)

// Launch starts a browser, or attaches to cfg.RemoteURL, and opens the tab
// the session drives. Close releases both.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	log := logger.Named("session")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		log.Info("Attaching to running browser.", zap.String("url", cfg.RemoteURL))
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		log.Info("Launching browser.",
			zap.Bool("headless", cfg.Headless),
			zap.String("user_data_dir", cfg.UserDataDir))
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	}

	sugar := log.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	// The first Run starts the browser and attaches the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if cfg.Stealth {
		if err := chromedp.Run(tabCtx, stealth.Apply(stealth.DefaultPersona, log)); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to apply stealth persona: %w", err)
		}
	}

	return newSession(tabCtx, cancel, cfg, logger, chromedp.Run), nil
}

// newSession wires a session around an attached tab context. run executes
// CDP actions; tests substitute it.
func newSession(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg config.BrowserConfig,
	logger *zap.Logger,
	run func(ctx context.Context, actions ...chromedp.Action) error,
) *Session {
	s := &Session{
		ctx:            ctx,
		cancel:         cancel,
		cfg:            cfg,
		logger:         logger.Named("session"),
		runActionsFunc: run,
		pollInterval:   readyPollInterval,
	}
	s.executor = &cdpExecutor{
		ctx:            ctx,
		logger:         s.logger,
		runActionsFunc: s.RunActions,
		timeout:        cfg.ActionTimeout,
	}
	s.evaluate = s.executor.Evaluate
	if cfg.Humanoid.Enabled {
		s.humanoid = humanoid.New(HumanoidConfig(cfg.Humanoid), s.logger, s.executor)
	}
	return s
}

// HumanoidConfig maps the file configuration onto the simulation defaults;
// zero values keep the default.
func HumanoidConfig(c config.HumanoidConfig) humanoid.Config {
	h := humanoid.DefaultConfig()
	h.Enabled = c.Enabled
	setIfPositive(&h.FittsAMean, c.FittsAMean)
	setIfPositive(&h.FittsAStdDev, c.FittsAStdDev)
	setIfPositive(&h.FittsBMean, c.FittsBMean)
	setIfPositive(&h.FittsBStdDev, c.FittsBStdDev)
	setIfPositive(&h.GaussianStrengthMean, c.GaussianStrengthMean)
	setIfPositive(&h.PerlinAmplitudeMean, c.PerlinAmplitudeMean)
	setIfPositive(&h.ArcMean, c.ArcMean)
	setIfPositive(&h.FatigueIncreaseRate, c.FatigueIncreaseRate)
	setIfPositive(&h.FatigueRecoveryRate, c.FatigueRecoveryRate)
	if c.ClickHoldMinMs > 0 {
		h.ClickHoldMinMs = c.ClickHoldMinMs
	}
	if c.ClickHoldMaxMs > 0 {
		h.ClickHoldMaxMs = c.ClickHoldMaxMs
	}
	return h
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

// RunActions runs actions in the tab, canceled by either ctx or the session.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	combined, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := s.runActionsFunc(combined, actions...)
	if err == nil {
		return nil
	}
	// Prioritize the caller's context error, then the session's.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	return err
}

// Close shuts the tab and, when launched by us, the browser.
func (s *Session) Close() error {
	if s.ctx.Err() != nil {
		return nil
	}
	if err := chromedp.Cancel(s.ctx); err != nil {
		s.logger.Debug("Graceful tab shutdown failed.", zap.Error(err))
	}
	s.cancel()
	return nil
}

// call runs one page-library op.
func (s *Session) call(ctx context.Context, op script.Op, args script.Args) (script.Response, error) {
	expr, err := script.Call(op, args)
	if err != nil {
		return script.Response{}, err
	}
	raw, err := s.evaluate(ctx, expr)
	if err != nil {
		return script.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	return script.Decode(op, raw)
}

func (s *Session) navTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return 60 * time.Second
}

// Navigate loads url and waits for the document.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout())
	defer cancel()
	s.logger.Info("Navigating.", zap.String("url", url))
	if err := s.RunActions(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return s.WaitReady(navCtx)
}

// Reload reloads the current page.
func (s *Session) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout())
	defer cancel()
	if err := s.RunActions(navCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return s.WaitReady(navCtx)
}

// GoBack navigates one history entry back.
func (s *Session) GoBack(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout())
	defer cancel()
	if err := s.RunActions(navCtx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	return s.WaitReady(navCtx)
}

// WaitReady polls until the document has a body and is past loading. Errors
// while a navigation is in flight are expected and retried.
func (s *Session) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.navTimeout())
	defer cancel()
	for {
		resp, err := s.call(ctx, script.OpReady, script.Args{})
		if err == nil && resp.Ready {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("page not ready: %w", ctx.Err())
		}
		if err != nil {
			s.logger.Debug("Readiness probe failed, retrying.", zap.Error(err))
		}
		if err := s.executor.Sleep(ctx, s.pollInterval); err != nil {
			return fmt.Errorf("page not ready: %w", err)
		}
	}
}

// QueryAll snapshots the elements matching sel inside scope.
func (s *Session) QueryAll(ctx context.Context, scope engine.Scope, sel engine.Selector) ([]engine.Item, error) {
	resp, err := s.call(ctx, script.OpQuery, script.QueryArgs(scope, sel))
	if err != nil {
		return nil, err
	}
	return resp.ToItems(), nil
}

// ScrollToBottom scrolls the window and every scrollable container to the end.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	_, err := s.call(ctx, script.OpScrollBottom, script.Args{})
	return err
}

func (s *Session) ScrollIntoView(ctx context.Context, item engine.Item) error {
	_, err := s.call(ctx, script.OpScrollIntoView, script.Target(item))
	return err
}

// Hover moves the real pointer over item when the humanoid is enabled, and
// fires synthetic hover events otherwise.
func (s *Session) Hover(ctx context.Context, item engine.Item) error {
	if s.humanoid == nil {
		_, err := s.call(ctx, script.OpHover, script.Target(item))
		return err
	}
	box, err := s.geometry(ctx, item)
	if err != nil {
		return err
	}
	return s.humanoid.MoveTo(ctx, box)
}

// Click performs a trusted left click on item.
func (s *Session) Click(ctx context.Context, item engine.Item) error {
	if s.humanoid != nil {
		box, err := s.geometry(ctx, item)
		if err != nil {
			return err
		}
		return s.humanoid.Click(ctx, box, humanoid.ButtonLeft)
	}
	// chromedp.Click waits for the node, so a detached one must be caught first.
	if err := s.requireAttached(ctx, item); err != nil {
		return err
	}
	return s.executor.run(ctx, "click", chromedp.Click(script.Selector(item.Handle), chromedp.ByQuery))
}

// ClickViaProgram calls the element's click() method.
func (s *Session) ClickViaProgram(ctx context.Context, item engine.Item) error {
	_, err := s.call(ctx, script.OpClick, script.Target(item))
	return err
}

// ClickViaPointerSequence fires the full synthetic pointer and mouse sequence.
func (s *Session) ClickViaPointerSequence(ctx context.Context, item engine.Item) error {
	_, err := s.call(ctx, script.OpPointer, script.Target(item))
	return err
}

// ContextClick presses the right button on item with real input events.
func (s *Session) ContextClick(ctx context.Context, item engine.Item) error {
	box, err := s.geometry(ctx, item)
	if err != nil {
		return err
	}
	if s.humanoid != nil {
		return s.humanoid.Click(ctx, box, humanoid.ButtonRight)
	}
	c := box.Center()
	events := []humanoid.MouseEvent{
		{Type: humanoid.MouseMove, X: c.X, Y: c.Y, Button: humanoid.ButtonNone},
		{Type: humanoid.MousePress, X: c.X, Y: c.Y, Button: humanoid.ButtonRight, Buttons: 2, ClickCount: 1},
		{Type: humanoid.MouseRelease, X: c.X, Y: c.Y, Button: humanoid.ButtonRight, ClickCount: 1},
	}
	for _, ev := range events {
		if err := s.executor.DispatchMouseEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// ContextClickViaProgram dispatches a synthetic contextmenu event.
func (s *Session) ContextClickViaProgram(ctx context.Context, item engine.Item) error {
	_, err := s.call(ctx, script.OpContextMenu, script.Target(item))
	return err
}

var keyMap = map[engine.Key]string{
	engine.KeyEscape: kb.Escape,
	engine.KeyDelete: kb.Delete,
	engine.KeyEnter:  kb.Enter,
}

// SendKey types key into whatever has focus.
func (s *Session) SendKey(ctx context.Context, key engine.Key) error {
	k, ok := keyMap[key]
	if !ok {
		k = string(key)
	}
	return s.executor.SendKey(ctx, k)
}

// ClickBlank clicks the page body to dismiss popovers.
func (s *Session) ClickBlank(ctx context.Context) error {
	_, err := s.call(ctx, script.OpBlank, script.Args{})
	return err
}

// Wait sleeps for d unless ctx ends first.
func (s *Session) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return s.executor.Sleep(ctx, d)
}

// IsAttached reports whether item's handle still resolves to a live node.
func (s *Session) IsAttached(ctx context.Context, item engine.Item) (bool, error) {
	resp, err := s.call(ctx, script.OpAttached, script.Target(item))
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (s *Session) requireAttached(ctx context.Context, item engine.Item) error {
	ok, err := s.IsAttached(ctx, item)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("handle %s: %w", item.Handle, engine.ErrStale)
	}
	return nil
}

// geometry returns item's viewport box after scrolling it into view.
func (s *Session) geometry(ctx context.Context, item engine.Item) (humanoid.Box, error) {
	if err := s.ScrollIntoView(ctx, item); err != nil {
		return humanoid.Box{}, err
	}
	resp, err := s.call(ctx, script.OpGeometry, script.Target(item))
	if err != nil {
		return humanoid.Box{}, err
	}
	if resp.Rect == nil {
		return humanoid.Box{}, fmt.Errorf("no geometry for handle %s", item.Handle)
	}
	box := humanoid.Box{X: resp.Rect.X, Y: resp.Rect.Y, Width: resp.Rect.Width, Height: resp.Rect.Height}
	if !box.Valid() {
		return humanoid.Box{}, fmt.Errorf("handle %s has no visible area: %w", item.Handle, humanoid.ErrInvalidBox)
	}
	return box, nil
}
