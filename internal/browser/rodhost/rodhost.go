// internal/browser/rodhost/rodhost.go

// Package rodhost implements engine.Host on go-rod. It is the alternative to
// the chromedp session and shares its page library, so both drivers see the
// page the same way.
package rodhost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	rodstealth "github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sweep-cli/internal/browser/humanoid"
	"github.com/xkilldash9x/sweep-cli/internal/browser/script"
	"github.com/xkilldash9x/sweep-cli/internal/browser/session"
	"github.com/xkilldash9x/sweep-cli/internal/browser/stealth"
	"github.com/xkilldash9x/sweep-cli/internal/config"
	"github.com/xkilldash9x/sweep-cli/internal/engine"
)

const (
	readyPollInterval    = 250 * time.Millisecond
	defaultActionTimeout = 10 * time.Second
	defaultNavTimeout    = 60 * time.Second
)

// Host drives one rod page.
type Host struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	cfg      config.BrowserConfig
	logger   *zap.Logger
	humanoid *humanoid.Humanoid

	evaluate     func(ctx context.Context, expr string) (string, error)
	pollInterval time.Duration
}

var _ engine.Host = (*Host)(nil)

// Launch starts Chrome through the rod launcher, or connects to
// cfg.RemoteURL, and opens a page with the stealth evasions applied.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Host, error) {
	log := logger.Named("rodhost")

	h := &Host{cfg: cfg, logger: log, pollInterval: readyPollInterval}
	controlURL := cfg.RemoteURL
	if controlURL == "" {
		h.launcher = newLauncher(cfg)
		u, err := h.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
		log.Info("Launched local browser.", zap.Bool("headless", cfg.Headless))
	} else {
		log.Info("Attaching to running browser.", zap.String("url", controlURL))
	}

	h.browser = rod.New().Context(ctx).ControlURL(controlURL)
	if err := h.browser.Connect(); err != nil {
		h.cleanupLauncher()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	if cfg.IgnoreTLSErrors {
		if err := h.browser.IgnoreCertErrors(true); err != nil {
			log.Warn("Failed to ignore certificate errors.", zap.Error(err))
		}
	}

	var err error
	if cfg.Stealth {
		h.page, err = rodstealth.Page(h.browser)
	} else {
		h.page, err = h.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if cfg.Stealth {
		persona, err := stealth.Script(stealth.DefaultPersona)
		if err == nil {
			_, err = h.page.EvalOnNewDocument(persona)
		}
		if err != nil {
			log.Warn("Failed to install persona script.", zap.Error(err))
		}
	}

	w, hgt := viewport(cfg)
	if err := h.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: w, Height: hgt, DeviceScaleFactor: 1}); err != nil {
		log.Debug("Failed to set viewport.", zap.Error(err))
	}

	h.evaluate = h.eval
	if cfg.Humanoid.Enabled {
		h.humanoid = humanoid.New(session.HumanoidConfig(cfg.Humanoid), log, &executor{page: h.page})
	}
	return h, nil
}

func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if cfg.UserDataDir != "" {
		l = l.UserDataDir(cfg.UserDataDir)
	}
	for name, value := range extraFlags(cfg.Args) {
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}
	return l
}

// extraFlags parses user-supplied switches ("--name" or "--name=value").
func extraFlags(args []string) map[string]string {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		name, value, _ := strings.Cut(arg, "=")
		out[name] = value
	}
	return out
}

func viewport(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 {
		w = 1366
	}
	if h <= 0 {
		h = 900
	}
	return w, h
}

func (h *Host) cleanupLauncher() {
	if h.launcher != nil {
		h.launcher.Kill()
		h.launcher.Cleanup()
	}
}

// Close closes the page and the browser, and removes a launched browser's
// temporary profile.
func (h *Host) Close() error {
	var errs []error
	if h.page != nil {
		if err := h.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if h.browser != nil && h.cfg.RemoteURL == "" {
		if err := h.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	h.cleanupLauncher()
	return errors.Join(errs...)
}

func (h *Host) actionTimeout() time.Duration {
	if h.cfg.ActionTimeout > 0 {
		return h.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

func (h *Host) navTimeout() time.Duration {
	if h.cfg.NavigationTimeout > 0 {
		return h.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// eval runs a library expression and returns its JSON string result.
func (h *Host) eval(ctx context.Context, expr string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.actionTimeout())
	defer cancel()
	res, err := h.page.Context(ctx).Eval("() => " + expr)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (h *Host) call(ctx context.Context, op script.Op, args script.Args) (script.Response, error) {
	expr, err := script.Call(op, args)
	if err != nil {
		return script.Response{}, err
	}
	raw, err := h.evaluate(ctx, expr)
	if err != nil {
		if ctx.Err() != nil {
			return script.Response{}, ctx.Err()
		}
		return script.Response{}, fmt.Errorf("%s: %w", op, err)
	}
	return script.Decode(op, raw)
}

// Navigate loads url and waits for the document.
func (h *Host) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, h.navTimeout())
	defer cancel()
	h.logger.Info("Navigating.", zap.String("url", url))
	if err := h.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return h.WaitReady(navCtx)
}

func (h *Host) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, h.navTimeout())
	defer cancel()
	if err := h.page.Context(navCtx).Reload(); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return h.WaitReady(navCtx)
}

func (h *Host) GoBack(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, h.navTimeout())
	defer cancel()
	if err := h.page.Context(navCtx).NavigateBack(); err != nil {
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	return h.WaitReady(navCtx)
}

// WaitReady polls the document until it can be queried.
func (h *Host) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.navTimeout())
	defer cancel()
	for {
		resp, err := h.call(ctx, script.OpReady, script.Args{})
		if err == nil && resp.Ready {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("page not ready: %w", ctx.Err())
		}
		if err := sleep(ctx, h.pollInterval); err != nil {
			return fmt.Errorf("page not ready: %w", err)
		}
	}
}

func (h *Host) QueryAll(ctx context.Context, scope engine.Scope, sel engine.Selector) ([]engine.Item, error) {
	resp, err := h.call(ctx, script.OpQuery, script.QueryArgs(scope, sel))
	if err != nil {
		return nil, err
	}
	return resp.ToItems(), nil
}

func (h *Host) ScrollToBottom(ctx context.Context) error {
	_, err := h.call(ctx, script.OpScrollBottom, script.Args{})
	return err
}

func (h *Host) ScrollIntoView(ctx context.Context, item engine.Item) error {
	_, err := h.call(ctx, script.OpScrollIntoView, script.Target(item))
	return err
}

// element resolves item to a rod element, failing with ErrStale when the
// handle no longer matches a connected node.
func (h *Host) element(ctx context.Context, item engine.Item) (*rod.Element, error) {
	ok, err := h.IsAttached(ctx, item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("handle %s: %w", item.Handle, engine.ErrStale)
	}
	opCtx, cancel := context.WithTimeout(ctx, h.actionTimeout())
	defer cancel()
	el, err := h.page.Context(opCtx).Element(script.Selector(item.Handle))
	if err != nil {
		return nil, fmt.Errorf("handle %s: %w", item.Handle, err)
	}
	return el.Context(ctx), nil
}

func (h *Host) Hover(ctx context.Context, item engine.Item) error {
	if h.humanoid != nil {
		box, err := h.geometry(ctx, item)
		if err != nil {
			return err
		}
		return h.humanoid.MoveTo(ctx, box)
	}
	el, err := h.element(ctx, item)
	if err != nil {
		return err
	}
	return el.Hover()
}

func (h *Host) Click(ctx context.Context, item engine.Item) error {
	return h.nativeClick(ctx, item, humanoid.ButtonLeft, proto.InputMouseButtonLeft)
}

func (h *Host) ContextClick(ctx context.Context, item engine.Item) error {
	return h.nativeClick(ctx, item, humanoid.ButtonRight, proto.InputMouseButtonRight)
}

func (h *Host) nativeClick(ctx context.Context, item engine.Item, hb humanoid.MouseButton, rb proto.InputMouseButton) error {
	if h.humanoid != nil {
		box, err := h.geometry(ctx, item)
		if err != nil {
			return err
		}
		return h.humanoid.Click(ctx, box, hb)
	}
	el, err := h.element(ctx, item)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, h.actionTimeout())
	defer cancel()
	return el.Context(opCtx).Click(rb, 1)
}

func (h *Host) ClickViaProgram(ctx context.Context, item engine.Item) error {
	_, err := h.call(ctx, script.OpClick, script.Target(item))
	return err
}

func (h *Host) ClickViaPointerSequence(ctx context.Context, item engine.Item) error {
	_, err := h.call(ctx, script.OpPointer, script.Target(item))
	return err
}

func (h *Host) ContextClickViaProgram(ctx context.Context, item engine.Item) error {
	_, err := h.call(ctx, script.OpContextMenu, script.Target(item))
	return err
}

var keyMap = map[engine.Key]input.Key{
	engine.KeyEscape: input.Escape,
	engine.KeyDelete: input.Delete,
	engine.KeyEnter:  input.Enter,
}

// SendKey presses and releases key on the focused element.
func (h *Host) SendKey(ctx context.Context, key engine.Key) error {
	k, ok := keyMap[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	opCtx, cancel := context.WithTimeout(ctx, h.actionTimeout())
	defer cancel()
	page := h.page.Context(opCtx)
	if err := k.Encode(proto.InputDispatchKeyEventTypeKeyDown, 0).Call(page); err != nil {
		return fmt.Errorf("send key %s: %w", key, err)
	}
	if err := k.Encode(proto.InputDispatchKeyEventTypeKeyUp, 0).Call(page); err != nil {
		return fmt.Errorf("send key %s: %w", key, err)
	}
	return nil
}

func (h *Host) ClickBlank(ctx context.Context) error {
	_, err := h.call(ctx, script.OpBlank, script.Args{})
	return err
}

func (h *Host) Wait(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (h *Host) IsAttached(ctx context.Context, item engine.Item) (bool, error) {
	resp, err := h.call(ctx, script.OpAttached, script.Target(item))
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (h *Host) geometry(ctx context.Context, item engine.Item) (humanoid.Box, error) {
	if err := h.ScrollIntoView(ctx, item); err != nil {
		return humanoid.Box{}, err
	}
	resp, err := h.call(ctx, script.OpGeometry, script.Target(item))
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

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
