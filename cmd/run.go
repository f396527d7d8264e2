// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sweep-cli/internal/browser/rodhost"
	"github.com/xkilldash9x/sweep-cli/internal/browser/session"
	"github.com/xkilldash9x/sweep-cli/internal/config"
	"github.com/xkilldash9x/sweep-cli/internal/engine"
	"github.com/xkilldash9x/sweep-cli/internal/login"
	"github.com/xkilldash9x/sweep-cli/internal/observability"
	"github.com/xkilldash9x/sweep-cli/internal/store"
)

const shutdownTimeout = 15 * time.Second

// browserHost is an engine.Host that owns a browser.
type browserHost interface {
	engine.Host
	Close() error
}

// hostOpener launches the browser for a run. Tests replace it.
type hostOpener func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browserHost, error)

func openHost(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (browserHost, error) {
	switch cfg.Driver {
	case config.DriverRod:
		h, err := rodhost.Launch(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		s, err := session.Launch(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// eliminatorFactory builds the elimination loop; engine.New in production.
type eliminatorFactory func(engine.Host, engine.Table, engine.Config, *zap.Logger, ...engine.Option) (*engine.Eliminator, error)

// runDeps are the collaborators of a run that tests swap out.
type runDeps struct {
	openHost      hostOpener
	openJournal   journalOpener
	newEliminator eliminatorFactory
	in            io.Reader
	out           io.Writer
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Delete every item of the list at url",
		Long: `Opens the list page, waits for you to log in, then deletes rows one by one
through their action menus until the list is empty or --max is reached.
Rows matching --exclude or --exclude-pattern are left in place.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.SetTargetURL(args[0])
			}
			deps := runDeps{
				openHost:      openHost,
				openJournal:   store.Open,
				newEliminator: engine.New,
				in:            cmd.InOrStdin(),
				out:           cmd.OutOrStdout(),
			}
			return runSweep(cmd.Context(), cfg, deps, observability.GetLogger())
		},
	}

	flags := runCmd.Flags()
	flags.String("url", "", "URL of the list page (overrides target.url)")
	flags.Int("max", 0, "stop after this many deletions, 0 for no limit")
	flags.Duration("delay", 0, "pause after every menu, delete and confirm step")
	flags.Duration("wait", 0, "settle time after each deletion")
	flags.StringSlice("exclude", nil, "keep rows whose text contains any of these keywords")
	flags.String("exclude-pattern", "", "keep rows whose text matches this regular expression")
	flags.Bool("dry-run", false, "list the rows that would be deleted without deleting anything")
	flags.String("login", "", "login gate: prompt, wait or none")
	flags.String("driver", "", "browser driver: chromedp or rod")
	flags.Bool("headless", false, "run the browser without a window")
	flags.Bool("humanoid", false, "move the pointer along human-like paths")
	flags.String("remote-url", "", "attach to a running browser instead of launching one")
	flags.String("table", "", "YAML file overriding the built-in selector table")
	flags.String("journal", "", "run journal: sqlite, postgres or none")
	flags.String("journal-dsn", "", "journal file path or connection string")
	return runCmd
}

// runSweep performs one elimination run and reports its result. Partial
// results are reported even when the run is interrupted.
func runSweep(ctx context.Context, cfg config.Interface, deps runDeps, logger *zap.Logger) error {
	target := cfg.Target()
	if target.URL == "" {
		return errors.New("a target URL is required (argument, --url or target.url)")
	}

	table, err := loadTable(cfg.Locator())
	if err != nil {
		return err
	}
	exclude, err := buildExclusion(target)
	if err != nil {
		return err
	}

	journal, err := deps.openJournal(ctx, cfg.Journal(), logger)
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Warn("Failed to close run journal.", zap.Error(err))
		}
	}()

	host, err := deps.openHost(ctx, cfg.Browser(), logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := host.Close(); err != nil {
			logger.Warn("Error during browser shutdown.", zap.Error(err))
		}
	}()

	if err := host.Navigate(ctx, target.URL); err != nil {
		return err
	}

	locator := engine.NewLocator(host, table, cfg.Locator().PollInterval, logger)
	gate := login.New(target, deps.in, deps.out, logger)
	if err := gate.Wait(ctx, host, locator); err != nil {
		return err
	}

	newEliminator := deps.newEliminator
	if newEliminator == nil {
		newEliminator = engine.New
	}
	rec := store.NewRecorder(journal, target.URL, target.DryRun, logger)
	eliminator, err := newEliminator(host, table, engineConfig(cfg), logger, engine.WithObserver(rec))
	if err != nil {
		return err
	}
	if err := rec.Start(ctx); err != nil {
		return fmt.Errorf("failed to journal run start: %w", err)
	}

	logger.Info("Starting elimination run.",
		zap.String("run_id", rec.RunID()),
		zap.String("url", target.URL),
		zap.Int("max", target.MaxDeletions),
		zap.Bool("dry_run", target.DryRun))

	res, runErr := eliminator.Run(ctx, engine.Options{
		MaxDeletions:       target.MaxDeletions,
		InterActionDelay:   cfg.Engine().InterActionDelay,
		ExclusionPredicate: exclude,
		DryRun:             target.DryRun,
	})

	finishCtx, cancel := context.WithTimeout(session.Detach(ctx), shutdownTimeout)
	defer cancel()
	if err := rec.Finish(finishCtx, res, runErr); err != nil {
		logger.Warn("Run journal is incomplete.", zap.String("run_id", rec.RunID()), zap.Error(err))
	}

	printSummary(deps.out, rec.RunID(), target.DryRun, res, runErr)
	return runErr
}

func loadTable(cfg config.LocatorConfig) (engine.Table, error) {
	table := engine.DefaultTable()
	if cfg.TableFile == "" {
		return table, nil
	}
	table, err := engine.LoadTableFile(cfg.TableFile, table)
	if err != nil {
		return nil, fmt.Errorf("invalid selector table %s: %w", cfg.TableFile, err)
	}
	return table, nil
}

// buildExclusion assembles the keep-rule from keywords (case-insensitive
// substrings of the row text or label) and an optional regular expression.
// It returns nil when nothing is excluded.
func buildExclusion(t config.TargetConfig) (func(engine.Item) bool, error) {
	var keywords []string
	for _, k := range t.ExcludeKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, strings.ToLower(k))
		}
	}
	var pattern *regexp.Regexp
	if t.ExcludePattern != "" {
		re, err := regexp.Compile(t.ExcludePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		pattern = re
	}
	if len(keywords) == 0 && pattern == nil {
		return nil, nil
	}

	return func(it engine.Item) bool {
		text := strings.ToLower(it.Text + "\n" + it.Label)
		for _, k := range keywords {
			if strings.Contains(text, k) {
				return true
			}
		}
		return pattern != nil && (pattern.MatchString(it.Text) || pattern.MatchString(it.Label))
	}, nil
}

func engineConfig(cfg config.Interface) engine.Config {
	e, l := cfg.Engine(), cfg.Locator()
	return engine.Config{
		Recovery: engine.RecoveryConfig{
			Threshold: e.FailureThreshold,
			Mode:      engine.RecoveryMode(e.RecoveryMode),
			Settle:    e.RecoverySettle,
			Timeout:   e.RecoveryTimeout,
			Attempts:  e.RecoveryAttempts,
			MaxResets: e.MaxResets,
		},
		AwaitTimeout:     l.WaitTimeout,
		PollInterval:     l.PollInterval,
		PostDeleteSettle: e.PostDeleteSettle,
		ScrollSettle:     e.ScrollSettle,
		StaleSettle:      e.StaleSettle,
		StaleRetries:     e.StaleRetries,
		ActionsPerSecond: e.ActionsPerSecond,
	}
}

func printSummary(w io.Writer, runID string, dryRun bool, res engine.Result, runErr error) {
	status := "completed"
	switch store.OutcomeFor(runErr) {
	case store.OutcomeInterrupted:
		status = "interrupted"
	case store.OutcomeFailed:
		status = "failed: " + runErr.Error()
	}
	fmt.Fprintf(w, "\nRun %s %s in %s.\n", runID, status, res.Duration.Round(time.Second))
	if dryRun {
		fmt.Fprintf(w, "  would delete: %d\n", res.Previewed)
	} else {
		fmt.Fprintf(w, "  deleted:      %d\n", res.Deleted)
	}
	fmt.Fprintf(w, "  skipped:      %d\n", res.Skipped)
	fmt.Fprintf(w, "  page resets:  %d\n", res.Resets)
}
