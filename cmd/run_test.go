// File: cmd/run_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sweep-cli/internal/config"
	"github.com/xkilldash9x/sweep-cli/internal/engine"
	"github.com/xkilldash9x/sweep-cli/internal/store"
)

func TestBuildExclusion(t *testing.T) {
	t.Run("NothingExcluded", func(t *testing.T) {
		pred, err := buildExclusion(config.TargetConfig{ExcludeKeywords: []string{" ", ""}})
		require.NoError(t, err)
		assert.Nil(t, pred)
	})

	t.Run("KeywordsAndPattern", func(t *testing.T) {
		pred, err := buildExclusion(config.TargetConfig{
			ExcludeKeywords: []string{"Marketplace"},
			ExcludePattern:  `^VIP\b`,
		})
		require.NoError(t, err)
		require.NotNil(t, pred)

		tests := []struct {
			item engine.Item
			want bool
		}{
			{engine.Item{Text: "Chat with Ana"}, false},
			{engine.Item{Text: "marketplace: bike for sale"}, true},
			{engine.Item{Text: "Bike", Label: "Marketplace listing"}, true},
			{engine.Item{Text: "VIP lounge"}, true},
			{engine.Item{Text: "Not a VIP"}, false},
		}
		for _, tt := range tests {
			assert.Equal(t, tt.want, pred(tt.item), tt.item.Text)
		}
	})

	t.Run("BadPattern", func(t *testing.T) {
		_, err := buildExclusion(config.TargetConfig{ExcludePattern: "("})
		assert.ErrorContains(t, err, "invalid exclude pattern")
	})
}

func TestEngineConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	got := engineConfig(cfg)

	assert.Equal(t, 3, got.Recovery.Threshold)
	assert.Equal(t, engine.RecoveryReload, got.Recovery.Mode)
	assert.Equal(t, 30*time.Second, got.Recovery.Timeout)
	assert.Equal(t, 2, got.Recovery.Attempts)
	assert.Equal(t, 10, got.Recovery.MaxResets)
	assert.Equal(t, 5*time.Second, got.AwaitTimeout)
	assert.Equal(t, 200*time.Millisecond, got.PollInterval)
	assert.Equal(t, 2*time.Second, got.PostDeleteSettle)
	assert.Equal(t, 3, got.StaleRetries)
	assert.Equal(t, 4.0, got.ActionsPerSecond)
}

func TestLoadTable(t *testing.T) {
	table, err := loadTable(config.LocatorConfig{})
	require.NoError(t, err)
	assert.NoError(t, table.Validate())

	_, err = loadTable(config.LocatorConfig{TableFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorContains(t, err, "invalid selector table")
}

// emptyListHost serves a page whose list has no rows.
type emptyListHost struct {
	engine.Host

	mu        sync.Mutex
	navigated []string
	closed    bool
}

func (h *emptyListHost) Navigate(_ context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.navigated = append(h.navigated, url)
	return nil
}

func (h *emptyListHost) QueryAll(context.Context, engine.Scope, engine.Selector) ([]engine.Item, error) {
	return nil, nil
}

func (h *emptyListHost) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func (h *emptyListHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func testRunConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.SetTargetURL("https://example.com/inbox")
	cfg.SetTargetLoginMode(config.LoginNone)
	dsn := filepath.Join(t.TempDir(), "journal.db")
	cfg.JournalCfg = config.JournalConfig{Driver: config.JournalSQLite, DSN: dsn}
	return cfg, dsn
}

func TestRunSweepEmptyList(t *testing.T) {
	cfg, dsn := testRunConfig(t)
	host := &emptyListHost{}
	var out bytes.Buffer
	deps := runDeps{
		openHost: func(context.Context, config.BrowserConfig, *zap.Logger) (browserHost, error) {
			return host, nil
		},
		openJournal: store.Open,
		in:          strings.NewReader(""),
		out:         &out,
	}

	require.NoError(t, runSweep(context.Background(), cfg, deps, zaptest.NewLogger(t)))

	assert.Equal(t, []string{"https://example.com/inbox"}, host.navigated)
	assert.True(t, host.closed, "the browser is closed after the run")
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, out.String(), "deleted:      0")

	journal, err := store.OpenSQLite(context.Background(), dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer journal.Close()
	runs, err := journal.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeCompleted, runs[0].Outcome)
	assert.Equal(t, "https://example.com/inbox", runs[0].URL)
	assert.Contains(t, out.String(), runs[0].ID)

	events, err := journal.ListEvents(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, string(engine.EventDone), events[len(events)-1].Kind)
}

func TestRunSweepFailures(t *testing.T) {
	logger := zaptest.NewLogger(t)
	noHost := func(context.Context, config.BrowserConfig, *zap.Logger) (browserHost, error) {
		return nil, errors.New("chrome not found")
	}

	t.Run("MissingURL", func(t *testing.T) {
		cfg, _ := testRunConfig(t)
		cfg.SetTargetURL("")
		err := runSweep(context.Background(), cfg, runDeps{openHost: noHost, openJournal: store.Open}, logger)
		assert.ErrorContains(t, err, "a target URL is required")
	})

	t.Run("BrowserDoesNotStart", func(t *testing.T) {
		cfg, _ := testRunConfig(t)
		err := runSweep(context.Background(), cfg, runDeps{openHost: noHost, openJournal: store.Open}, logger)
		assert.EqualError(t, err, "failed to start browser: chrome not found")
	})

	t.Run("JournalDoesNotOpen", func(t *testing.T) {
		cfg, _ := testRunConfig(t)
		cfg.JournalCfg.Driver = "mongo"
		err := runSweep(context.Background(), cfg, runDeps{openHost: noHost, openJournal: store.Open}, logger)
		assert.ErrorContains(t, err, "failed to open run journal")
	})
}

func TestRunSweepEliminatorSetupFails(t *testing.T) {
	cfg, dsn := testRunConfig(t)
	host := &emptyListHost{}
	deps := runDeps{
		openHost: func(context.Context, config.BrowserConfig, *zap.Logger) (browserHost, error) {
			return host, nil
		},
		openJournal: store.Open,
		newEliminator: func(engine.Host, engine.Table, engine.Config, *zap.Logger, ...engine.Option) (*engine.Eliminator, error) {
			return nil, errors.New("table has no row queries")
		},
		in:  strings.NewReader(""),
		out: io.Discard,
	}

	err := runSweep(context.Background(), cfg, deps, zaptest.NewLogger(t))
	assert.EqualError(t, err, "table has no row queries")
	assert.True(t, host.closed)

	journal, err := store.OpenSQLite(context.Background(), dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer journal.Close()
	runs, err := journal.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "no run is left in the running state")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, "run-1", true, engine.Result{Previewed: 4, Skipped: 1, Duration: 1500 * time.Millisecond}, context.Canceled)
	assert.Contains(t, out.String(), "Run run-1 interrupted in 2s.")
	assert.Contains(t, out.String(), "would delete: 4")
	assert.Contains(t, out.String(), "skipped:      1")
}
