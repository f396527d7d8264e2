package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder collects observer events.
type recorder struct {
	events  []Event
	onEvent func(Event)
}

func (r *recorder) Observe(e Event) {
	r.events = append(r.events, e)
	if r.onEvent != nil {
		r.onEvent(e)
	}
}

func (r *recorder) kinds(kind EventKind) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestEliminator(t *testing.T, h *fakeHost, cfg Config, rec *recorder) *Eliminator {
	t.Helper()
	var opts []Option
	if rec != nil {
		opts = append(opts, WithObserver(rec))
	}
	e, err := New(h, testTable(), cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return e
}

func liveIDs(h *fakeHost) []string {
	var ids []string
	for _, r := range h.rows {
		if !r.deleted {
			ids = append(ids, r.id)
		}
	}
	return ids
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := New(nil, testTable(), DefaultConfig(), logger)
	assert.Error(t, err)

	_, err = New(newFakeHost(1), testTable(), DefaultConfig(), nil)
	assert.Error(t, err)

	table := testTable()
	delete(table, RoleConfirmAction)
	_, err = New(newFakeHost(1), table, DefaultConfig(), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirm_action")
}

func TestRun_DeletesEveryRowExactlyOnce(t *testing.T) {
	h := newFakeHost(5)
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Deleted)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Resets)
	assert.Empty(t, liveIDs(h))
	for _, r := range h.rows {
		assert.Equal(t, 1, h.deletions[r.id], "row %s", r.id)
	}
	assert.Len(t, rec.kinds(EventDeleted), 5)

	done := rec.kinds(EventDone)
	require.Len(t, done, 1)
	assert.Equal(t, StateDone, done[0].State)
	assert.Equal(t, "completed", done[0].Reason)
	assert.Equal(t, StateDone, e.State())
}

func TestRun_ExclusionPreservesRow(t *testing.T) {
	h := newFakeHost(5)
	h.rows[1].text = "Marketplace listing"
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(context.Background(), Options{
		ExclusionPredicate: func(it Item) bool { return strings.Contains(it.Text, "Marketplace") },
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Deleted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"r2"}, liveIDs(h))
	assert.Zero(t, h.deletions["r2"])

	excluded := rec.kinds(EventExcluded)
	require.Len(t, excluded, 1)
	assert.Equal(t, "data-id=r2", excluded[0].Identity)
	assert.Equal(t, StateSkipped, excluded[0].State)
}

func TestRun_MissingDeleteActionSkipsRow(t *testing.T) {
	h := newFakeHost(5)
	h.rows[2].noDelete = true
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Deleted)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, h.reloads)
	assert.Equal(t, []string{"r3"}, liveIDs(h))

	errored := rec.kinds(EventErrored)
	require.Len(t, errored, 1)
	assert.Equal(t, "data-id=r3", errored[0].Identity)
	assert.Equal(t, StateMenuOpen, errored[0].State)
	assert.Contains(t, errored[0].Reason, ErrLocatorMiss.Error())
	// The open menu was dismissed before moving on.
	assert.Equal(t, 1, h.count("blank"))
}

func TestRun_ConsecutiveFailuresTriggerOneReset(t *testing.T) {
	h := newFakeHost(5)
	broken := true
	h.fail = func(op, handle string) error {
		if !broken {
			return nil
		}
		switch op {
		case "click", "program", "pointer", "context", "context_program":
			return errors.New("element not interactable")
		}
		return nil
	}
	h.onReload = func(*fakeHost) { broken = false }

	attemptedAtReset := -1
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)
	rec.onEvent = func(ev Event) {
		if ev.Kind == EventReset {
			attemptedAtReset = e.Tracker().AttemptedLen()
		}
	}

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	errored := rec.kinds(EventErrored)
	require.Len(t, errored, 3)
	for _, ev := range errored {
		assert.Contains(t, ev.Reason, ErrDispatchExhausted.Error())
	}
	assert.Equal(t, 1, h.reloads)
	assert.Len(t, rec.kinds(EventReset), 1)
	assert.Equal(t, 0, attemptedAtReset)

	assert.Equal(t, 5, res.Deleted)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, 1, res.Resets)
	assert.Empty(t, liveIDs(h))
}

func TestRun_RecoveryExhausted(t *testing.T) {
	h := newFakeHost(5)
	h.fail = func(op, handle string) error {
		switch op {
		case "click", "program", "pointer", "context", "context_program":
			return errors.New("element not interactable")
		}
		return nil
	}
	h.readyErr = errors.New("document never became ready")

	cfg := testConfig()
	cfg.Recovery.Attempts = 2
	rec := &recorder{}
	e := newTestEliminator(t, h, cfg, rec)

	res, err := e.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecoveryExhausted)

	assert.Equal(t, 2, h.reloads)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, res.Resets)
	assert.Empty(t, rec.kinds(EventReset))

	done := rec.kinds(EventDone)
	require.Len(t, done, 1)
	assert.Contains(t, done[0].Reason, ErrRecoveryExhausted.Error())
}

func TestRun_ResetCapTerminatesPersistentFailure(t *testing.T) {
	h := newFakeHost(5)
	h.fail = func(op, handle string) error {
		switch op {
		case "click", "program", "pointer", "context", "context_program":
			return errors.New("overlay intercepts pointer events")
		}
		return nil
	}

	cfg := testConfig()
	cfg.Recovery.MaxResets = 2
	rec := &recorder{}
	e := newTestEliminator(t, h, cfg, rec)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err, "the reset limit ends the run like convergence")
	assert.Equal(t, 2, h.reloads)
	assert.Equal(t, 2, res.Resets)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 5, res.Skipped)
	assert.Len(t, liveIDs(h), 5)

	done := rec.kinds(EventDone)
	require.Len(t, done, 1)
	assert.Equal(t, "completed", done[0].Reason)
}

func TestRun_UndeletableTailEndsCleanly(t *testing.T) {
	h := newFakeHost(5)
	for _, r := range h.rows[2:] {
		r.noDelete = true
	}
	e := newTestEliminator(t, h, testConfig(), nil)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 5, res.Resets)
	assert.Equal(t, []string{"r3", "r4", "r5"}, liveIDs(h))
}

func TestRun_RowsSharingAFingerprintAreAllDeleted(t *testing.T) {
	h := newFakeHost(3)
	for _, r := range h.rows[:2] {
		r.text = "You sent a photo"
		r.noAttrs = true
	}
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Zero(t, res.Skipped)
	assert.Empty(t, liveIDs(h))
	for _, r := range h.rows {
		assert.Equal(t, 1, h.deletions[r.id], "row %s", r.id)
	}

	deleted := rec.kinds(EventDeleted)
	require.Len(t, deleted, 3)
	assert.Equal(t, deleted[0].Identity, deleted[1].Identity)
}

func TestRun_ScanCountIsBounded(t *testing.T) {
	h := newFakeHost(6)
	h.rows[1].text = "Pinned chat"
	h.rows[3].noDelete = true
	e := newTestEliminator(t, h, testConfig(), nil)

	res, err := e.Run(context.Background(), Options{
		ExclusionPredicate: func(it Item) bool { return strings.HasPrefix(it.Text, "Pinned") },
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Deleted)
	assert.Equal(t, 2, res.Skipped)
	// One scan per selected row, one that finds nothing pending and the
	// count after the final load-more.
	assert.LessOrEqual(t, h.rowQueries, len(h.rows)+2)
}

func TestRun_MaxDeletionsCap(t *testing.T) {
	h := newFakeHost(5)
	e := newTestEliminator(t, h, testConfig(), nil)

	res, err := e.Run(context.Background(), Options{MaxDeletions: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, []string{"r3", "r4", "r5"}, liveIDs(h))
	total := 0
	for _, n := range h.deletions {
		total += n
	}
	assert.Equal(t, 2, total)
}

func TestRun_LoadsMoreRowsUntilConverged(t *testing.T) {
	h := newFakeHost(4)
	h.rendered, h.pageSize = 2, 2
	h.rows[0].text = "Marketplace"
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(context.Background(), Options{
		ExclusionPredicate: func(it Item) bool { return it.Text == "Marketplace" },
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, h.scrolls)
	assert.Len(t, rec.kinds(EventAdvanced), 1)
	assert.Equal(t, []string{"r1"}, liveIDs(h))
}

func TestRun_StaleRowIsRescanned(t *testing.T) {
	h := newFakeHost(3)
	staleOnce := true
	h.fail = func(op, handle string) error {
		if op == "hover" && handle == "row:r1" && staleOnce {
			staleOnce = false
			return errors.Join(errors.New("node detached"), ErrStale)
		}
		return nil
	}
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Deleted)
	assert.Zero(t, res.Skipped)
	assert.Len(t, rec.kinds(EventStale), 1)
	assert.Empty(t, rec.kinds(EventErrored))
	assert.Equal(t, 1, h.deletions["r1"])
}

func TestRun_PersistentStaleBecomesFailure(t *testing.T) {
	h := newFakeHost(3)
	h.fail = func(op, handle string) error {
		if op == "hover" && handle == "row:r1" {
			return errors.Join(errors.New("node detached"), ErrStale)
		}
		return nil
	}
	cfg := testConfig()
	cfg.StaleRetries = 2
	rec := &recorder{}
	e := newTestEliminator(t, h, cfg, rec)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Len(t, rec.kinds(EventStale), 2)
	require.Len(t, rec.kinds(EventErrored), 1)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"r1"}, liveIDs(h))
}

func TestRun_CancellationReturnsPartialResult(t *testing.T) {
	h := newFakeHost(5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onEvent: func(ev Event) {
		if ev.Kind == EventDeleted {
			cancel()
		}
	}}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Deleted)
	assert.Len(t, liveIDs(h), 4)
}

func TestRun_DryRunNeverOpensMenus(t *testing.T) {
	h := newFakeHost(5)
	h.rows[4].text = "Keep me"
	rec := &recorder{}
	e := newTestEliminator(t, h, testConfig(), rec)

	res, err := e.Run(context.Background(), Options{
		DryRun:             true,
		ExclusionPredicate: func(it Item) bool { return it.Text == "Keep me" },
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Previewed)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, liveIDs(h), 5)
	assert.Zero(t, h.count("click"))
	assert.Zero(t, h.count("hover"))
	assert.Len(t, rec.kinds(EventPreviewed), 4)
}

func TestRun_DryRunHonoursCap(t *testing.T) {
	h := newFakeHost(5)
	e := newTestEliminator(t, h, testConfig(), nil)

	res, err := e.Run(context.Background(), Options{DryRun: true, MaxDeletions: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Previewed)
}

func TestRun_ContextMenuFallbackWithoutTrigger(t *testing.T) {
	h := newFakeHost(3)
	h.rows[1].noTrigger = true
	e := newTestEliminator(t, h, testConfig(), nil)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 1, h.count("context"))
	assert.Contains(t, h.calls, "context row:r2")
}

func TestRun_FallsBackToProgramClick(t *testing.T) {
	h := newFakeHost(5)
	h.fail = func(op, handle string) error {
		if op == "click" && strings.HasPrefix(handle, "trigger:") {
			return errors.New("click intercepted")
		}
		return nil
	}
	e := newTestEliminator(t, h, testConfig(), nil)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Deleted)
	assert.Equal(t, 5, h.count("program"))
	assert.Zero(t, h.count("pointer"))
}

func TestRun_ConfirmMissingEscapesDialog(t *testing.T) {
	h := newFakeHost(2)
	h.hideConfirm = true
	e := newTestEliminator(t, h, testConfig(), nil)

	res, err := e.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Zero(t, res.Deleted)
	assert.Equal(t, 2, res.Skipped)
	assert.Contains(t, h.keys, KeyEscape)
}
