package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	j, err := OpenSQLite(context.Background(), MemoryDSN, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSQLiteRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := Run{ID: uuid.NewString(), URL: "https://example.com/messages", DryRun: true, StartedAt: started}
	require.NoError(t, j.StartRun(ctx, run))

	runs, err := j.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, OutcomeRunning, runs[0].Outcome)
	assert.Nil(t, runs[0].FinishedAt)
	assert.True(t, runs[0].DryRun)

	finished := started.Add(90 * time.Second)
	run.FinishedAt = &finished
	run.Deleted, run.Skipped, run.Previewed, run.Resets = 12, 2, 0, 1
	run.Outcome = OutcomeInterrupted
	run.Error = "context canceled"
	require.NoError(t, j.FinishRun(ctx, run))

	runs, err = j.ListRuns(ctx, 10)
	require.NoError(t, err)
	if diff := cmp.Diff([]Run{run}, runs); diff != "" {
		t.Errorf("ListRuns() mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteFinishUnknownRun(t *testing.T) {
	j := openMemory(t)
	err := j.FinishRun(context.Background(), Run{ID: "missing", Outcome: OutcomeCompleted})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSQLiteListRunsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		ids = append(ids, id)
		require.NoError(t, j.StartRun(ctx, Run{ID: id, URL: "u", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := j.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestSQLiteEvents(t *testing.T) {
	ctx := context.Background()
	j := openMemory(t)

	runID := uuid.NewString()
	require.NoError(t, j.StartRun(ctx, Run{ID: runID, URL: "u", StartedAt: time.Now()}))

	at := time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC)
	events := []EventRecord{
		{RunID: runID, Seq: 1, Kind: "deleted", At: at, Identity: "id:row-1", Detail: Detail{Text: "Ana", State: "deleted", Deleted: 1}},
		{RunID: runID, Seq: 2, Kind: "excluded", At: at.Add(time.Second), Identity: "id:row-2", Detail: Detail{Reason: "excluded by rule", Deleted: 1}},
	}
	require.NoError(t, j.AppendEvents(ctx, runID, events[1:]))
	require.NoError(t, j.AppendEvents(ctx, runID, events[:1]))
	require.NoError(t, j.AppendEvents(ctx, runID, nil))

	got, err := j.ListEvents(ctx, runID)
	require.NoError(t, err)
	if diff := cmp.Diff(events, got); diff != "" {
		t.Errorf("ListEvents() mismatch (-want +got):\n%s", diff)
	}

	t.Run("DuplicateSeqRollsBack", func(t *testing.T) {
		dup := []EventRecord{
			{Seq: 3, Kind: "stale", At: at},
			{Seq: 1, Kind: "deleted", At: at},
		}
		err := j.AppendEvents(ctx, runID, dup)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert event 1")

		got, err := j.ListEvents(ctx, runID)
		require.NoError(t, err)
		assert.Len(t, got, 2, "the failed batch must not be partially applied")
	})

	t.Run("UnknownRunViolatesForeignKey", func(t *testing.T) {
		err := j.AppendEvents(ctx, "missing", []EventRecord{{Seq: 1, Kind: "deleted", At: at}})
		assert.Error(t, err)
	})
}
