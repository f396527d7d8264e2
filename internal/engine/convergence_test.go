package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestConvergence(t *testing.T, h *fakeHost) *Convergence {
	logger := zaptest.NewLogger(t)
	return NewConvergence(h, NewLocator(h, testTable(), 0, logger), 3*time.Second, logger)
}

func TestConvergence_GrowthMeansProgress(t *testing.T) {
	h := newFakeHost(6)
	h.rendered, h.pageSize = 2, 2
	c := newTestConvergence(t, h)

	more, err := c.TryAdvance(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, 1, h.scrolls)
	assert.Contains(t, h.waits, 3*time.Second)
}

func TestConvergence_NoGrowthIsConverged(t *testing.T) {
	h := newFakeHost(2)
	c := newTestConvergence(t, h)

	more, err := c.TryAdvance(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestConvergence_EmptyListIsConverged(t *testing.T) {
	h := newFakeHost(0)
	c := newTestConvergence(t, h)

	more, err := c.TryAdvance(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestConvergence_ScrollFailureIsNoProgress(t *testing.T) {
	h := newFakeHost(6)
	h.rendered, h.pageSize = 2, 2
	h.fail = failOps("scroll")
	c := newTestConvergence(t, h)

	more, err := c.TryAdvance(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestConvergence_Cancelled(t *testing.T) {
	h := newFakeHost(2)
	c := newTestConvergence(t, h)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.TryAdvance(ctx, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
