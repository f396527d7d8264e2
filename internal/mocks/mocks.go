// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/sweep-cli/internal/store"
)

// -- Journal Mock --

// MockJournal mocks store.Journal.
type MockJournal struct {
	mock.Mock
}

var _ store.Journal = (*MockJournal)(nil)

func (m *MockJournal) StartRun(ctx context.Context, run store.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockJournal) AppendEvents(ctx context.Context, runID string, events []store.EventRecord) error {
	args := m.Called(ctx, runID, events)
	return args.Error(0)
}

func (m *MockJournal) FinishRun(ctx context.Context, run store.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockJournal) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	args := m.Called(ctx, limit)
	var runs []store.Run
	if v := args.Get(0); v != nil {
		runs = v.([]store.Run)
	}
	return runs, args.Error(1)
}

func (m *MockJournal) ListEvents(ctx context.Context, runID string) ([]store.EventRecord, error) {
	args := m.Called(ctx, runID)
	var events []store.EventRecord
	if v := args.Get(0); v != nil {
		events = v.([]store.EventRecord)
	}
	return events, args.Error(1)
}

func (m *MockJournal) Close() error {
	args := m.Called()
	return args.Error(0)
}
