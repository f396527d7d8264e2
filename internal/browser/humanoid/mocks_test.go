package humanoid

import (
	"context"
	"sync"
	"time"
)

// mockExecutor records every dispatched event and requested sleep without
// sleeping.
type mockExecutor struct {
	mu     sync.Mutex
	events []MouseEvent
	sleeps []time.Duration

	// failOnCall makes the nth DispatchMouseEvent call return returnErr.
	failOnCall int
	returnErr  error
	calls      int

	MockSleep func(ctx context.Context, d time.Duration) error
}

func newMockExecutor() *mockExecutor { return &mockExecutor{} }

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, ev MouseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	m.calls++
	if m.returnErr != nil && m.calls >= m.failOnCall {
		return m.returnErr
	}
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	return nil
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps = append(m.sleeps, d)
	return nil
}

func (m *mockExecutor) recorded() []MouseEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MouseEvent(nil), m.events...)
}

func (m *mockExecutor) ofType(t MouseEventType) []MouseEvent {
	var out []MouseEvent
	for _, ev := range m.recorded() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
