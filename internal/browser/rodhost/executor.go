// internal/browser/rodhost/executor.go
package rodhost

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/xkilldash9x/sweep-cli/internal/browser/humanoid"
)

// executor feeds humanoid pointer paths to a rod page.
type executor struct {
	page *rod.Page
}

var _ humanoid.Executor = (*executor)(nil)

func (e *executor) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func (e *executor) DispatchMouseEvent(ctx context.Context, ev humanoid.MouseEvent) error {
	return mouseEvent(ev).Call(e.page.Context(ctx))
}

func mouseEvent(ev humanoid.MouseEvent) proto.InputDispatchMouseEvent {
	buttons := int(ev.Buttons)
	return proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventType(ev.Type),
		X:          ev.X,
		Y:          ev.Y,
		Button:     proto.InputMouseButton(ev.Button),
		Buttons:    &buttons,
		ClickCount: ev.ClickCount,
	}
}
