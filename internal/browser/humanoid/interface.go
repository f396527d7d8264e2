// internal/browser/humanoid/interface.go
package humanoid

import (
	"context"
	"time"
)

// MouseEventType mirrors the CDP Input.dispatchMouseEvent type names.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton is the button a press or release applies to.
type MouseButton string

const (
	ButtonNone  MouseButton = "none"
	ButtonLeft  MouseButton = "left"
	ButtonRight MouseButton = "right"
)

// MouseEvent is one low-level pointer event.
type MouseEvent struct {
	Type       MouseEventType
	X          float64
	Y          float64
	Button     MouseButton
	Buttons    int64
	ClickCount int
}

// Box is an element's bounding rectangle in viewport coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// Center returns the middle of the box.
func (b Box) Center() Vector2D {
	return Vector2D{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Valid reports whether the box has an interactable area.
func (b Box) Valid() bool { return b.Width > 0 && b.Height > 0 }

// Executor is the driver side of the humanoid: it sleeps and dispatches raw
// mouse events.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, ev MouseEvent) error
}
