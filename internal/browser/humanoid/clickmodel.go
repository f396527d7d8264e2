package humanoid

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrInvalidBox is returned for targets with no area.
var ErrInvalidBox = errors.New("humanoid: target has no interactable area")

// MoveTo moves the pointer to a natural point inside box.
func (h *Humanoid) MoveTo(ctx context.Context, box Box) error {
	if !box.Valid() {
		return ErrInvalidBox
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveTo(ctx, box)
}

// Click moves to box, pauses for the terminal aim, then presses, holds and
// releases button.
func (h *Humanoid) Click(ctx context.Context, box Box, button MouseButton) error {
	if !box.Valid() {
		return ErrInvalidBox
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.moveTo(ctx, box); err != nil {
		return err
	}
	aim := h.fittsDuration(math.Min(box.Width, box.Height)/2, terminalTargetWidth, 0.1) / 4
	if err := h.executor.Sleep(ctx, aim); err != nil {
		return err
	}

	pos := h.currentPos
	press := MouseEvent{
		Type:       MousePress,
		X:          pos.X,
		Y:          pos.Y,
		Button:     button,
		ClickCount: 1,
		Buttons:    buttonsBitfield(button),
	}
	if err := h.executor.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}

	span := h.dynamicConfig.ClickHoldMaxMs - h.dynamicConfig.ClickHoldMinMs
	if span < 0 {
		span = 0
	}
	hold := time.Duration(h.dynamicConfig.ClickHoldMinMs+h.rng.Intn(span+1)) * time.Millisecond
	sleepErr := h.executor.Sleep(ctx, hold)

	// Always release, even when the hold was cut short, so no button stays
	// down in the page.
	release := press
	release.Type = MouseRelease
	release.Buttons = 0
	releaseCtx := ctx
	if sleepErr != nil {
		releaseCtx = context.Background()
	}
	if err := h.executor.DispatchMouseEvent(releaseCtx, release); err != nil {
		return err
	}
	h.updateFatigue(0.2)
	return sleepErr
}

func (h *Humanoid) moveTo(ctx context.Context, box Box) error {
	target := h.targetPoint(box)
	start := h.currentPos
	h.updateFatigue(start.Dist(target) / 1000.0)
	return h.simulateTrajectory(ctx, start, target, ButtonNone)
}

// targetPoint picks a normally distributed point around the centre, kept a
// pixel inside the box.
func (h *Humanoid) targetPoint(box Box) Vector2D {
	center := box.Center()
	offsetX := h.rng.NormFloat64() * box.Width * 0.9 / 6.0
	offsetY := h.rng.NormFloat64() * box.Height * 0.9 / 6.0

	minX, maxX := box.X+1, box.X+box.Width-1
	minY, maxY := box.Y+1, box.Y+box.Height-1
	if maxX < minX {
		minX, maxX = center.X, center.X
	}
	if maxY < minY {
		minY, maxY = center.Y, center.Y
	}
	return Vector2D{
		X: math.Max(minX, math.Min(maxX, center.X+offsetX)),
		Y: math.Max(minY, math.Min(maxY, center.Y+offsetY)),
	}
}
