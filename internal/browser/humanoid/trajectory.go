package humanoid

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

const (
	// Assumed target widths, in pixels, for the travel and terminal phases.
	travelTargetWidth   = 30.0
	terminalTargetWidth = 20.0
)

func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration is the movement time for distance with +/- jitter.
func (h *Humanoid) fittsDuration(distance, width, jitter float64) time.Duration {
	id := math.Log2(1.0 + distance/width)
	mt := h.dynamicConfig.FittsA + h.dynamicConfig.FittsB*id
	mt += mt * (h.rng.Float64()*2*jitter - jitter)
	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt) * time.Millisecond
}

// idealPath samples a cubic Bezier from start to end whose control points
// bow to one side by the persona's arc.
func (h *Humanoid) idealPath(start, end Vector2D, numSteps int) []Vector2D {
	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	if dist < 1.0 || numSteps <= 1 {
		return []Vector2D{end}
	}

	dir := mainVec.Normalize()
	bow := dir.Perp().Mul(dist * h.dynamicConfig.Arc)
	if h.rng.Intn(2) == 0 {
		bow = bow.Mul(-1)
	}
	p0, p3 := start, end
	p1 := start.Add(dir.Mul(dist / 3.0)).Add(bow)
	p2 := start.Add(dir.Mul(dist * 2.0 / 3.0)).Add(bow.Mul(0.6))

	path := make([]Vector2D, numSteps)
	for i := 0; i < numSteps; i++ {
		t := float64(i) / float64(numSteps-1)
		omt := 1.0 - t
		omt2 := omt * omt
		t2 := t * t
		path[i] = p0.Mul(omt2 * omt).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t2 * t))
	}
	return path
}

// simulateTrajectory walks the pointer from start to end, dispatching move
// events paced by the executor's clock. The caller holds h.mu.
func (h *Humanoid) simulateTrajectory(ctx context.Context, start, end Vector2D, button MouseButton) error {
	duration := h.fittsDuration(start.Dist(end), travelTargetWidth, 0.15)
	numSteps := int(duration.Seconds() * 100)
	if numSteps < 2 {
		numSteps = 2
	}
	path := h.idealPath(start, end, numSteps)
	buttons := buttonsBitfield(button)
	stepPause := duration / time.Duration(len(path))

	var elapsed time.Duration
	for i := range path {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := 1.0
		if len(path) > 1 {
			t = float64(i) / float64(len(path)-1)
		}
		idx := int(computeEaseInOutCubic(t) * float64(len(path)-1))
		if idx >= len(path) {
			idx = len(path) - 1
		}

		// Drift fades out on the last step so the pointer lands on target.
		drift := Vector2D{
			X: h.noiseX.Noise1D(elapsed.Seconds()*0.8) * h.dynamicConfig.PerlinAmplitude,
			Y: h.noiseY.Noise1D(elapsed.Seconds()*0.8) * h.dynamicConfig.PerlinAmplitude,
		}
		point := path[idx]
		if i < len(path)-1 {
			point = h.applyGaussianNoise(point.Add(drift))
		}

		ev := MouseEvent{Type: MouseMove, X: point.X, Y: point.Y, Button: ButtonNone, Buttons: buttons}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("Failed to dispatch mouse move.", zap.Error(err))
			}
			return err
		}
		h.currentPos = point

		pause := stepPause + time.Duration(2+h.rng.Intn(4))*time.Millisecond
		if err := h.executor.Sleep(ctx, pause); err != nil {
			return err
		}
		elapsed += pause
	}
	return nil
}
