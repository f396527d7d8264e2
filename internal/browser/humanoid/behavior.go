package humanoid

import (
	"context"
	"math"
	"time"
)

// CognitivePause waits for a normally distributed duration, stretched by
// fatigue. Pausing lets fatigue recover.
func (h *Humanoid) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error {
	h.mu.Lock()
	factor := 1.0 + h.fatigueLevel
	duration := time.Duration(factor*(meanMs+h.rng.NormFloat64()*stdDevMs)) * time.Millisecond
	if duration > 0 {
		h.recoverFatigue(duration)
	}
	h.mu.Unlock()

	if duration <= 0 {
		return nil
	}
	return h.executor.Sleep(ctx, duration)
}

// applyGaussianNoise adds high-frequency tremor to a point.
func (h *Humanoid) applyGaussianNoise(p Vector2D) Vector2D {
	strength := h.dynamicConfig.GaussianStrength * (0.5 + h.rng.Float64())
	return Vector2D{
		X: p.X + h.rng.NormFloat64()*strength,
		Y: p.Y + h.rng.NormFloat64()*strength,
	}
}

func (h *Humanoid) applyFatigueEffects() {
	factor := 1.0 + h.fatigueLevel
	h.dynamicConfig.GaussianStrength = h.baseConfig.GaussianStrength * factor
	h.dynamicConfig.PerlinAmplitude = h.baseConfig.PerlinAmplitude * factor
	h.dynamicConfig.FittsA = h.baseConfig.FittsA * factor
}

func (h *Humanoid) updateFatigue(intensity float64) {
	h.fatigueLevel = math.Min(1.0, h.fatigueLevel+h.baseConfig.FatigueIncreaseRate*intensity)
	h.applyFatigueEffects()
}

func (h *Humanoid) recoverFatigue(d time.Duration) {
	h.fatigueLevel = math.Max(0.0, h.fatigueLevel-h.baseConfig.FatigueRecoveryRate*d.Seconds())
	h.applyFatigueEffects()
}

// buttonsBitfield is the DOM MouseEvent.buttons value while button is down.
func buttonsBitfield(button MouseButton) int64 {
	switch button {
	case ButtonLeft:
		return 1
	case ButtonRight:
		return 2
	}
	return 0
}
