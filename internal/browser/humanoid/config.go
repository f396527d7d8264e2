// internal/browser/humanoid/config.go
package humanoid

import (
	"math"
	"math/rand"
)

// Config holds the distributions a session persona is drawn from and,
// after FinalizeSessionPersona, the drawn instance values.
type Config struct {
	Enabled bool
	Rng     *rand.Rand

	// Fitts's law: movement time = A + B*log2(1 + D/W), in milliseconds.
	FittsAMean, FittsAStdDev float64
	FittsBMean, FittsBStdDev float64

	// Tremor and drift.
	GaussianStrengthMean, GaussianStrengthStdDev float64
	PerlinAmplitudeMean, PerlinAmplitudeStdDev   float64

	// Path curvature as a fraction of the travelled distance.
	ArcMean, ArcStdDev float64

	ClickHoldMinMs int
	ClickHoldMaxMs int

	FatigueIncreaseRate float64
	FatigueRecoveryRate float64

	// Instance parameters.
	FittsA, FittsB   float64
	GaussianStrength float64
	PerlinAmplitude  float64
	Arc              float64
}

// DefaultConfig returns an average persona.
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		FittsAMean:             100.0,
		FittsAStdDev:           15.0,
		FittsBMean:             120.0,
		FittsBStdDev:           20.0,
		GaussianStrengthMean:   0.5,
		GaussianStrengthStdDev: 0.1,
		PerlinAmplitudeMean:    2.5,
		PerlinAmplitudeStdDev:  0.5,
		ArcMean:                0.12,
		ArcStdDev:              0.05,
		ClickHoldMinMs:         50,
		ClickHoldMaxMs:         120,
		FatigueIncreaseRate:    0.005,
		FatigueRecoveryRate:    0.01,
	}
}

// FinalizeSessionPersona draws the instance parameters for one session.
func (c *Config) FinalizeSessionPersona(rng *rand.Rand) {
	c.Rng = rng
	c.FittsA = math.Max(20, sampleGaussian(rng, c.FittsAMean, c.FittsAStdDev))
	c.FittsB = math.Max(20, sampleGaussian(rng, c.FittsBMean, c.FittsBStdDev))
	c.GaussianStrength = math.Max(0, sampleGaussian(rng, c.GaussianStrengthMean, c.GaussianStrengthStdDev))
	c.PerlinAmplitude = math.Max(0, sampleGaussian(rng, c.PerlinAmplitudeMean, c.PerlinAmplitudeStdDev))
	c.Arc = sampleGaussian(rng, c.ArcMean, c.ArcStdDev)

	if c.ClickHoldMinMs <= 0 {
		c.ClickHoldMinMs = 1
	}
	if c.ClickHoldMaxMs <= c.ClickHoldMinMs {
		c.ClickHoldMaxMs = c.ClickHoldMinMs + 1
	}
}

func sampleGaussian(rng *rand.Rand, mean, stdDev float64) float64 {
	if rng == nil {
		return mean
	}
	return mean + rng.NormFloat64()*stdDev
}
