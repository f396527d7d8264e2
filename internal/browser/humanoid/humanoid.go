// internal/browser/humanoid/humanoid.go
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"
)

// Humanoid moves and clicks the pointer the way a person would: curved
// paths, Fitts's law timing, drift and tremor, and a held press.
type Humanoid struct {
	// mu guards every field below. Exported methods take it for the whole
	// action; unexported helpers assume it is held.
	mu            sync.Mutex
	baseConfig    Config
	dynamicConfig Config
	logger        *zap.Logger
	executor      Executor
	currentPos    Vector2D
	fatigueLevel  float64
	rng           *rand.Rand
	noiseX        *perlin.Perlin
	noiseY        *perlin.Perlin
}

// New creates a Humanoid with a freshly drawn persona.
func New(config Config, logger *zap.Logger, executor Executor) *Humanoid {
	seed := time.Now().UnixNano()
	rng := config.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(seed))
	}
	config.FinalizeSessionPersona(rng)

	// alpha, beta and octaves of the drift noise.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanoid{
		baseConfig:    config,
		dynamicConfig: config,
		logger:        logger.Named("humanoid"),
		executor:      executor,
		rng:           rng,
		noiseX:        perlin.NewPerlin(alpha, beta, n, seed),
		noiseY:        perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// NewTestHumanoid returns a Humanoid whose randomness is fully determined by
// seed.
func NewTestHumanoid(executor Executor, seed int64) *Humanoid {
	config := DefaultConfig()
	config.Rng = rand.New(rand.NewSource(seed))
	h := New(config, zap.NewNop(), executor)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.noiseX = perlin.NewPerlin(2, 2, 3, seed)
	h.noiseY = perlin.NewPerlin(2, 2, 3, seed+1)
	h.baseConfig.FittsA, h.baseConfig.FittsB = 100.0, 150.0
	h.baseConfig.PerlinAmplitude = 2.0
	h.baseConfig.GaussianStrength = 0.5
	h.dynamicConfig = h.baseConfig
	return h
}

// Position returns the last dispatched pointer position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}
