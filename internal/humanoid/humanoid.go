// -- internal/humanoid/humanoid.go --
package humanoid

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/internal/config"
)

// Humanoid is a ghost cursor: it moves the pointer along noisy, eased
// trajectories, dwells before clicking and types with human key timings.
// One Humanoid belongs to one page.
type Humanoid struct {
	cfg      config.HumanoidConfig
	executor Executor
	logger   *zap.Logger

	mu          sync.Mutex
	currentPos  Vector2D
	buttonState MouseButton

	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// New creates a ghost cursor. A zero seed picks one from the clock.
func New(cfg config.HumanoidConfig, executor Executor, logger *zap.Logger, seed int64) (*Humanoid, error) {
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Standard Perlin parameters
	alpha, beta, n := 2.0, 2.0, int32(3)

	return &Humanoid{
		cfg:         cfg,
		executor:    executor,
		logger:      logger.Named("humanoid"),
		buttonState: ButtonNone,
		rng:         rand.New(rand.NewSource(seed)),
		noiseX:      perlin.NewPerlin(alpha, beta, n, seed),
		noiseY:      perlin.NewPerlin(alpha, beta, n, seed+1),
	}, nil
}

// SeedPosition places the cursor at a random point of a width x height viewport.
func (h *Humanoid) SeedPosition(width, height float64) Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentPos = Vector2D{X: h.rng.Float64() * width, Y: h.rng.Float64() * height}
	return h.currentPos
}

// Position returns the current cursor position.
func (h *Humanoid) Position() Vector2D {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos
}

func (h *Humanoid) setPosition(p Vector2D) {
	h.mu.Lock()
	h.currentPos = p
	h.mu.Unlock()
}

func (h *Humanoid) buttonsBitfield() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buttonState == ButtonLeft {
		return 1
	}
	return 0
}

// normal draws from N(mean, stdDev) under the lock.
func (h *Humanoid) normal(mean, stdDev float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return mean + h.rng.NormFloat64()*stdDev
}

// uniform draws from [lo, hi) under the lock.
func (h *Humanoid) uniform(lo, hi float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo + h.rng.Float64()*(hi-lo)
}
