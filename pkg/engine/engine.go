// Package engine implements the deterministic per-tick physics of the UPS
// model. A tick is a pure function of the previous snapshot, the timestamp and
// the snapshot's seed.
package engine

import (
	"math/rand/v2"
)

// Noise is the source of jitter used by the physics model.
type Noise interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

// NoiseSource creates the noise for one tick.
type NoiseSource func(seed, tick uint64) Noise

// PCGNoise seeds a PCG generator from the snapshot's seed and tick number so
// every tick draws from its own reproducible stream.
func PCGNoise(seed, tick uint64) Noise {
	return rand.New(rand.NewPCG(seed, tick))
}

// Engine runs the physics model.
type Engine struct {
	noise NoiseSource
}

// Option configures an Engine.
type Option func(*Engine)

// WithNoise replaces the default PCG noise source.
func WithNoise(n NoiseSource) Option {
	return func(e *Engine) {
		e.noise = n
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{noise: PCGNoise}
	for _, o := range opts {
		o(e)
	}
	return e
}

// signed returns a value in [-1, 1).
func signed(n Noise) float64 {
	return 2*n.Float64() - 1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
