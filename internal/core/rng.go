package core

import (
	"math/rand/v2"

	"aether-ca/internal/lattice"
)

// RNG is a thin convenience wrapper around math/rand/v2 for deterministic seeding.
type RNG struct {
	r *rand.Rand
}

// NewRNG creates a deterministic RNG using the provided seed.
func NewRNG(seed int64) *RNG {
	return &RNG{r: rand.New(rand.NewPCG(uint64(seed), 0))}
}

// IntN returns a random int in [0, n).
func (r *RNG) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return r.r.IntN(n)
}

// Coord returns a random position with every component in [-radius, radius].
func (r *RNG) Coord(dim, radius int) lattice.Coord {
	var c lattice.Coord
	for i := 0; i < dim; i++ {
		c[i] = r.IntN(2*radius+1) - radius
	}
	return c
}
