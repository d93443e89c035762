package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream creates a deterministic generator for a named operation. The same
	// (name, seed) pair always yields the same sequence, regardless of how many
	// other streams exist or in which order they are requested.
	Stream(name string, seed uint64) *rand.Rand
}
