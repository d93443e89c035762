package rng

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"

	"goinfonet/ports"
)

// StreamSource derives independent PCG streams from a base seed and a name
type StreamSource struct{}

var _ ports.RNGPort = StreamSource{}

// NewStreamSource creates a new stream source
func NewStreamSource() StreamSource {
	return StreamSource{}
}

// Stream returns a generator seeded from seed and the hash of name
func (StreamSource) Stream(name string, seed uint64) *rand.Rand {
	sum := sha256.Sum256([]byte(name))
	stream := binary.LittleEndian.Uint64(sum[:8])
	return rand.New(rand.NewPCG(seed, stream))
}
