package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// FixedEmbedder returns deterministic embedding vectors: explicit mappings
// when registered, otherwise a normalized vector derived from a SHA-256 hash
// of the text. Identical text always embeds identically.
//
// Thread-safe for concurrent use.
type FixedEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewFixedEmbedder creates an embedder producing vectors of the given width.
func NewFixedEmbedder(dim int) *FixedEmbedder {
	return &FixedEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector registers an explicit vector for a text, for tests that need
// exact cosine similarity control.
func (e *FixedEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// Embed implements the knowledge Embedder interface.
func (e *FixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	if v, ok := e.vectors[text]; ok {
		e.mu.Unlock()
		return v, nil
	}
	e.mu.Unlock()
	return deterministicVector(text, e.dim), nil
}

// deterministicVector maps text to a unit vector seeded from its SHA-256
// hash.
func deterministicVector(text string, dim int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
