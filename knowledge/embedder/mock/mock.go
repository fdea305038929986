// Package mock provides a deterministic embedder for tests. It uses the
// hashing trick over lowercase tokens, so texts sharing words get a
// positive cosine similarity and unrelated texts score near zero — enough
// structure to exercise ranking without loading a real model.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Embedder implements knowledge.Embedder without a model file.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the default dimensionality.
func New() *Embedder {
	return NewWithDimensions(DefaultDimensions)
}

// NewWithDimensions creates a mock embedder producing vectors of the given size.
func NewWithDimensions(dims int) *Embedder {
	return &Embedder{dimensions: dims}
}

// Embed maps each token to a bucket by hash and accumulates counts, then
// normalizes to a unit vector. Deterministic: the same text always yields
// the same vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	embedding := make([]float32, e.dimensions)
	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		embedding[h.Sum64()%uint64(e.dimensions)]++
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
