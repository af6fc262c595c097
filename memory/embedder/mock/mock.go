package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockEmbedder is a simple mock embedder for testing.
// It generates deterministic embeddings from the words of the text: every
// word maps to a pseudo-random direction and the text is their normalized
// sum, so texts sharing words score higher than unrelated ones.
type MockEmbedder struct {
	dimensions int
}

// New creates a new mock embedder.
func New() *MockEmbedder {
	return &MockEmbedder{
		dimensions: 384, // Match all-MiniLM-L6-v2 dimensions
	}
}

// NewWithDimensions creates a mock embedder producing vectors of size dims.
func NewWithDimensions(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &MockEmbedder{dimensions: dims}
}

// Embed creates a deterministic embedding from text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, m.dimensions)
	words := tokenize(text)
	if len(words) == 0 {
		// Empty text still needs a direction.
		words = []string{text}
	}
	for _, w := range words {
		addWordVector(embedding, w)
	}

	// Normalize to unit vector
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// addWordVector adds the hash-seeded direction of word to vec.
func addWordVector(vec []float32, word string) {
	h := fnv.New64a()
	h.Write([]byte(word))
	seed := h.Sum64()

	for i := range vec {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
	}
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
