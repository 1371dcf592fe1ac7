package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
)

// MockEmbedder produces deterministic pseudo-random vectors from a hash of
// the input text, for tests and local development without a provider API
// key. Two equal texts always hash to the same vector; unrelated texts do
// not.
type MockEmbedder struct {
	dims int
}

// NewMockEmbedder creates a MockEmbedder with the given dimensionality.
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 8
	}
	return &MockEmbedder{dims: dims}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errEmpty("MockEmbedder.Embed")
	}
	return m.vector(text), nil
}

func (m *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, errEmpty("MockEmbedder.EmbedBatch")
		}
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *MockEmbedder) CountTokens(text string) int {
	return len(strings.Fields(text))
}

func (m *MockEmbedder) Dimensions() int { return m.dims }

func (m *MockEmbedder) vector(text string) []float32 {
	v := make([]float32, m.dims)
	h := fnv.New64a()
	for i := 0; i < m.dims; i++ {
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(text))
		sum := h.Sum64()
		// Map to [-1, 1] the way a normalized embedding component would sit.
		v[i] = float32(sum%2000)/1000 - 1
	}
	return v
}
