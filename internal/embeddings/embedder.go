// Package embeddings provides the Embedder capability: turning chunk text
// into dense vectors for the vector store, with the caching, rate-limiting,
// retry and circuit-breaking layers a production embedding client needs.
package embeddings

import (
	"context"
	"errors"

	"knowledgebase/internal/kberrors"
)

// Embedder is the opaque embedding-model capability: callers never see
// model-loading details, only this interface.
type Embedder interface {
	// Embed returns the dense vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one dense vector per input text, in the same
	// order. Implementations are free to sub-batch internally; callers
	// should still keep requests near the configured batch size since
	// some implementations reject oversized batches outright.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// CountTokens estimates the token cost of text under this embedder's
	// tokenizer, so callers can stay under model context limits.
	CountTokens(text string) int

	// Dimensions reports the fixed dense-vector width this embedder
	// produces.
	Dimensions() int
}

var errEmptyText = errors.New("text cannot be empty")

func errEmpty(op string) error {
	return kberrors.New(op, kberrors.EmbedFailed, errEmptyText)
}
