package embeddings

import (
	"context"
	"strings"
	"time"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/retry"
)

// RetryingEmbedder wraps an Embedder with exponential-backoff retry on
// transient provider errors, driving internal/retry.Retrier.
type RetryingEmbedder struct {
	next    Embedder
	retrier *retry.Retrier
}

// NewRetryingEmbedder wraps next with the default embedding retry policy:
// 3 attempts, 500ms initial backoff doubling up to 10s, retrying only on
// kberrors.ProviderTransient (and any error whose text looks like a
// transient provider failure, for errors that didn't come through
// kberrors).
func NewRetryingEmbedder(next Embedder) *RetryingEmbedder {
	return &RetryingEmbedder{
		next: next,
		retrier: retry.New(&retry.Config{
			MaxAttempts:     3,
			InitialDelay:    500 * time.Millisecond,
			MaxDelay:        10 * time.Second,
			Multiplier:      2.0,
			RandomizeFactor: 0.2,
			RetryIf:         isRetryableEmbedError,
		}),
	}
}

func isRetryableEmbedError(err error) bool {
	if err == nil {
		return false
	}
	if kberrors.Is(err, kberrors.ProviderTransient) {
		return true
	}
	if kberrors.Is(err, kberrors.ProviderAuthRequired) || kberrors.Is(err, kberrors.EmbedFailed) {
		return false
	}

	s := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection reset", "connection refused", "eof", "429", "502", "503", "504", "rate limit", "overloaded"} {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

func (e *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	result := e.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, text)
		return err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return out, nil
}

func (e *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	result := e.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.EmbedBatch(ctx, texts)
		return err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return out, nil
}

func (e *RetryingEmbedder) CountTokens(text string) int { return e.next.CountTokens(text) }
func (e *RetryingEmbedder) Dimensions() int             { return e.next.Dimensions() }
