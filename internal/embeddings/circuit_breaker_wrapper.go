package embeddings

import (
	"context"
	"fmt"
	"time"

	"knowledgebase/internal/circuitbreaker"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/logging"
)

// CircuitBreakingEmbedder wraps an Embedder with a circuit breaker so a
// flapping or down embedding provider fails fast instead of piling up
// retries.
type CircuitBreakingEmbedder struct {
	next Embedder
	cb   *circuitbreaker.CircuitBreaker
}

// NewCircuitBreakingEmbedder wraps next with a breaker that opens after 3
// consecutive failures and probes again after 20s, a lower-than-default
// threshold since embedding calls are retried aggressively elsewhere.
func NewCircuitBreakingEmbedder(next Embedder, logger logging.Logger) *CircuitBreakingEmbedder {
	cfg := &circuitbreaker.Config{
		FailureThreshold:      3,
		SuccessThreshold:      2,
		Timeout:               20 * time.Second,
		MaxConcurrentRequests: 5,
	}
	if logger != nil {
		cfg.OnStateChange = func(from, to circuitbreaker.State) {
			logger.Warn("embedder circuit breaker state change", "from", from.String(), "to", to.String())
		}
	}
	return &CircuitBreakingEmbedder{next: next, cb: circuitbreaker.New(cfg)}
}

func (e *CircuitBreakingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, wrapCircuitErr(err)
	}
	return out, nil
}

func (e *CircuitBreakingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.next.EmbedBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, wrapCircuitErr(err)
	}
	return out, nil
}

func (e *CircuitBreakingEmbedder) CountTokens(text string) int { return e.next.CountTokens(text) }
func (e *CircuitBreakingEmbedder) Dimensions() int             { return e.next.Dimensions() }

func wrapCircuitErr(err error) error {
	if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyConcurrentRequests {
		return kberrors.New("CircuitBreakingEmbedder", kberrors.ProviderTransient, fmt.Errorf("embedder unavailable: %w", err))
	}
	return err
}
