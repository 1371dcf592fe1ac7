package embeddings

import (
	"context"
	"sync"
	"time"

	"knowledgebase/internal/config"
)

// RateLimiter is a token-bucket limiter for outbound embedding API calls
// (refill-on-access, no background goroutine).
type RateLimiter struct {
	maxTokens  int
	tokens     int
	refillRate time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a rate limiter allowing maxTokens requests per
// refillRate window.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	if maxTokens <= 0 {
		maxTokens = 60
	}
	if refillRate <= 0 {
		refillRate = time.Minute
	}
	return &RateLimiter{
		maxTokens:  maxTokens,
		tokens:     maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow reports whether a token is immediately available, consuming it if so.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.refillRate / time.Duration(rl.maxTokens)):
		}
	}
}

func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	interval := rl.refillRate / time.Duration(rl.maxTokens)
	if interval <= 0 {
		interval = 1
	}
	tokensToAdd := int(elapsed / interval)
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = now
	}
}

// RateLimitedEmbedder wraps an Embedder so every call waits for rate-limiter
// capacity before reaching the provider.
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *RateLimiter
}

// NewRateLimitedEmbedder wraps next with a token-bucket limiter sized from
// cfg.RateLimitRPM (requests per minute).
func NewRateLimitedEmbedder(next Embedder, cfg config.EmbedderConfig) *RateLimitedEmbedder {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 3000
	}
	return &RateLimitedEmbedder{
		next:    next,
		limiter: NewRateLimiter(rpm, time.Minute),
	}
}

func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.Embed(ctx, text)
}

func (e *RateLimitedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.next.EmbedBatch(ctx, texts)
}

func (e *RateLimitedEmbedder) CountTokens(text string) int { return e.next.CountTokens(text) }
func (e *RateLimitedEmbedder) Dimensions() int             { return e.next.Dimensions() }
