package embeddings

import (
	"fmt"

	"knowledgebase/internal/config"
	"knowledgebase/internal/logging"
)

// New builds the production Embedder stack for cfg.Provider: the base
// client wrapped with a circuit breaker, then retry, then rate limiting,
// then the L1/L2 cache on the outside so a cache hit never touches any of
// the inner layers. "mock" is for tests and environments without a
// provider API key.
func New(cfg config.EmbedderConfig, redisCfg config.RedisConfig, logger logging.Logger) (Embedder, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}

	var base Embedder
	switch cfg.Provider {
	case "", "openai":
		openai, err := NewOpenAIEmbedder(cfg, logger)
		if err != nil {
			return nil, err
		}
		base = openai
	case "mock":
		base = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}

	withBreaker := NewCircuitBreakingEmbedder(base, logger)
	withRetry := NewRetryingEmbedder(withBreaker)
	withRateLimit := NewRateLimitedEmbedder(withRetry, cfg)

	redisClient := NewRedisClient(redisCfg, logger)
	return NewCachedEmbedder(withRateLimit, cfg, redisClient)
}
