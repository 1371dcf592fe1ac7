package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"knowledgebase/internal/config"
	"knowledgebase/internal/logging"
)

// CachedEmbedder wraps an Embedder with a two-tier cache: an in-process LRU
// (L1) in front of a shared Redis cache (L2), so repeated chunk text across
// re-indexes and across indexer worker processes skips the embedding
// provider entirely. The Redis tier is optional; with no client
// configured the cache is L1-only.
type CachedEmbedder struct {
	next  Embedder
	l1    *lru.Cache[string, []float32]
	redis *redis.Client
	ttl   time.Duration
	model string

	hits, misses int64
}

// NewCachedEmbedder builds a CachedEmbedder. A nil redisClient disables the
// L2 tier and the cache runs purely as an in-process LRU, which is the
// expected shape for the Mock embedder in tests.
func NewCachedEmbedder(next Embedder, cfg config.EmbedderConfig, redisClient *redis.Client) (*CachedEmbedder, error) {
	size := cfg.LocalCacheSize
	if size <= 0 {
		size = 1000
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	l1, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}

	return &CachedEmbedder{
		next:  next,
		l1:    l1,
		redis: redisClient,
		ttl:   ttl,
		model: cfg.Model,
	}, nil
}

// Embed implements Embedder, checking L1 then L2 before delegating.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	if v, ok := c.l1.Get(key); ok {
		c.hits++
		return v, nil
	}
	if v, ok := c.getL2(ctx, key); ok {
		c.hits++
		c.l1.Add(key, v)
		return v, nil
	}
	c.misses++

	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.l1.Add(key, v)
	c.setL2(ctx, key, v)
	return v, nil
}

// EmbedBatch implements Embedder, serving cached entries from L1/L2 and
// only forwarding the uncached remainder to next, preserving input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, t := range texts {
		key := c.key(t)
		if v, ok := c.l1.Get(key); ok {
			results[i] = v
			c.hits++
			continue
		}
		if v, ok := c.getL2(ctx, key); ok {
			results[i] = v
			c.l1.Add(key, v)
			c.hits++
			continue
		}
		c.misses++
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		idx := missIdx[i]
		results[idx] = v
		key := c.key(missTexts[i])
		c.l1.Add(key, v)
		c.setL2(ctx, key, v)
	}

	return results, nil
}

// CountTokens and Dimensions pass straight through: they're pure functions
// of the model, not the cache.
func (c *CachedEmbedder) CountTokens(text string) int { return c.next.CountTokens(text) }
func (c *CachedEmbedder) Dimensions() int             { return c.next.Dimensions() }

// Stats reports cache hit/miss counters.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits, c.misses
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "|" + text))
	return fmt.Sprintf("emb:%x", sum)
}

func (c *CachedEmbedder) getL2(ctx context.Context, key string) ([]float32, bool) {
	if c.redis == nil {
		return nil, false
	}
	b, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeFloat32s(b), true
}

func (c *CachedEmbedder) setL2(ctx context.Context, key string, v []float32) {
	if c.redis == nil {
		return
	}
	// Best-effort: a Redis write failure only costs a future cache miss,
	// never correctness, so the error is intentionally dropped.
	_ = c.redis.Set(ctx, key, encodeFloat32s(v), c.ttl).Err()
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// NewRedisClient builds the shared Redis client used both for this L2
// embedding cache and the sync engine's distributed per-folder lock.
func NewRedisClient(cfg config.RedisConfig, logger logging.Logger) *redis.Client {
	if cfg.Addr == "" {
		if logger != nil {
			logger.Info("redis address not configured, embedding L2 cache disabled")
		}
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
