package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/config"
)

func TestMockEmbedderIsDeterministic(t *testing.T) {
	m := NewMockEmbedder(16)
	ctx := context.Background()

	v1, err := m.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := m.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	v3, err := m.Embed(ctx, "something else")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v3)
	assert.Equal(t, 16, m.Dimensions())
}

func TestMockEmbedderRejectsEmptyText(t *testing.T) {
	m := NewMockEmbedder(4)
	_, err := m.Embed(context.Background(), "   ")
	assert.Error(t, err)
}

func TestMockEmbedderBatchPreservesOrder(t *testing.T) {
	m := NewMockEmbedder(4)
	texts := []string{"a", "b", "c"}
	vecs, err := m.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := m.Embed(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[1])
}

func TestCachedEmbedderServesRepeatsFromL1WithoutCallingNext(t *testing.T) {
	calls := 0
	inner := &countingEmbedder{
		MockEmbedder: NewMockEmbedder(4),
		onCall:       func() { calls++ },
	}

	cached, err := NewCachedEmbedder(inner, config.EmbedderConfig{Model: "test-model", LocalCacheSize: 10}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "repeat me")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "repeat me")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	hits, misses := cached.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachedEmbedderBatchOnlyForwardsMisses(t *testing.T) {
	calls := 0
	inner := &countingEmbedder{
		MockEmbedder: NewMockEmbedder(4),
		onCall:       func() { calls++ },
	}
	cached, err := NewCachedEmbedder(inner, config.EmbedderConfig{Model: "m", LocalCacheSize: 10}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 2, calls) // one for "alpha" singly, one batch call for "beta"
}

func TestRateLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}

func TestRateLimiterWaitRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Second)
	assert.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryingEmbedderRetriesTransientErrors(t *testing.T) {
	attempts := 0
	flaky := &flakyEmbedder{
		MockEmbedder: NewMockEmbedder(4),
		failTimes:    2,
		onCall:       func() { attempts++ },
	}
	r := NewRetryingEmbedder(flaky)

	_, err := r.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCircuitBreakingEmbedderOpensAfterConsecutiveFailures(t *testing.T) {
	alwaysFails := &flakyEmbedder{
		MockEmbedder: NewMockEmbedder(4),
		failTimes:    1 << 20,
	}
	cb := NewCircuitBreakingEmbedder(alwaysFails, nil)

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = cb.Embed(context.Background(), "text")
	}
	assert.Error(t, lastErr)
}

// countingEmbedder wraps MockEmbedder to observe how many times the
// underlying provider is actually invoked, so cache tests can assert on
// call counts rather than timing.
type countingEmbedder struct {
	*MockEmbedder
	onCall func()
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.onCall()
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.onCall()
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

// flakyEmbedder fails its first failTimes calls with a transient error
// before succeeding, to exercise retry/circuit-breaker behavior.
type flakyEmbedder struct {
	*MockEmbedder
	failTimes int
	calls     int
	onCall    func()
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.onCall != nil {
		f.onCall()
	}
	f.calls++
	if f.calls <= f.failTimes {
		return nil, errTransient
	}
	return f.MockEmbedder.Embed(ctx, text)
}

var errTransient = errors.New("connection reset: transient failure")
