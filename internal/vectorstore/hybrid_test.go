package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/config"
)

// fakeDense is an in-memory denseBackend stand-in so fusion tests don't
// need a live Qdrant.
type fakeDense struct {
	points []Point
}

func (f *fakeDense) Upsert(_ context.Context, points []Point) error {
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeDense) DeleteByFilter(_ context.Context, filter Filter) error {
	var kept []Point
	for _, p := range f.points {
		if filter.FilePath != "" && p.Payload.FilePath == filter.FilePath {
			continue
		}
		kept = append(kept, p)
	}
	f.points = kept
	return nil
}

// Query returns every point scored by crude dot-product similarity against
// query, so fusion order is deterministic in tests.
func (f *fakeDense) Query(_ context.Context, query []float32, k int, filter Filter) ([]ScoredPoint, error) {
	var out []ScoredPoint
	for _, p := range f.points {
		if !filter.Matches(p.Payload) {
			continue
		}
		var score float64
		for i := 0; i < len(query) && i < len(p.Dense); i++ {
			score += float64(query[i] * p.Dense[i])
		}
		out = append(out, ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeDense) Close() error { return nil }

func newTestSparse(t *testing.T) *SparseStore {
	t.Helper()
	s, err := NewSparseStore(config.BleveConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHybridQueryFusesDenseAndSparse(t *testing.T) {
	ctx := context.Background()
	dense := &fakeDense{}
	sparse := newTestSparse(t)
	h := &Hybrid{Dense: dense, Sparse: sparse, Alpha: 0.5}

	points := []Point{
		{ID: 1, Dense: []float32{1, 0}, SparseText: "golang channels and goroutines", Payload: Payload{FilePath: "a.md", FolderPath: "docs"}},
		{ID: 2, Dense: []float32{0, 1}, SparseText: "python list comprehensions", Payload: Payload{FilePath: "b.md", FolderPath: "docs"}},
	}
	require.NoError(t, h.Upsert(ctx, points))

	results, err := h.Query(ctx, []float32{1, 0}, "golang channels", 5, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestHybridQueryDenseOnly(t *testing.T) {
	ctx := context.Background()
	dense := &fakeDense{}
	sparse := newTestSparse(t)
	h := &Hybrid{Dense: dense, Sparse: sparse, Alpha: 1.0}

	require.NoError(t, h.Upsert(ctx, []Point{
		{ID: 1, Dense: []float32{1, 0}, Payload: Payload{FilePath: "a.md"}},
		{ID: 2, Dense: []float32{0, 1}, Payload: Payload{FilePath: "b.md"}},
	}))

	results, err := h.Query(ctx, []float32{1, 0}, "", 5, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].ID)
}

func TestHybridDeleteByFilterRemovesFromBothBackends(t *testing.T) {
	ctx := context.Background()
	dense := &fakeDense{}
	sparse := newTestSparse(t)
	h := &Hybrid{Dense: dense, Sparse: sparse, Alpha: 0.5}

	require.NoError(t, h.Upsert(ctx, []Point{
		{ID: 1, Dense: []float32{1}, SparseText: "hello world", Payload: Payload{FilePath: "a.md"}},
	}))
	require.NoError(t, h.DeleteByFilter(ctx, Filter{FilePath: "a.md"}))

	results, err := h.Query(ctx, []float32{1}, "hello", 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPointIDDeterministic(t *testing.T) {
	a := PointID("docs/readme.md", 3, 1)
	b := PointID("docs/readme.md", 3, 1)
	c := PointID("docs/readme.md", 4, 1)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFilterMatchesPrefix(t *testing.T) {
	f := Filter{FolderPath: "docs"}
	assert.True(t, f.Matches(Payload{FolderPath: "docs"}))
	assert.True(t, f.Matches(Payload{FolderPath: "docs/sub"}))
	assert.False(t, f.Matches(Payload{FolderPath: "other"}))
}
