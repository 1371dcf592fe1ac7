package vectorstore

import (
	"context"
	"sort"

	"knowledgebase/internal/kberrors"
)

// denseBackend is the subset of DenseStore that Hybrid depends on; tests
// substitute a fake so fusion logic doesn't require a live Qdrant.
type denseBackend interface {
	Upsert(ctx context.Context, points []Point) error
	DeleteByFilter(ctx context.Context, filter Filter) error
	Query(ctx context.Context, dense []float32, k int, filter Filter) ([]ScoredPoint, error)
	Close() error
}

// sparseBackend is the subset of SparseStore that Hybrid depends on.
type sparseBackend interface {
	Upsert(ctx context.Context, points []Point) error
	DeleteByFilter(ctx context.Context, filter Filter) error
	Query(ctx context.Context, queryText string, k int, filter Filter) ([]ScoredPoint, error)
	Close() error
}

// Hybrid fuses a dense and a sparse backend behind a single
// Upsert/DeleteByFilter/Query facade, so the indexer and search engine
// never talk to Qdrant or Bleve directly.
type Hybrid struct {
	Dense  denseBackend
	Sparse sparseBackend
	Alpha  float64 // dense weight; (1-Alpha) applied to the sparse score
}

// initializer is implemented by DenseStore: it provisions the backing
// Qdrant collection on first use. Declared here (rather than required on
// denseBackend) so a test fake without an Initialize method still satisfies
// denseBackend.
type initializer interface {
	Initialize(ctx context.Context) error
}

// Initialize provisions the dense backend's collection, when the backend
// supports it. Call once at startup before the first Upsert/Query.
func (h *Hybrid) Initialize(ctx context.Context) error {
	if init, ok := h.Dense.(initializer); ok {
		return init.Initialize(ctx)
	}
	return nil
}

// NewHybrid combines dense and sparse adapters. alpha is clamped to [0,1].
func NewHybrid(dense *DenseStore, sparse *SparseStore, alpha float64) *Hybrid {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &Hybrid{Dense: dense, Sparse: sparse, Alpha: alpha}
}

// Upsert writes each point's dense vector and (if SparseText is set) sparse
// document. Idempotent by id on both backends.
func (h *Hybrid) Upsert(ctx context.Context, points []Point) error {
	if err := h.Dense.Upsert(ctx, points); err != nil {
		return err
	}
	return h.Sparse.Upsert(ctx, points)
}

// DeleteByFilter purges matching points from both backends.
func (h *Hybrid) DeleteByFilter(ctx context.Context, filter Filter) error {
	if err := h.Dense.DeleteByFilter(ctx, filter); err != nil {
		return err
	}
	return h.Sparse.DeleteByFilter(ctx, filter)
}

// Query runs dense and/or sparse search and fuses the scores:
// s = alpha*cosine_dense + (1-alpha)*bm25_sparse, each score min-max
// normalized to [0,1] within its own result set before fusion so neither
// backend's native scale dominates. Passing a nil dense vector or empty
// queryText skips that half; rankings stay monotonic in alpha when only
// one side is present.
func (h *Hybrid) Query(ctx context.Context, dense []float32, queryText string, k int, filter Filter) ([]ScoredPoint, error) {
	var denseHits, sparseHits []ScoredPoint
	var err error

	fetchK := k * 3
	if len(dense) > 0 {
		denseHits, err = h.Dense.Query(ctx, dense, fetchK, filter)
		if err != nil {
			return nil, err
		}
	}
	if queryText != "" {
		sparseHits, err = h.Sparse.Query(ctx, queryText, fetchK, filter)
		if err != nil {
			return nil, err
		}
	}
	if len(denseHits) == 0 && len(sparseHits) == 0 {
		return nil, nil
	}

	denseScore := normalizeScores(denseHits)
	sparseScore := normalizeScores(sparseHits)

	fused := make(map[uint64]*ScoredPoint)
	for _, hit := range denseHits {
		fused[hit.ID] = &ScoredPoint{ID: hit.ID, Payload: hit.Payload, Score: h.Alpha * denseScore[hit.ID]}
	}
	for _, hit := range sparseHits {
		if existing, ok := fused[hit.ID]; ok {
			existing.Score += (1 - h.Alpha) * sparseScore[hit.ID]
		} else {
			fused[hit.ID] = &ScoredPoint{ID: hit.ID, Payload: hit.Payload, Score: (1 - h.Alpha) * sparseScore[hit.ID]}
		}
	}

	out := make([]ScoredPoint, 0, len(fused))
	for _, sp := range fused {
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func normalizeScores(hits []ScoredPoint) map[uint64]float64 {
	out := make(map[uint64]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	min, max := hits[0].Score, hits[0].Score
	for _, h := range hits {
		if h.Score < min {
			min = h.Score
		}
		if h.Score > max {
			max = h.Score
		}
	}
	spread := max - min
	for _, h := range hits {
		if spread == 0 {
			out[h.ID] = 1
			continue
		}
		out[h.ID] = (h.Score - min) / spread
	}
	return out
}

func (h *Hybrid) Close() error {
	denseErr := h.Dense.Close()
	sparseErr := h.Sparse.Close()
	if denseErr != nil {
		return kberrors.New("Hybrid.Close", kberrors.StoreUnavailable, denseErr)
	}
	if sparseErr != nil {
		return kberrors.New("Hybrid.Close", kberrors.StoreUnavailable, sparseErr)
	}
	return nil
}
