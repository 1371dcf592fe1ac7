package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"knowledgebase/internal/config"
	"knowledgebase/internal/kberrors"
)

// bleveDoc is the document shape stored in the sparse index; payload fields
// are duplicated here so a sparse-only query can hydrate a ScoredPoint
// without a round trip to Qdrant.
type bleveDoc struct {
	Text       string `json:"text"`
	FilePath   string `json:"file_path"`
	FolderPath string `json:"folder_path"`
	Ordinal    int    `json:"ordinal"`
	TokenCount int    `json:"token_count"`
	FileMIME   string `json:"file_mime"`
}

// SparseStore is the Bleve-backed BM25 keyword half of the hybrid store.
type SparseStore struct {
	mu    sync.RWMutex
	index bleve.Index
}

// NewSparseStore opens (or creates) the Bleve index at cfg.IndexPath, or an
// in-memory index when IndexPath is empty.
func NewSparseStore(cfg config.BleveConfig) (*SparseStore, error) {
	m := bleve.NewIndexMapping()
	var idx bleve.Index
	var err error
	if cfg.IndexPath == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.Open(cfg.IndexPath)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(cfg.IndexPath, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &SparseStore{index: idx}, nil
}

// Upsert indexes every point whose SparseText is non-empty; points with no
// sparse text are dense-only and are skipped here (their dense vector still
// carries them).
func (s *SparseStore) Upsert(_ context.Context, points []Point) error {
	toIndex := make([]Point, 0, len(points))
	for _, p := range points {
		if p.SparseText != "" {
			toIndex = append(toIndex, p)
		}
	}
	if len(toIndex) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for _, p := range toIndex {
		doc := bleveDoc{
			Text:       p.SparseText,
			FilePath:   p.Payload.FilePath,
			FolderPath: p.Payload.FolderPath,
			Ordinal:    p.Payload.Ordinal,
			TokenCount: p.Payload.TokenCount,
			FileMIME:   p.Payload.FileMIME,
		}
		if err := batch.Index(idKey(p.ID), doc); err != nil {
			return kberrors.New("SparseStore.Upsert", kberrors.StoreUnavailable, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return kberrors.New("SparseStore.Upsert", kberrors.StoreUnavailable, err)
	}
	return nil
}

// DeleteByFilter removes every sparse document whose file_path or
// folder_path matches filter. Bleve has no native delete-by-query, so this
// runs a match-all-with-terms search to collect ids first.
func (s *SparseStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	ids, err := s.idsMatching(ctx, filter)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return kberrors.New("SparseStore.DeleteByFilter", kberrors.StoreUnavailable, err)
	}
	return nil
}

func (s *SparseStore) idsMatching(_ context.Context, filter Filter) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Fields = []string{"file_path", "folder_path"}
	count, _ := s.index.DocCount()
	req.Size = int(count)

	res, err := s.index.Search(req)
	if err != nil {
		return nil, kberrors.New("SparseStore.idsMatching", kberrors.StoreUnavailable, err)
	}

	var ids []string
	for _, hit := range res.Hits {
		fp, _ := hit.Fields["file_path"].(string)
		folder, _ := hit.Fields["folder_path"].(string)
		if filter.FilePath != "" && fp != filter.FilePath {
			continue
		}
		p := Payload{FilePath: fp, FolderPath: folder}
		if !filter.Matches(p) {
			continue
		}
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Query runs a BM25 match query against the chunk text and returns results
// scored by Bleve's relevance score.
func (s *SparseStore) Query(ctx context.Context, queryText string, k int, filter Filter) ([]ScoredPoint, error) {
	if queryText == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	mq := bleve.NewMatchQuery(queryText)
	mq.SetField("text")
	req := bleve.NewSearchRequest(mq)
	req.Size = k * 4 // over-fetch; Filter is applied client-side below
	req.Fields = []string{"file_path", "folder_path", "ordinal", "token_count", "file_mime", "text"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, kberrors.New("SparseStore.Query", kberrors.StoreUnavailable, err)
	}

	out := make([]ScoredPoint, 0, len(res.Hits))
	for _, hit := range res.Hits {
		p := fieldsToPayload(hit.Fields)
		if !filter.Matches(p) {
			continue
		}
		if len(filter.IncludeMIMEs) > 0 && !contains(filter.IncludeMIMEs, p.FileMIME) {
			continue
		}
		id, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ScoredPoint{ID: id, Score: hit.Score, Payload: p})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (s *SparseStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

func idKey(id uint64) string { return strconv.FormatUint(id, 10) }

func fieldsToPayload(f map[string]interface{}) Payload {
	str := func(k string) string {
		v, _ := f[k].(string)
		return v
	}
	num := func(k string) int {
		switch v := f[k].(type) {
		case float64:
			return int(v)
		}
		return 0
	}
	return Payload{
		FilePath:   str("file_path"),
		FolderPath: str("folder_path"),
		Ordinal:    num("ordinal"),
		TokenCount: num("token_count"),
		FileMIME:   str("file_mime"),
		Text:       str("text"),
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
