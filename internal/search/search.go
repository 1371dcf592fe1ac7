// Package search implements the hybrid dense+sparse query engine:
// folder-visibility filtering, alpha-weighted fusion, and the
// get_file/get_chunk_range overlap-dedup helpers the MCP and HTTP surfaces
// sit on top of.
package search

import (
	"context"
	"sort"
	"strings"

	"knowledgebase/internal/config"
	"knowledgebase/internal/embeddings"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/store"
	"knowledgebase/internal/types"
	"knowledgebase/internal/vectorstore"
)

// VectorStore is the subset of vectorstore.Hybrid the search engine depends
// on; tests substitute a fake so fusion/visibility logic doesn't require a
// live Qdrant/Bleve.
type VectorStore interface {
	Query(ctx context.Context, dense []float32, queryText string, k int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error)
}

// Request carries one search query's inputs.
type Request struct {
	QueryText       string
	Limit           int
	IncludeFolders  []string
	ExcludeFolders  []string
	User            types.UserIdentity
	ContextWindow   int // adjacent chunks to attach on either side, 0 = none
}

// Result is one ranked hit.
type Result struct {
	Score       float64
	FilePath    string
	FileName    string
	FolderPath  string
	ChunkText   string
	ChunkOrdinal int
	TokenCount  int
	Context     []string // adjacent chunk texts, in order, when ContextWindow > 0
}

// FolderSummary is one row of ListIndexedFolders.
type FolderSummary struct {
	Path        string
	IndexStatus types.IndexStatus
	FileCount   int
	ChunkCount  int
}

// Engine answers hybrid queries over the state and vector stores.
type Engine struct {
	cfg   config.SearchConfig
	store store.Store
	vec   VectorStore
	embed embeddings.Embedder
}

// New builds an Engine. alpha defaults come from cfg.Alpha (default 0.6).
func New(cfg config.SearchConfig, st store.Store, vec VectorStore, embed embeddings.Embedder) *Engine {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 10
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &Engine{cfg: cfg, store: st, vec: vec, embed: embed}
}

// visibleFolders computes the effective visible folder set for req.User:
// indexing_enabled, index_status=indexed, per-user visibility active, no
// disabled ancestor. The set is then intersected with IncludeFolders (if
// set) and subtracted by ExcludeFolders.
func (e *Engine) visibleFolders(ctx context.Context, req Request) ([]string, error) {
	folders, err := e.store.ListFolders(ctx)
	if err != nil {
		return nil, kberrors.New("Engine.visibleFolders", kberrors.StoreUnavailable, err)
	}

	byPath := make(map[string]*types.Folder, len(folders))
	for _, f := range folders {
		byPath[f.Path] = f
	}

	include := toSet(req.IncludeFolders)
	exclude := toSet(req.ExcludeFolders)

	var visible []string
	for _, f := range folders {
		if !f.IndexingEnabled || f.IndexStatus != types.IndexStatusIndexed {
			continue
		}
		if ancestorDisabled(f.Path, byPath) {
			continue
		}
		active, err := e.store.GetUserVisibility(ctx, req.User, f.Path)
		if err != nil {
			return nil, kberrors.New("Engine.visibleFolders", kberrors.StoreUnavailable, err)
		}
		if !active {
			continue
		}
		if len(include) > 0 && !include[f.Path] {
			continue
		}
		if exclude[f.Path] {
			continue
		}
		visible = append(visible, f.Path)
	}
	return visible, nil
}

func ancestorDisabled(p string, byPath map[string]*types.Folder) bool {
	for _, ancestor := range types.Ancestors(p) {
		if f, ok := byPath[ancestor]; ok && !f.IndexingEnabled {
			return true
		}
	}
	return false
}

func toSet(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	s := make(map[string]bool, len(list))
	for _, v := range list {
		s[v] = true
	}
	return s
}

// Query embeds req.QueryText, runs the hybrid fusion query restricted to the
// visible folder set, deduplicates by file path keeping the best chunk, and
// optionally attaches a window of adjacent chunks.
func (e *Engine) Query(ctx context.Context, req Request) ([]Result, error) {
	if req.Limit <= 0 {
		req.Limit = e.cfg.DefaultLimit
	}
	if req.Limit > e.cfg.MaxLimit {
		req.Limit = e.cfg.MaxLimit
	}

	visible, err := e.visibleFolders(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		return nil, nil
	}

	var dense []float32
	if req.QueryText != "" && e.embed != nil {
		dense, err = e.embed.Embed(ctx, req.QueryText)
		if err != nil {
			return nil, kberrors.New("Engine.Query", kberrors.EmbedFailed, err)
		}
	}

	// Fetch extra so per-file dedup still leaves Limit distinct files.
	hits, err := e.vec.Query(ctx, dense, req.QueryText, req.Limit*4, vectorstore.Filter{IncludeFolders: visible})
	if err != nil {
		return nil, kberrors.New("Engine.Query", kberrors.StoreUnavailable, err)
	}

	visibleSet := toSet(visible)
	bestByFile := make(map[string]vectorstore.ScoredPoint)
	var order []string
	for _, h := range hits {
		if !visibleSet[h.Payload.FolderPath] {
			continue
		}
		existing, ok := bestByFile[h.Payload.FilePath]
		if !ok {
			order = append(order, h.Payload.FilePath)
			bestByFile[h.Payload.FilePath] = h
			continue
		}
		if h.Score > existing.Score {
			bestByFile[h.Payload.FilePath] = h
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return bestByFile[order[i]].Score > bestByFile[order[j]].Score
	})
	if len(order) > req.Limit {
		order = order[:req.Limit]
	}

	out := make([]Result, 0, len(order))
	for _, path := range order {
		h := bestByFile[path]
		res := Result{
			Score:        h.Score,
			FilePath:     h.Payload.FilePath,
			FileName:     fileName(h.Payload.FilePath),
			FolderPath:   h.Payload.FolderPath,
			ChunkText:    h.Payload.Text,
			ChunkOrdinal: h.Payload.Ordinal,
			TokenCount:   h.Payload.TokenCount,
		}
		if req.ContextWindow > 0 {
			res.Context = e.adjacentChunks(ctx, h.Payload.FilePath, h.Payload.Ordinal, req.ContextWindow)
		}
		out = append(out, res)
	}
	return out, nil
}

func (e *Engine) adjacentChunks(ctx context.Context, path string, ordinal, window int) []string {
	var out []string
	for o := ordinal - window; o <= ordinal+window; o++ {
		if o == ordinal || o < 0 {
			continue
		}
		c, err := e.store.GetChunk(ctx, path, o)
		if err != nil {
			continue
		}
		out = append(out, c.Text)
	}
	return out
}

func fileName(logicalPath string) string {
	if i := strings.LastIndex(logicalPath, "/"); i >= 0 {
		return logicalPath[i+1:]
	}
	return logicalPath
}

// GetFile returns the concatenation of every chunk of path in ordinal
// order, with overlap regions deduplicated by a greedy
// longest-suffix/prefix match at each boundary.
func (e *Engine) GetFile(ctx context.Context, path string) (string, error) {
	chunks, err := e.store.ListChunks(ctx, path)
	if err != nil {
		return "", kberrors.New("Engine.GetFile", kberrors.StoreUnavailable, err)
	}
	return joinChunks(chunks), nil
}

// GetChunkRange returns the overlap-deduped concatenation of chunks
// [start, end] inclusive.
func (e *Engine) GetChunkRange(ctx context.Context, path string, start, end int) (string, error) {
	all, err := e.store.ListChunks(ctx, path)
	if err != nil {
		return "", kberrors.New("Engine.GetChunkRange", kberrors.StoreUnavailable, err)
	}
	var sub []*types.Chunk
	for _, c := range all {
		if c.Ordinal >= start && c.Ordinal <= end {
			sub = append(sub, c)
		}
	}
	return joinChunks(sub), nil
}

// joinChunks concatenates chunks in ordinal order, trimming the overlap
// each chunk shares with its predecessor. Chunks are produced with a fixed
// token overlap, so the longest suffix of the accumulated text that is
// also a prefix of the next chunk is dropped before appending.
func joinChunks(chunks []*types.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })

	var b strings.Builder
	b.WriteString(chunks[0].Text)
	for i := 1; i < len(chunks); i++ {
		prev := b.String()
		next := chunks[i].Text
		overlap := longestSuffixPrefixOverlap(prev, next)
		b.WriteString(next[overlap:])
	}
	return b.String()
}

// longestSuffixPrefixOverlap returns the length of the longest string that
// is both a suffix of a and a prefix of b, capped at min(len(a), len(b)) to
// keep the scan linear-bounded for typical chunk sizes.
func longestSuffixPrefixOverlap(a, b string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(a, b[:l]) {
			return l
		}
	}
	return 0
}

// ListIndexedFolders returns every folder with its index status and
// file/chunk counts.
func (e *Engine) ListIndexedFolders(ctx context.Context) ([]FolderSummary, error) {
	folders, err := e.store.ListFolders(ctx)
	if err != nil {
		return nil, kberrors.New("Engine.ListIndexedFolders", kberrors.StoreUnavailable, err)
	}
	out := make([]FolderSummary, 0, len(folders))
	for _, f := range folders {
		files, err := e.store.ListFiles(ctx, store.FileFilter{FolderPath: f.Path, Prefix: true})
		if err != nil {
			return nil, kberrors.New("Engine.ListIndexedFolders", kberrors.StoreUnavailable, err)
		}
		chunkCount := 0
		for _, fl := range files {
			chunkCount += fl.ChunkCount
		}
		out = append(out, FolderSummary{
			Path:        f.Path,
			IndexStatus: f.IndexStatus,
			FileCount:   len(files),
			ChunkCount:  chunkCount,
		})
	}
	return out, nil
}
