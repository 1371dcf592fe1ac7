package indexer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/chunker"
	"knowledgebase/internal/config"
	"knowledgebase/internal/embeddings"
	"knowledgebase/internal/extractor"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/store"
	"knowledgebase/internal/types"
	"knowledgebase/internal/vectorstore"
)

// fakeFS is an in-memory FS rooted at "", so logical paths double as keys.
type fakeFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeFS() *fakeFS { return &fakeFS{files: make(map[string][]byte)} }

func (f *fakeFS) put(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = []byte(content)
}

func (f *fakeFS) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func (f *fakeFS) ReadDir(dir string) ([]DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	var out []DirEntry
	for p := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" || seen[rest] {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			sub := rest[:i]
			if !seen[sub] {
				seen[sub] = true
				out = append(out, DirEntry{Name: sub, IsDir: true})
			}
			continue
		}
		seen[rest] = true
		out = append(out, DirEntry{Name: rest})
	}
	return out, nil
}

func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return b, nil
}

func (f *fakeFS) Stat(path string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[path]
	if !ok {
		return 0, 0, errors.New("no such file")
	}
	return int64(len(b)), 0, nil
}

// fakeVectorStore records Upsert/DeleteByFilter calls so tests can assert on
// vector-store side effects without a live Qdrant/Bleve.
type fakeVectorStore struct {
	mu         sync.Mutex
	upserted   []vectorstore.Point
	deleted    []vectorstore.Filter
	failUpsert bool
}

func (v *fakeVectorStore) Upsert(_ context.Context, points []vectorstore.Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failUpsert {
		return errors.New("vector store unavailable")
	}
	v.upserted = append(v.upserted, points...)
	return nil
}

func (v *fakeVectorStore) DeleteByFilter(_ context.Context, filter vectorstore.Filter) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted = append(v.deleted, filter)
	return nil
}

func newTestIndexer(t *testing.T, fs *fakeFS, vec VectorStore) (*Indexer, *store.Mock) {
	t.Helper()
	st := store.NewMock()
	require.NoError(t, st.UpsertFolder(context.Background(), &types.Folder{
		Path: "docs", IndexingEnabled: true, IndexStatus: types.IndexStatusPending,
	}))
	cfg := config.IndexerConfig{Workers: 1, EmbedBatchSize: 32, MaxRetries: 2, BackoffBase: time.Millisecond, BackoffCap: 5 * time.Millisecond}
	ck := chunker.New(config.ChunkingConfig{ChunkSize: 50, ChunkOverlap: 5})
	idx := New(cfg, "", st, vec, embeddings.NewMockEmbedder(4), 1, extractor.NewRegistry(), ck, nil, fs, nil)
	return idx, st
}

func TestIndexerAddsNewFile(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/a.txt", "hello knowledge base world, this is a test document about indexing.")
	vec := &fakeVectorStore{}
	idx, st := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))

	f, err := st.GetFile(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "indexed", string(f.IndexStatus))
	assert.Greater(t, f.ChunkCount, 0)

	chunks, err := st.ListChunks(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
	assert.NotEmpty(t, vec.upserted)

	folder, err := st.GetFolder(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, types.IndexStatusIndexed, folder.IndexStatus)
}

func TestIndexerSkipsUnchangedFileOnSecondScan(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/a.txt", "unchanging content that will be indexed once.")
	vec := &fakeVectorStore{}
	idx, _ := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))
	firstCount := len(vec.upserted)
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))

	assert.Equal(t, firstCount, len(vec.upserted), "unchanged file must not be re-embedded or re-upserted")
}

func TestIndexerReindexesOnContentChange(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/a.txt", "version one of the document.")
	vec := &fakeVectorStore{}
	idx, st := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))

	fs.put("docs/a.txt", "version two of the document, now with different content entirely.")
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))

	f, err := st.GetFile(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "indexed", string(f.IndexStatus))
}

func TestIndexerDeletesRemovedFile(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/a.txt", "a file that will be deleted from disk.")
	vec := &fakeVectorStore{}
	idx, st := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))

	fs.remove("docs/a.txt")
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))

	_, err := st.GetFile(ctx, "docs/a.txt")
	assert.Error(t, err)
	assert.NotEmpty(t, vec.deleted)
}

func TestIndexerMarksFileErrorOnVectorUpsertFailure(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/a.txt", "content that embeds fine but fails to reach the vector store.")
	vec := &fakeVectorStore{failUpsert: true}
	idx, st := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	err := idx.processFolderWithRetry(ctx, "docs")
	require.Error(t, err)
	assert.True(t, kberrors.Is(err, kberrors.StoreUnavailable))

	f, ferr := st.GetFile(ctx, "docs/a.txt")
	require.NoError(t, ferr)
	assert.Equal(t, "error", string(f.IndexStatus))

	chunks, cerr := st.ListChunks(ctx, "docs/a.txt")
	require.NoError(t, cerr)
	assert.NotEmpty(t, chunks, "chunk rows stay authoritative pending retry")
}

func TestProcessFolderSkipsDisabledFolder(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/a.txt", "content in a folder whose indexing is switched off.")
	vec := &fakeVectorStore{}
	idx, st := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	folder, err := st.GetFolder(ctx, "docs")
	require.NoError(t, err)
	folder.IndexingEnabled = false
	require.NoError(t, st.UpsertFolder(ctx, folder))

	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))

	_, err = st.GetFile(ctx, "docs/a.txt")
	assert.Error(t, err, "a disabled folder's files must not be indexed")
	assert.Empty(t, vec.upserted)
}

func TestProcessFolderCreatesRowForNewSubfolder(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/sub/b.txt", "a file in a subdirectory first seen via the observer.")
	vec := &fakeVectorStore{}
	idx, st := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs/sub"))

	folder, err := st.GetFolder(ctx, "docs/sub")
	require.NoError(t, err)
	assert.True(t, folder.IndexingEnabled, "subfolder inherits enablement from its ancestor")
	assert.Equal(t, types.IndexStatusIndexed, folder.IndexStatus)

	f, err := st.GetFile(ctx, "docs/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "indexed", string(f.IndexStatus))
}

func TestRescanAfterIndexStateResetRestoresVectors(t *testing.T) {
	fs := newFakeFS()
	fs.put("docs/a.txt", "content indexed, purged with its folder, then indexed again.")
	vec := &fakeVectorStore{}
	idx, st := newTestIndexer(t, fs, vec)

	ctx := context.Background()
	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))
	firstCount := len(vec.upserted)
	require.Greater(t, firstCount, 0)

	// Disable purges the folder's vectors and resets the file rows'
	// index bookkeeping; the bytes on disk are unchanged throughout.
	require.NoError(t, vec.DeleteByFilter(ctx, vectorstore.Filter{FolderPath: "docs"}))
	require.NoError(t, st.ResetFolderIndexState(ctx, "docs"))

	require.NoError(t, idx.processFolderWithRetry(ctx, "docs"))
	assert.Greater(t, len(vec.upserted), firstCount, "an unchanged hash must not mask purged chunk state")

	f, err := st.GetFile(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "indexed", string(f.IndexStatus))
	assert.Greater(t, f.ChunkCount, 0)
	chunks, err := st.ListChunks(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Len(t, chunks, f.ChunkCount)
}

func TestEnqueueCollapsesConcurrentRequestsIntoPendingFlag(t *testing.T) {
	idx, _ := newTestIndexer(t, newFakeFS(), &fakeVectorStore{})

	idx.mu.Lock()
	idx.queued["docs"] = true
	idx.mu.Unlock()

	done := make(chan struct{})
	go func() {
		idx.Enqueue("docs")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on an already-queued folder instead of setting pending")
	}

	idx.mu.Lock()
	pending := idx.pending["docs"]
	idx.mu.Unlock()
	assert.True(t, pending)
}

func TestProcessFolderWithRetryGivesUpAfterMaxRetries(t *testing.T) {
	fs := newFakeFS()
	vec := &fakeVectorStore{}
	inner := store.NewMock()
	require.NoError(t, inner.UpsertFolder(context.Background(), &types.Folder{
		Path: "broken", IndexingEnabled: true, IndexStatus: types.IndexStatusPending,
	}))
	st := &alwaysUnavailableStore{Mock: inner}
	cfg := config.IndexerConfig{Workers: 1, EmbedBatchSize: 32, MaxRetries: 2, BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond}
	ck := chunker.New(config.ChunkingConfig{ChunkSize: 50, ChunkOverlap: 5})
	idx := New(cfg, "", st, vec, embeddings.NewMockEmbedder(4), 1, extractor.NewRegistry(), ck, nil, fs, nil)

	err := idx.processFolderWithRetry(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, kberrors.Is(err, kberrors.StoreUnavailable))
	assert.Equal(t, cfg.MaxRetries+1, st.calls)
}

// alwaysUnavailableStore fails ListFiles every call, so plan() always
// returns kberrors.StoreUnavailable and the retry loop runs to exhaustion.
type alwaysUnavailableStore struct {
	*store.Mock
	mu    sync.Mutex
	calls int
}

func (s *alwaysUnavailableStore) ListFiles(_ context.Context, _ store.FileFilter) ([]*types.File, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil, kberrors.New("ListFiles", kberrors.StoreUnavailable, errors.New("database unreachable"))
}
