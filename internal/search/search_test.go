package search

import (
	"context"
	"testing"

	"knowledgebase/internal/config"
	"knowledgebase/internal/embeddings"
	"knowledgebase/internal/store"
	"knowledgebase/internal/types"
	"knowledgebase/internal/vectorstore"
)

type fakeVectorStore struct {
	hits []vectorstore.ScoredPoint
}

func (f *fakeVectorStore) Query(_ context.Context, _ []float32, _ string, k int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	var out []vectorstore.ScoredPoint
	for _, h := range f.hits {
		if filter.Matches(h.Payload) {
			out = append(out, h)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func seedFolder(t *testing.T, st store.Store, path string, status types.IndexStatus) {
	t.Helper()
	if err := st.UpsertFolder(context.Background(), &types.Folder{
		Path:            path,
		IndexingEnabled: true,
		IndexStatus:     status,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestEngineQueryFiltersByVisibility(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	seedFolder(t, st, "docs", types.IndexStatusIndexed)
	seedFolder(t, st, "private", types.IndexStatusIndexed)

	if err := st.SetUserVisibility(ctx, &types.UserFolderVisibility{User: "alice", FolderPath: "private", Active: false}); err != nil {
		t.Fatal(err)
	}

	vec := &fakeVectorStore{hits: []vectorstore.ScoredPoint{
		{ID: 1, Score: 0.9, Payload: vectorstore.Payload{FilePath: "docs/hello.txt", FolderPath: "docs", Text: "the quick brown fox"}},
		{ID: 2, Score: 0.95, Payload: vectorstore.Payload{FilePath: "private/secret.txt", FolderPath: "private", Text: "classified fox"}},
	}}

	eng := New(config.SearchConfig{}, st, vec, embeddings.NewMockEmbedder(8))
	results, err := eng.Query(ctx, Request{QueryText: "fox", User: "alice", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 visible result, got %d", len(results))
	}
	if results[0].FilePath != "docs/hello.txt" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
}

func TestEngineQueryExcludesDisabledFolder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	seedFolder(t, st, "docs", types.IndexStatusIndexed)

	f, _ := st.GetFolder(ctx, "docs")
	f.IndexingEnabled = false
	if err := st.UpsertFolder(ctx, f); err != nil {
		t.Fatal(err)
	}

	vec := &fakeVectorStore{hits: []vectorstore.ScoredPoint{
		{ID: 1, Score: 0.9, Payload: vectorstore.Payload{FilePath: "docs/hello.txt", FolderPath: "docs", Text: "fox"}},
	}}

	eng := New(config.SearchConfig{}, st, vec, embeddings.NewMockEmbedder(8))
	results, err := eng.Query(ctx, Request{QueryText: "fox", User: "alice", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from disabled folder, got %d", len(results))
	}
}

func TestGetFileDedupsOverlap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	seedFolder(t, st, "docs", types.IndexStatusIndexed)
	if err := st.UpsertFile(ctx, &types.File{Path: "docs/a.txt", FolderPath: "docs"}); err != nil {
		t.Fatal(err)
	}
	chunks := []*types.Chunk{
		{FilePath: "docs/a.txt", Ordinal: 0, Text: "the quick brown fox jumps"},
		{FilePath: "docs/a.txt", Ordinal: 1, Text: "fox jumps over the lazy dog"},
	}
	if err := st.SwapChunks(ctx, "docs/a.txt", chunks, "h1"); err != nil {
		t.Fatal(err)
	}

	eng := New(config.SearchConfig{}, st, &fakeVectorStore{}, embeddings.NewMockEmbedder(8))
	text, err := eng.GetFile(ctx, "docs/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	want := "the quick brown fox jumps over the lazy dog"
	if text != want {
		t.Fatalf("got %q, want %q", text, want)
	}
}

func TestListIndexedFolders(t *testing.T) {
	ctx := context.Background()
	st := store.NewMock()
	seedFolder(t, st, "docs", types.IndexStatusIndexed)
	if err := st.UpsertFile(ctx, &types.File{Path: "docs/a.txt", FolderPath: "docs", ChunkCount: 2}); err != nil {
		t.Fatal(err)
	}

	eng := New(config.SearchConfig{}, st, &fakeVectorStore{}, embeddings.NewMockEmbedder(8))
	summaries, err := eng.ListIndexedFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].FileCount != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}
