package mcp

import (
	"context"
	"testing"

	"knowledgebase/internal/config"
	"knowledgebase/internal/di"
	"knowledgebase/internal/download"
	"knowledgebase/internal/embeddings"
	"knowledgebase/internal/search"
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

func newTestContainer(t *testing.T) (*di.Container, store.Store) {
	t.Helper()
	st := store.NewMock()
	eng := search.New(config.SearchConfig{}, st, &fakeVectorStore{}, embeddings.NewMockEmbedder(8))
	return &di.Container{
		Store:     st,
		Search:    eng,
		Downloads: download.New([]byte("test-secret"), 0),
	}, st
}

func TestHandleSetFolderActiveRequiresUser(t *testing.T) {
	container, _ := newTestContainer(t)
	s := New(container, "test", "0.0.0-test")
	_, err := s.handleSetFolderActive(context.Background(), map[string]interface{}{"folder_path": "docs", "active": false})
	if err == nil {
		t.Fatal("expected error when caller identity is missing")
	}
}

func TestHandleSetFolderActiveAndGetStates(t *testing.T) {
	ctx := context.Background()
	container, st := newTestContainer(t)
	if err := st.UpsertFolder(ctx, &types.Folder{Path: "docs", IndexingEnabled: true}); err != nil {
		t.Fatal(err)
	}
	s := New(container, "test", "0.0.0-test")

	if _, err := s.handleSetFolderActive(ctx, map[string]interface{}{
		"folder_path": "docs", "active": false, "_user": "alice",
	}); err != nil {
		t.Fatal(err)
	}

	out, err := s.handleGetFolderActiveStates(ctx, map[string]interface{}{"_user": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	states := out.(map[string]interface{})["folders"].(map[string]bool)
	if states["docs"] != false {
		t.Fatalf("expected docs to be inactive for alice, got %+v", states)
	}
}

func TestHandleGetFileURIRoundTrips(t *testing.T) {
	ctx := context.Background()
	container, st := newTestContainer(t)
	if err := st.UpsertFile(ctx, &types.File{Path: "docs/a.txt", FolderPath: "docs"}); err != nil {
		t.Fatal(err)
	}
	s := New(container, "test", "0.0.0-test")

	out, err := s.handleGetFileURI(ctx, map[string]interface{}{"file_path": "docs/a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	uri := out.(map[string]interface{})["uri"].(string)
	if uri == "" {
		t.Fatal("expected non-empty download uri")
	}
}

func TestHandleSearchFiltersByVisibility(t *testing.T) {
	ctx := context.Background()
	container, st := newTestContainer(t)
	if err := st.UpsertFolder(ctx, &types.Folder{Path: "docs", IndexingEnabled: true, IndexStatus: types.IndexStatusIndexed}); err != nil {
		t.Fatal(err)
	}
	container.Search = search.New(config.SearchConfig{}, st, &fakeVectorStore{hits: []vectorstore.ScoredPoint{
		{ID: 1, Score: 0.9, Payload: vectorstore.Payload{FilePath: "docs/a.txt", FolderPath: "docs", Text: "fox"}},
	}}, embeddings.NewMockEmbedder(8))
	s := New(container, "test", "0.0.0-test")

	out, err := s.handleSearch(ctx, map[string]interface{}{"query": "fox", "_user": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	results := out.(map[string]interface{})["results"].([]map[string]interface{})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}
