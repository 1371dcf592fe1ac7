package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"knowledgebase/internal/config"
	"knowledgebase/internal/di"
	"knowledgebase/internal/download"
	"knowledgebase/internal/embeddings"
	"knowledgebase/internal/indexer"
	"knowledgebase/internal/store"
	"knowledgebase/internal/sync"
	"knowledgebase/internal/types"
	"knowledgebase/internal/vectorstore"
)

type fakeIndexerVectorStore struct{}

func (fakeIndexerVectorStore) Upsert(context.Context, []vectorstore.Point) error { return nil }
func (fakeIndexerVectorStore) DeleteByFilter(context.Context, vectorstore.Filter) error {
	return nil
}

func newTestRouter(t *testing.T) (*Router, store.Store) {
	t.Helper()
	st := store.NewMock()
	cfg := &config.Config{RootPath: t.TempDir()}

	idx := indexer.New(config.IndexerConfig{}, cfg.RootPath, st, fakeIndexerVectorStore{}, embeddings.NewMockEmbedder(8), 1, nil, nil, nil, nil, nil)
	syncEngine := sync.New(config.SyncConfig{}, cfg.RootPath, st, nil, nil, idx, nil)

	container := &di.Container{
		Config:    cfg,
		Store:     st,
		Indexer:   idx,
		Sync:      syncEngine,
		Downloads: download.New([]byte("test-secret"), 0),
	}
	return New(container), st
}

func TestHealthHandler(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateAndGetFolder(t *testing.T) {
	r, _ := newTestRouter(t)

	body, _ := json.Marshal(createFolderRequest{Name: "docs", Path: "docs"})
	req := httptest.NewRequest(http.MethodPost, "/api/folders/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/folders/docs", nil)
	w = httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetFolderMissing(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/folders/nope", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetFolderSearchActiveRequiresUser(t *testing.T) {
	r, st := newTestRouter(t)
	if err := st.UpsertFolder(context.Background(), &types.Folder{Path: "docs"}); err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(searchActiveRequest{SearchActive: false})
	req := httptest.NewRequest(http.MethodPut, "/api/settings/folders/docs/search-active", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without X-User-Identity, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReindexFolder(t *testing.T) {
	r, st := newTestRouter(t)
	if err := st.UpsertFolder(context.Background(), &types.Folder{Path: "docs"}); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/settings/folders/docs/reindex", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}
