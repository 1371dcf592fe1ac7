package sync

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/config"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/store"
	"knowledgebase/internal/types"
)

const testProviderKind = types.SyncProviderKind("test")

type fakeProvider struct {
	authResult AuthResult
	authErr    error
	plans      []PlanResult
	planErrs   []error
	calls      int
}

func (p *fakeProvider) Authorize(context.Context, *types.SyncSource) (AuthResult, error) {
	return p.authResult, p.authErr
}

func (p *fakeProvider) Plan(context.Context, *types.SyncSource) (PlanResult, error) {
	i := p.calls
	p.calls++
	if i < len(p.planErrs) && p.planErrs[i] != nil {
		return PlanResult{}, p.planErrs[i]
	}
	if i < len(p.plans) {
		return p.plans[i], nil
	}
	return p.plans[len(p.plans)-1], nil
}

type fakeEnqueuer struct {
	enqueued []string
}

func (f *fakeEnqueuer) Enqueue(folderPath string) { f.enqueued = append(f.enqueued, folderPath) }

func newTestEngine(t *testing.T, root string, st store.Store, enq *fakeEnqueuer) *Engine {
	t.Helper()
	cfg := config.SyncConfig{RequestTimeout: time.Second, OverallDeadline: 10 * time.Second}
	return New(cfg, root, st, nil, nil, enq, nil)
}

func setupFolder(t *testing.T, st store.Store, path string, kind types.SyncProviderKind) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertFolder(ctx, &types.Folder{Path: path, IndexingEnabled: true}))
	require.NoError(t, st.SetSyncSource(ctx, &types.SyncSource{FolderPath: path, Kind: kind}))
}

func TestEngineAppliesNewFilesAndAdvancesCursor(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)

	provider := &fakeProvider{
		authResult: AuthResult{Credential: types.Credential{Token: "tok"}},
		plans: []PlanResult{{
			NextCursor: "v1",
			Entries: []RemoteEntry{{
				RemotePath: "a.md",
				ETag:       "e1",
				Fetch:      func(context.Context) ([]byte, error) { return []byte("hello"), nil },
			}},
		}},
	}
	Register(testProviderKind, func() Provider { return provider })

	enq := &fakeEnqueuer{}
	eng := newTestEngine(t, root, st, enq)

	require.NoError(t, eng.Trigger(context.Background(), "docs"))

	data, err := os.ReadFile(filepath.Join(root, "docs", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	src, err := st.GetSyncSource(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "v1", src.Cursor)

	folder, err := st.GetFolder(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusSynced, folder.SyncStatus)
	assert.Contains(t, enq.enqueued, "docs")
}

func TestEngineDeletesFilesRemovedRemotely(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "old.md"), []byte("stale"), 0o644))
	require.NoError(t, st.UpsertFile(context.Background(), &types.File{Path: "docs/old.md", FolderPath: "docs"}))

	provider := &fakeProvider{
		authResult: AuthResult{Credential: types.Credential{Token: "tok"}},
		plans:      []PlanResult{{NextCursor: "v1"}},
	}
	Register(testProviderKind, func() Provider { return provider })

	eng := newTestEngine(t, root, st, &fakeEnqueuer{})
	require.NoError(t, eng.Trigger(context.Background(), "docs"))

	_, err := os.Stat(filepath.Join(root, "docs", "old.md"))
	assert.True(t, os.IsNotExist(err))
	_, err = st.GetFile(context.Background(), "docs/old.md")
	assert.Error(t, err)
}

func TestEngineSkipsEntriesWithUnchangedETag(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("local copy"), 0o644))
	require.NoError(t, st.UpsertFile(context.Background(), &types.File{Path: "docs/a.md", FolderPath: "docs"}))
	require.NoError(t, st.SetSyncETag(context.Background(), "docs", "docs/a.md", "e1"))

	fetches := 0
	provider := &fakeProvider{
		authResult: AuthResult{Credential: types.Credential{Token: "tok"}},
		plans: []PlanResult{{
			Entries: []RemoteEntry{{
				RemotePath: "a.md",
				ETag:       "e1",
				Fetch: func(context.Context) ([]byte, error) {
					fetches++
					return []byte("should never be fetched"), nil
				},
			}},
		}},
	}
	Register(testProviderKind, func() Provider { return provider })

	enq := &fakeEnqueuer{}
	eng := newTestEngine(t, root, st, enq)
	require.NoError(t, eng.Trigger(context.Background(), "docs"))

	assert.Equal(t, 0, fetches, "an unchanged etag must skip the fetch entirely")
	data, err := os.ReadFile(filepath.Join(root, "docs", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "local copy", string(data))
	assert.Empty(t, enq.enqueued, "a no-op apply must not enqueue the indexer")
}

func TestEngineRewritesEntryWhenETagChanges(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("old version"), 0o644))
	require.NoError(t, st.UpsertFile(context.Background(), &types.File{Path: "docs/a.md", FolderPath: "docs"}))
	require.NoError(t, st.SetSyncETag(context.Background(), "docs", "docs/a.md", "e1"))

	provider := &fakeProvider{
		authResult: AuthResult{Credential: types.Credential{Token: "tok"}},
		plans: []PlanResult{{
			Entries: []RemoteEntry{{
				RemotePath: "a.md",
				ETag:       "e2",
				Fetch:      func(context.Context) ([]byte, error) { return []byte("new version"), nil },
			}},
		}},
	}
	Register(testProviderKind, func() Provider { return provider })

	eng := newTestEngine(t, root, st, &fakeEnqueuer{})
	require.NoError(t, eng.Trigger(context.Background(), "docs"))

	data, err := os.ReadFile(filepath.Join(root, "docs", "a.md"))
	require.NoError(t, err)
	assert.Equal(t, "new version", string(data))

	etags, err := st.GetSyncETags(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "e2", etags["docs/a.md"])
}

func TestEngineUnchangedCursorLeavesLocalFilesAlone(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)
	require.NoError(t, st.SetSyncSource(context.Background(), &types.SyncSource{
		FolderPath: "docs", Kind: testProviderKind, Cursor: "v1",
	}))

	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "kept.md"), []byte("still here"), 0o644))
	require.NoError(t, st.UpsertFile(context.Background(), &types.File{Path: "docs/kept.md", FolderPath: "docs"}))

	// An empty entry list with the cursor echoed back is a no-change
	// signal, not an emptied remote.
	provider := &fakeProvider{
		authResult: AuthResult{Credential: types.Credential{Token: "tok"}},
		plans:      []PlanResult{{NextCursor: "v1"}},
	}
	Register(testProviderKind, func() Provider { return provider })

	enq := &fakeEnqueuer{}
	eng := newTestEngine(t, root, st, enq)
	require.NoError(t, eng.Trigger(context.Background(), "docs"))

	_, err := os.Stat(filepath.Join(root, "docs", "kept.md"))
	assert.NoError(t, err)
	_, err = st.GetFile(context.Background(), "docs/kept.md")
	assert.NoError(t, err)
	assert.Empty(t, enq.enqueued)

	folder, ferr := st.GetFolder(context.Background(), "docs")
	require.NoError(t, ferr)
	assert.Equal(t, types.SyncStatusSynced, folder.SyncStatus)
}

func TestEngineMarksReconnectOnAuthFailure(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)

	provider := &fakeProvider{authResult: AuthResult{NeedsReconnect: true}}
	Register(testProviderKind, func() Provider { return provider })

	eng := newTestEngine(t, root, st, &fakeEnqueuer{})
	err := eng.Trigger(context.Background(), "docs")
	require.Error(t, err)
	assert.True(t, kberrors.Is(err, kberrors.ProviderAuthRequired))

	folder, ferr := st.GetFolder(context.Background(), "docs")
	require.NoError(t, ferr)
	assert.Equal(t, types.SyncStatusError, folder.SyncStatus)
}

func TestEngineRetriesProviderTransientPlanErrors(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)

	provider := &fakeProvider{
		authResult: AuthResult{Credential: types.Credential{Token: "tok"}},
		planErrs: []error{
			kberrors.New("fakeProvider.Plan", kberrors.ProviderTransient, nil),
			kberrors.New("fakeProvider.Plan", kberrors.ProviderTransient, nil),
		},
		plans: []PlanResult{{}, {}, {NextCursor: "v2"}},
	}
	Register(testProviderKind, func() Provider { return provider })

	eng := newTestEngine(t, root, st, &fakeEnqueuer{})
	require.NoError(t, eng.Trigger(context.Background(), "docs"))
	assert.Equal(t, 3, provider.calls)
}

func TestTriggerCollapsesConcurrentCalls(t *testing.T) {
	root := t.TempDir()
	st := store.NewMock()
	setupFolder(t, st, "docs", testProviderKind)

	started := make(chan struct{})
	release := make(chan struct{})
	provider := &slowProvider{started: started, release: release}
	Register(testProviderKind, func() Provider { return provider })

	eng := newTestEngine(t, root, st, &fakeEnqueuer{})

	done := make(chan error, 2)
	go func() { done <- eng.Trigger(context.Background(), "docs") }()
	<-started
	go func() { done <- eng.Trigger(context.Background(), "docs") }()

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, 1, provider.planCalls)
}

type slowProvider struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
	planCalls int
}

func (p *slowProvider) Authorize(context.Context, *types.SyncSource) (AuthResult, error) {
	return AuthResult{Credential: types.Credential{Token: "tok"}}, nil
}

func (p *slowProvider) Plan(context.Context, *types.SyncSource) (PlanResult, error) {
	p.planCalls++
	p.startOnce.Do(func() { close(p.started) })
	<-p.release
	return PlanResult{NextCursor: "v1"}, nil
}
