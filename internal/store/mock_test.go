package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/types"
)

func TestSwapChunksSetsIndexedAtomically(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	require.NoError(t, m.UpsertFile(ctx, &types.File{Path: "a.md", FolderPath: "", ContentHash: "h1"}))

	chunks := []*types.Chunk{
		{FilePath: "a.md", Ordinal: 0, Text: "one", DenseVectorID: "v0"},
		{FilePath: "a.md", Ordinal: 1, Text: "two", DenseVectorID: "v1"},
	}
	require.NoError(t, m.SwapChunks(ctx, "a.md", chunks, "h1"))

	f, err := m.GetFile(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, types.IndexStatusIndexed, f.IndexStatus)
	assert.Equal(t, "h1", f.IndexedHash)
	assert.Equal(t, 2, f.ChunkCount)

	got, err := m.ListChunks(ctx, "a.md")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSwapChunksOnUnknownFileFails(t *testing.T) {
	m := NewMock()
	err := m.SwapChunks(context.Background(), "missing.md", nil, "h")
	assert.Error(t, err)
}

func TestListFilesFiltersByFolderPrefix(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	require.NoError(t, m.UpsertFile(ctx, &types.File{Path: "docs/a.md", FolderPath: "docs"}))
	require.NoError(t, m.UpsertFile(ctx, &types.File{Path: "docs/sub/b.md", FolderPath: "docs/sub"}))
	require.NoError(t, m.UpsertFile(ctx, &types.File{Path: "other/c.md", FolderPath: "other"}))

	files, err := m.ListFiles(ctx, FileFilter{FolderPath: "docs", Prefix: true})
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestUserVisibilityDefaultsTrue(t *testing.T) {
	m := NewMock()
	active, err := m.GetUserVisibility(context.Background(), "alice", "docs")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, m.SetUserVisibility(context.Background(), &types.UserFolderVisibility{
		User: "alice", FolderPath: "docs", Active: false,
	}))
	active, err = m.GetUserVisibility(context.Background(), "alice", "docs")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSyncSourceReplacedWholesale(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	require.NoError(t, m.SetSyncSource(ctx, &types.SyncSource{
		FolderPath: "docs", Kind: types.ProviderGitHub, Repo: "acme/docs", Branch: "main",
	}))
	s, err := m.GetSyncSource(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "main", s.Branch)

	require.NoError(t, m.SetSyncSource(ctx, &types.SyncSource{
		FolderPath: "docs", Kind: types.ProviderGitHub, Repo: "acme/docs", Branch: "release",
	}))
	s, err = m.GetSyncSource(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "release", s.Branch)
}

func TestStatsByExtension(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	require.NoError(t, m.UpsertFile(ctx, &types.File{Path: "docs/a.md", FolderPath: "docs", Size: 10}))
	require.NoError(t, m.UpsertFile(ctx, &types.File{Path: "docs/b.md", FolderPath: "docs", Size: 20}))
	require.NoError(t, m.UpsertFile(ctx, &types.File{Path: "docs/c.txt", FolderPath: "docs", Size: 5}))

	stats, err := m.StatsByExtension(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, s := range stats {
		if s.Extension == "md" {
			assert.Equal(t, 2, s.FileCount)
			assert.Equal(t, int64(30), s.ByteSize)
		}
	}
}
