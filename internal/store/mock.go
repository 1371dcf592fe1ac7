package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

// Mock is an in-memory Store for unit tests.
type Mock struct {
	mu         sync.Mutex
	folders    map[string]*types.Folder
	files      map[string]*types.File
	chunks     map[string][]*types.Chunk // keyed by file path
	syncs      map[string]*types.SyncSource
	syncETags  map[string]string // keyed by folderPath+"\x00"+path
	visibility map[string]bool   // keyed by user+"\x00"+folderPath
}

// NewMock creates an empty in-memory store.
func NewMock() *Mock {
	return &Mock{
		folders:    make(map[string]*types.Folder),
		files:      make(map[string]*types.File),
		chunks:     make(map[string][]*types.Chunk),
		syncs:      make(map[string]*types.SyncSource),
		syncETags:  make(map[string]string),
		visibility: make(map[string]bool),
	}
}

func (m *Mock) Close() error { return nil }

func (m *Mock) GetFolder(_ context.Context, path string) (*types.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.folders[path]
	if !ok {
		return nil, kberrors.New("GetFolder", kberrors.NotFound, nil)
	}
	cp := *f
	return &cp, nil
}

func (m *Mock) ListFolders(_ context.Context) ([]*types.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Folder, 0, len(m.folders))
	for _, f := range m.folders {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Mock) UpsertFolder(_ context.Context, f *types.Folder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.folders[f.Path] = &cp
	return nil
}

// DeleteFolder removes path and everything beneath it, emulating the
// relational schema's ON DELETE CASCADE.
func (m *Mock) DeleteFolder(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := path + "/"
	for p := range m.folders {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.folders, p)
			delete(m.syncs, p)
		}
	}
	for p := range m.files {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.files, p)
			delete(m.chunks, p)
		}
	}
	for k := range m.visibility {
		if fp := visFolder(k); fp == path || strings.HasPrefix(fp, prefix) {
			delete(m.visibility, k)
		}
	}
	for k := range m.syncETags {
		fp := k[:strings.IndexByte(k, '\x00')]
		if fp == path || strings.HasPrefix(fp, prefix) {
			delete(m.syncETags, k)
		}
	}
	return nil
}

func visFolder(key string) string {
	if i := strings.IndexByte(key, '\x00'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func etagKey(folderPath, path string) string { return folderPath + "\x00" + path }

func (m *Mock) GetSyncETags(_ context.Context, folderPath string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	prefix := folderPath + "\x00"
	for k, v := range m.syncETags {
		if strings.HasPrefix(k, prefix) {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

func (m *Mock) SetSyncETag(_ context.Context, folderPath, path, etag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncETags[etagKey(folderPath, path)] = etag
	return nil
}

func (m *Mock) DeleteSyncETag(_ context.Context, folderPath, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.syncETags, etagKey(folderPath, path))
	return nil
}

// ResetFolderIndexState mirrors the relational implementation: chunk rows
// dropped and file index bookkeeping cleared for the folder subtree.
func (m *Mock) ResetFolderIndexState(_ context.Context, folderPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := folderPath + "/"
	for p, f := range m.files {
		if f.FolderPath != folderPath && !strings.HasPrefix(f.FolderPath, prefix) {
			continue
		}
		f.IndexStatus = types.IndexStatusNone
		f.IndexedHash = ""
		f.ChunkCount = 0
		f.IndexedAt = nil
		delete(m.chunks, p)
	}
	return nil
}

func (m *Mock) GetFile(_ context.Context, path string) (*types.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return nil, kberrors.New("GetFile", kberrors.NotFound, nil)
	}
	cp := *f
	return &cp, nil
}

func (m *Mock) ListFiles(_ context.Context, filter FileFilter) ([]*types.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.File
	for _, f := range m.files {
		if filter.FolderPath != "" {
			if filter.Prefix {
				if f.FolderPath != filter.FolderPath && !strings.HasPrefix(f.FolderPath, filter.FolderPath+"/") {
					continue
				}
			} else if f.FolderPath != filter.FolderPath {
				continue
			}
		}
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Mock) UpsertFile(_ context.Context, f *types.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.files[f.Path] = &cp
	return nil
}

func (m *Mock) DeleteFile(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	delete(m.chunks, path)
	return nil
}

func (m *Mock) MarkFileIndexStatus(_ context.Context, path string, status types.IndexStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return kberrors.New("MarkFileIndexStatus", kberrors.NotFound, nil)
	}
	f.IndexStatus = status
	f.ErrorMessage = errMsg
	return nil
}

func (m *Mock) SwapChunks(_ context.Context, path string, chunks []*types.Chunk, indexedHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path]
	if !ok {
		return kberrors.New("SwapChunks", kberrors.NotFound, nil)
	}
	cp := make([]*types.Chunk, len(chunks))
	for i, c := range chunks {
		c2 := *c
		cp[i] = &c2
	}
	m.chunks[path] = cp
	f.IndexStatus = types.IndexStatusIndexed
	f.IndexedHash = indexedHash
	f.ChunkCount = len(chunks)
	return nil
}

func (m *Mock) ListChunks(_ context.Context, path string) ([]*types.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.chunks[path]
	out := make([]*types.Chunk, len(src))
	for i, c := range src {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (m *Mock) GetChunk(_ context.Context, path string, ordinal int) (*types.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks[path] {
		if c.Ordinal == ordinal {
			cp := *c
			return &cp, nil
		}
	}
	return nil, kberrors.New("GetChunk", kberrors.NotFound, nil)
}

func (m *Mock) GetSyncSource(_ context.Context, folderPath string) (*types.SyncSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.syncs[folderPath]
	if !ok {
		return nil, kberrors.New("GetSyncSource", kberrors.NotFound, nil)
	}
	cp := *s
	return &cp, nil
}

func (m *Mock) ListSyncSources(_ context.Context) ([]*types.SyncSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.SyncSource, 0, len(m.syncs))
	for _, s := range m.syncs {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FolderPath < out[j].FolderPath })
	return out, nil
}

func (m *Mock) SetSyncSource(_ context.Context, src *types.SyncSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *src
	m.syncs[src.FolderPath] = &cp
	return nil
}

func (m *Mock) ClearSyncSource(_ context.Context, folderPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.syncs, folderPath)
	return nil
}

func visKey(user types.UserIdentity, folderPath string) string {
	return string(user) + "\x00" + folderPath
}

func (m *Mock) GetUserVisibility(_ context.Context, user types.UserIdentity, folderPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active, ok := m.visibility[visKey(user, folderPath)]
	if !ok {
		return true, nil
	}
	return active, nil
}

func (m *Mock) SetUserVisibility(_ context.Context, v *types.UserFolderVisibility) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visibility[visKey(v.User, v.FolderPath)] = v.Active
	return nil
}

func (m *Mock) StatsByExtension(_ context.Context, folderPath string) ([]ExtensionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byExt := make(map[string]*ExtensionStats)
	for _, f := range m.files {
		if f.FolderPath != folderPath && !strings.HasPrefix(f.FolderPath, folderPath+"/") {
			continue
		}
		ext := "(none)"
		if i := strings.LastIndex(f.Path, "."); i >= 0 {
			ext = f.Path[i+1:]
		}
		s, ok := byExt[ext]
		if !ok {
			s = &ExtensionStats{Extension: ext}
			byExt[ext] = s
		}
		s.FileCount++
		s.ByteSize += f.Size
	}
	out := make([]ExtensionStats, 0, len(byExt))
	for _, s := range byExt {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out, nil
}

var _ Store = (*Mock)(nil)
