// Package types defines the entities of the content lifecycle pipeline:
// folders, files, chunks, sync sources and per-user folder visibility.
package types

import (
	"errors"
	"path"
	"strings"
	"time"
)

// UserIdentity is an opaque identity token supplied by the HTTP/MCP layer.
// The authentication model that produces it is out of scope for this
// system; it is treated purely as a visibility-filter key.
type UserIdentity string

// SyncStatus is the lifecycle status of a folder's remote sync.
type SyncStatus string

const (
	SyncStatusIdle     SyncStatus = "idle"
	SyncStatusSyncing  SyncStatus = "syncing"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusError    SyncStatus = "error"
)

// IndexStatus is the lifecycle status of a folder's or file's indexing.
type IndexStatus string

const (
	IndexStatusNone     IndexStatus = "none"
	IndexStatusPending  IndexStatus = "pending"
	IndexStatusIndexing IndexStatus = "indexing"
	IndexStatusIndexed  IndexStatus = "indexed"
	IndexStatusError    IndexStatus = "error"
)

// SyncProviderKind is the tagged variant of a remote sync source. Each kind
// has a registered provider implementation.
type SyncProviderKind string

const (
	ProviderSharePoint   SyncProviderKind = "sharepoint"
	ProviderGoogleDrive  SyncProviderKind = "google_drive"
	ProviderGitHub       SyncProviderKind = "github"
	ProviderAzureDevOps  SyncProviderKind = "azure_devops"
	ProviderJira         SyncProviderKind = "jira"
	ProviderConfluence   SyncProviderKind = "confluence"
	ProviderBox          SyncProviderKind = "box"
)

// Folder is identified by its logical path: a POSIX-style path relative to
// the managed root, with '/' separators, no leading '/', no '..'.
type Folder struct {
	Path              string
	IndexingEnabled   bool
	SyncSource        *SyncSource
	SyncStatus        SyncStatus
	LastSyncedAt      *time.Time
	LastSyncError     string
	IndexStatus       IndexStatus
	MetadataText      string
	MetadataUpdatedBy UserIdentity
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// File is identified by its logical path.
type File struct {
	Path         string
	FolderPath   string
	Size         int64
	MTime        time.Time
	ContentHash  string
	MIME         string
	IndexStatus  IndexStatus
	IndexedAt    *time.Time
	IndexedHash  string
	ChunkCount   int
	ErrorMessage string
}

// NeedsReindex reports whether the file must be (re)processed by the
// indexer: the content hash changed, the last run didn't finish, the
// embedding model moved on since the chunks were written, or the row's
// recorded chunk_count no longer matches the chunk rows actually
// persisted (storedChunkCount, as counted by the caller). The last check
// catches chunk state purged out-of-band, which hash comparison alone
// would never notice.
func (f *File) NeedsReindex(embeddingVersion, chunkEmbeddingVersion, storedChunkCount int) bool {
	if f.ContentHash != f.IndexedHash {
		return true
	}
	if f.IndexStatus != IndexStatusIndexed {
		return true
	}
	if f.ChunkCount != storedChunkCount {
		return true
	}
	if f.ChunkCount > 0 && chunkEmbeddingVersion != embeddingVersion {
		return true
	}
	return false
}

// Chunk is a contiguous slice of a file's extracted text, identified by
// (FilePath, Ordinal). Ordinals are dense [0, ChunkCount) and stable across
// re-index of unchanged files.
type Chunk struct {
	FilePath         string
	Ordinal          int
	Text             string
	TokenCount       int
	CharStart        int
	CharEnd          int
	EmbeddingVersion int
	DenseVectorID    string
	SparseVectorID   string
}

// SyncSource binds a folder to a remote provider. Exactly one of the
// provider-specific selector fields is populated, matching Kind.
type SyncSource struct {
	FolderPath string
	Kind       SyncProviderKind
	Credential Credential

	// GitHub / AzureDevOps (git) selectors.
	Repo   string
	Branch string
	Root   string // sub-path within the repo to mirror

	// Google Drive / SharePoint / Box selectors.
	DriveID  string
	SiteID   string
	FolderID string

	// Jira / Confluence selectors.
	ProjectKey string
	SpaceKey   string

	// BaseURL is the tenant instance URL for providers without a fixed API
	// host (Jira/Confluence Cloud or Server, SharePoint tenant root).
	BaseURL string

	// Cursor is the opaque incremental-pull cursor persisted between runs
	// (a provider etag/version marker, a git commit SHA, ...).
	Cursor string
}

// Credential holds whatever token material a provider needs. OAuth
// token/refresh-token pairs are the common case; API-key providers only
// populate Token.
type Credential struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	TenantID     string
}

// Expired reports whether the access token needs a refresh.
func (c Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// UserFolderVisibility is the per-user folder search toggle; defaults to
// true (visible) for any (user, folder) pair with no explicit row.
type UserFolderVisibility struct {
	User       UserIdentity
	FolderPath string
	Active     bool
}

// NormalizePath validates and normalizes a logical path: POSIX separators,
// no leading '/', no '..' components, no trailing slash.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return "", errors.New("path escapes managed root")
		}
	}
	return cleaned, nil
}

// ParentPath returns the logical parent folder of p, or "" if p is
// already at the managed root.
func ParentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// Ancestors returns every ancestor folder path of p, nearest first,
// excluding p itself and the root.
func Ancestors(p string) []string {
	var out []string
	for cur := ParentPath(p); cur != ""; cur = ParentPath(cur) {
		out = append(out, cur)
	}
	return out
}
