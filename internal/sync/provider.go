// Package sync implements the remote-source sync engine: a per-folder
// pull loop keyed by a folder's SyncSource, pulling external providers
// into the managed filesystem tree on a schedule or on demand.
//
// Providers are registered in a kind-keyed table: a Provider only needs to
// authenticate and plan against its own remote, and the engine in
// scheduler.go drives every provider through the same three phases.
package sync

import (
	"context"

	"knowledgebase/internal/types"
)

// RemoteEntry is one file a provider's Plan phase found on the remote side,
// expressed relative to SyncSource.Root.
type RemoteEntry struct {
	RemotePath string
	ETag       string // provider version marker: blob SHA, Drive revision id, page version, ...
	Fetch      func(ctx context.Context) ([]byte, error)
}

// PlanResult is the outcome of a Plan call. NextCursor is persisted on the
// SyncSource once Apply completes successfully, so the following Plan can
// skip unchanged remotes entirely.
type PlanResult struct {
	Entries    []RemoteEntry
	NextCursor string
}

// AuthResult is returned by Authorize: either a usable credential or a
// reconnect prompt when no refresh path exists.
type AuthResult struct {
	Credential     types.Credential
	NeedsReconnect bool
}

// Provider is the capability every SyncSource variant implements.
type Provider interface {
	// Authorize validates/refreshes src's credential. Implementations must
	// not mutate src; a refreshed credential is returned for the caller to
	// persist.
	Authorize(ctx context.Context, src *types.SyncSource) (AuthResult, error)

	// Plan compares the remote listing against src.Cursor and returns the
	// files that must be (re)written locally.
	Plan(ctx context.Context, src *types.SyncSource) (PlanResult, error)
}

// Factory constructs a fresh Provider instance; providers are stateless
// across runs so a new value per sync is cheap and avoids cross-folder
// state leaking between concurrent syncs of different folders.
type Factory func() Provider

var registry = map[types.SyncProviderKind]Factory{}

// Register adds kind to the provider table. Called from each provider
// file's init().
func Register(kind types.SyncProviderKind, f Factory) {
	registry[kind] = f
}

// ProviderFor looks up the Provider registered for kind.
func ProviderFor(kind types.SyncProviderKind) (Provider, bool) {
	f, ok := registry[kind]
	if !ok {
		return nil, false
	}
	return f(), true
}
