package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"knowledgebase/internal/config"
	"knowledgebase/internal/eventbus"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/logging"
	"knowledgebase/internal/store"
	"knowledgebase/internal/types"
)

// Enqueuer is the subset of indexer.Indexer the sync engine depends on: once
// Apply has mutated the tree, the affected folder is handed to the indexer
// rather than the engine re-implementing file-level diffing.
type Enqueuer interface {
	Enqueue(folderPath string)
}

// Engine runs the three-phase per-folder sync loop: authenticate, plan,
// apply. Runs for the same folder collapse through singleflight.
type Engine struct {
	cfg     config.SyncConfig
	root    string
	store   store.Store
	bus     *eventbus.Bus
	lock    *DistributedLock
	enqueue Enqueuer
	logger  logging.Logger
	clock   func() time.Time

	sf singleflight.Group
}

// New builds an Engine. lock may be nil (single-process mode).
func New(cfg config.SyncConfig, root string, st store.Store, bus *eventbus.Bus, lock *DistributedLock, enqueue Enqueuer, logger logging.Logger) *Engine {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.OverallDeadline <= 0 {
		cfg.OverallDeadline = 15 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if lock == nil {
		lock = NewDistributedLock(nil, 0)
	}
	return &Engine{
		cfg:     cfg,
		root:    root,
		store:   st,
		bus:     bus,
		lock:    lock,
		enqueue: enqueue,
		logger:  logger.WithComponent("sync"),
		clock:   time.Now,
	}
}

// Run triggers a sync pass for every configured sync source each
// PollInterval until ctx is cancelled. Scheduled passes share the
// singleflight group with on-demand triggers, so a pass never doubles up
// with a manual run of the same folder.
func (e *Engine) Run(ctx context.Context) {
	if e.cfg.PollInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.syncAll(ctx)
		}
	}
}

func (e *Engine) syncAll(ctx context.Context) {
	sources, err := e.store.ListSyncSources(ctx)
	if err != nil {
		e.logger.Warn("list sync sources for scheduled pass", "error", err)
		return
	}
	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		if err := e.Trigger(ctx, src.FolderPath); err != nil && !kberrors.Is(err, kberrors.Cancelled) {
			e.logger.Warn("scheduled sync failed", "folder", src.FolderPath, "error", err)
		}
	}
}

// Trigger runs (or joins an in-flight run of) folderPath's sync.
// Concurrent triggers for the same folder collapse into one run via
// singleflight.
func (e *Engine) Trigger(ctx context.Context, folderPath string) error {
	_, err, _ := e.sf.Do(folderPath, func() (interface{}, error) {
		return nil, e.runSync(ctx, folderPath)
	})
	return err
}

func (e *Engine) runSync(ctx context.Context, folderPath string) error {
	release, acquired, err := e.lock.Acquire(ctx, folderPath)
	if err != nil {
		return kberrors.New("Engine.runSync", kberrors.StoreUnavailable, err)
	}
	if !acquired {
		e.logger.Info("another scheduler instance holds the sync lock, skipping", "folder", folderPath)
		return nil
	}
	defer release()

	folder, err := e.store.GetFolder(ctx, folderPath)
	if err != nil {
		return kberrors.New("Engine.runSync", kberrors.NotFound, err)
	}
	src, err := e.store.GetSyncSource(ctx, folderPath)
	if err != nil || src == nil {
		return kberrors.New("Engine.runSync", kberrors.NotFound, fmt.Errorf("folder %s has no sync source", folderPath))
	}
	provider, ok := ProviderFor(src.Kind)
	if !ok {
		return kberrors.New("Engine.runSync", kberrors.ProviderFatal, fmt.Errorf("no provider registered for kind %q", src.Kind))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.OverallDeadline)
	defer cancel()

	e.markSyncing(runCtx, folder)

	auth, err := provider.Authorize(runCtx, src)
	if err != nil {
		e.markError(runCtx, folder, err.Error(), false)
		return kberrors.New("Engine.runSync", kberrors.ProviderTransient, err)
	}
	if auth.NeedsReconnect {
		e.markError(runCtx, folder, "provider authorization expired", true)
		return kberrors.New("Engine.runSync", kberrors.ProviderAuthRequired, fmt.Errorf("%s requires reconnect", src.Kind))
	}
	if auth.Credential != src.Credential {
		src.Credential = auth.Credential
		if err := e.store.SetSyncSource(runCtx, src); err != nil {
			e.logger.Warn("failed to persist refreshed credential", "folder", folderPath, "error", err)
		}
	}

	plan, err := e.planWithRetry(runCtx, provider, src)
	if err != nil {
		e.markError(runCtx, folder, err.Error(), false)
		return err
	}

	if len(plan.Entries) == 0 && plan.NextCursor != "" && plan.NextCursor == src.Cursor {
		// Remote unchanged since the last run. An empty entry list here is
		// a no-change signal, not an emptied remote, so apply must not run:
		// it would read the empty set as "delete everything local".
		now := e.clock()
		folder.SyncStatus = types.SyncStatusSynced
		folder.LastSyncedAt = &now
		folder.LastSyncError = ""
		if err := e.store.UpsertFolder(runCtx, folder); err != nil {
			return kberrors.New("Engine.runSync", kberrors.StoreUnavailable, err)
		}
		e.publish(eventbus.TopicSyncStatus, folderPath, eventbus.SyncStatusPayload{Status: string(types.SyncStatusSynced)})
		return nil
	}

	filesWritten, filesDeleted, err := e.apply(runCtx, folderPath, plan.Entries)
	if err != nil {
		e.markError(runCtx, folder, err.Error(), false)
		return err
	}

	src.Cursor = plan.NextCursor
	if err := e.store.SetSyncSource(runCtx, src); err != nil {
		e.logger.Warn("failed to persist new sync cursor", "folder", folderPath, "error", err)
	}

	now := e.clock()
	folder.SyncStatus = types.SyncStatusSynced
	folder.LastSyncedAt = &now
	folder.LastSyncError = ""
	if err := e.store.UpsertFolder(runCtx, folder); err != nil {
		return kberrors.New("Engine.runSync", kberrors.StoreUnavailable, err)
	}
	e.publish(eventbus.TopicSyncStatus, folderPath, eventbus.SyncStatusPayload{Status: string(types.SyncStatusSynced)})

	e.logger.Info("sync completed", "folder", folderPath, "files_written", filesWritten, "files_deleted", filesDeleted)

	if filesWritten+filesDeleted > 0 {
		e.enqueue.Enqueue(folderPath)
	}
	return nil
}

// planWithRetry retries a Plan call on ProviderTransient errors with
// exponential backoff bounded by the overall deadline already on ctx.
// ProviderFatal ends the run immediately.
func (e *Engine) planWithRetry(ctx context.Context, provider Provider, src *types.SyncSource) (PlanResult, error) {
	delay := time.Second
	const maxAttempts = 4
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		plan, err := provider.Plan(ctx, src)
		if err == nil {
			return plan, nil
		}
		lastErr = err
		if !kberrors.Is(err, kberrors.ProviderTransient) {
			return PlanResult{}, err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return PlanResult{}, kberrors.New("Engine.planWithRetry", kberrors.Cancelled, ctx.Err())
		}
		delay *= 2
	}
	return PlanResult{}, lastErr
}

// apply reconciles the remote listing against the local file set: remote
// entries whose provider etag changed are written (atomic temp+rename),
// entries with an unchanged etag are skipped without fetching, and local
// files no longer present remotely are deleted. Cancellation is checked
// between every file operation; a cancelled run leaves whatever was
// already written on disk for the observer and indexer to reconcile.
func (e *Engine) apply(ctx context.Context, folderPath string, entries []RemoteEntry) (written, deleted int, err error) {
	remoteSet := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		remoteSet[entry.RemotePath] = struct{}{}
	}

	etags, err := e.store.GetSyncETags(ctx, folderPath)
	if err != nil {
		return 0, 0, kberrors.New("Engine.apply", kberrors.StoreUnavailable, err)
	}

	local, err := e.store.ListFiles(ctx, store.FileFilter{FolderPath: folderPath, Prefix: true})
	if err != nil {
		return 0, 0, kberrors.New("Engine.apply", kberrors.StoreUnavailable, err)
	}
	for _, f := range local {
		relPath := f.Path
		if folderPath != "" {
			relPath = relPath[len(folderPath)+1:]
		}
		if _, stillRemote := remoteSet[relPath]; stillRemote {
			continue
		}
		if ctx.Err() != nil {
			return written, deleted, kberrors.New("Engine.apply", kberrors.Cancelled, ctx.Err())
		}
		absPath := filepath.Join(e.root, filepath.FromSlash(f.Path))
		if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
			return written, deleted, kberrors.New("Engine.apply", kberrors.ProviderFatal, err)
		}
		if err := e.store.DeleteFile(ctx, f.Path); err != nil {
			return written, deleted, kberrors.New("Engine.apply", kberrors.StoreUnavailable, err)
		}
		if err := e.store.DeleteSyncETag(ctx, folderPath, f.Path); err != nil {
			return written, deleted, kberrors.New("Engine.apply", kberrors.StoreUnavailable, err)
		}
		deleted++
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return written, deleted, kberrors.New("Engine.apply", kberrors.Cancelled, ctx.Err())
		}
		logicalPath := entry.RemotePath
		if folderPath != "" {
			logicalPath = folderPath + "/" + entry.RemotePath
		}
		if entry.ETag != "" && etags[logicalPath] == entry.ETag {
			// Remote version marker unchanged since the last applied run:
			// nothing to fetch or rewrite.
			continue
		}
		content, err := entry.Fetch(ctx)
		if err != nil {
			return written, deleted, kberrors.New("Engine.apply", kberrors.ProviderTransient, err)
		}
		absPath := filepath.Join(e.root, filepath.FromSlash(logicalPath))
		if err := WriteAtomic(absPath, content); err != nil {
			return written, deleted, kberrors.New("Engine.apply", kberrors.ProviderFatal, err)
		}
		if err := e.store.SetSyncETag(ctx, folderPath, logicalPath, entry.ETag); err != nil {
			return written, deleted, kberrors.New("Engine.apply", kberrors.StoreUnavailable, err)
		}
		written++
	}
	return written, deleted, nil
}

func (e *Engine) markSyncing(ctx context.Context, folder *types.Folder) {
	folder.SyncStatus = types.SyncStatusSyncing
	_ = e.store.UpsertFolder(ctx, folder)
	e.publish(eventbus.TopicSyncStatus, folder.Path, eventbus.SyncStatusPayload{Status: string(types.SyncStatusSyncing)})
}

func (e *Engine) markError(ctx context.Context, folder *types.Folder, message string, reconnect bool) {
	folder.SyncStatus = types.SyncStatusError
	folder.LastSyncError = message
	_ = e.store.UpsertFolder(ctx, folder)
	e.publish(eventbus.TopicSyncStatus, folder.Path, eventbus.SyncStatusPayload{
		Status:          string(types.SyncStatusError),
		Error:           message,
		ReconnectPrompt: reconnect,
	})
}

func (e *Engine) publish(topic eventbus.Topic, path string, payload interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Topic: topic, Path: path, Payload: payload, Timestamp: e.clock()})
}
