package indexer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"knowledgebase/internal/eventbus"
	"knowledgebase/internal/extractor"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
	"knowledgebase/internal/vectorstore"
)

// scanAndProcess runs plan+process for folderPath, collapsing concurrent
// invocations (from the worker queue and from any direct "reindex now"
// caller) through singleflight so a folder is never scanned twice at once.
func (idx *Indexer) scanAndProcess(ctx context.Context, folderPath string) {
	_, _, _ = idx.sf.Do(folderPath, func() (interface{}, error) {
		return nil, idx.processFolderWithRetry(ctx, folderPath)
	})
}

// processFolderWithRetry retries a folder scan on store-connectivity
// failures with exponential backoff: 1s, 2s, 4s, ... capped at BackoffCap,
// up to MaxRetries retries (MaxRetries+1 attempts in all) before the folder
// is left in error.
func (idx *Indexer) processFolderWithRetry(ctx context.Context, folderPath string) error {
	delay := idx.cfg.BackoffBase
	var lastErr error
	for attempt := 0; attempt <= idx.cfg.MaxRetries; attempt++ {
		lastErr = idx.processFolder(ctx, folderPath)
		if lastErr == nil {
			return nil
		}
		if !kberrors.Is(lastErr, kberrors.StoreUnavailable) {
			return lastErr
		}
		if attempt == idx.cfg.MaxRetries {
			break
		}
		idx.logger.Warn("folder scan retrying after store failure", "folder", folderPath, "attempt", attempt+1, "delay", delay, "error", lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > idx.cfg.BackoffCap {
			delay = idx.cfg.BackoffCap
		}
	}
	idx.markFolderError(ctx, folderPath, lastErr)
	return lastErr
}

func (idx *Indexer) processFolder(ctx context.Context, folderPath string) error {
	start := idx.clock()
	defer func() {
		idx.metrics.folderScanDuration.Observe(idx.clock().Sub(start).Seconds())
	}()

	folder, err := idx.resolveFolder(ctx, folderPath)
	if err != nil {
		return kberrors.New("Indexer.processFolder", kberrors.StoreUnavailable, err)
	}
	if folder == nil || !folder.IndexingEnabled {
		return nil
	}

	folder.IndexStatus = types.IndexStatusIndexing
	if err := idx.store.UpsertFolder(ctx, folder); err != nil {
		return kberrors.New("Indexer.processFolder", kberrors.StoreUnavailable, err)
	}
	idx.publish(eventbus.TopicIndexStatus, folderPath, eventbus.IndexStatusPayload{Status: string(types.IndexStatusIndexing)})

	items, err := idx.plan(ctx, folderPath)
	if err != nil {
		return kberrors.New("Indexer.plan", kberrors.StoreUnavailable, err)
	}

	filesIndexed := 0
	totalChunks := 0
	folderHadError := false

	for _, item := range items {
		switch item.op {
		case opAdd, opUpdate:
			chunkCount, err := idx.processFile(ctx, folderPath, item)
			if err != nil {
				if kberrors.Is(err, kberrors.StoreUnavailable) {
					return err
				}
				folderHadError = true
				idx.metrics.filesErrored.Inc()
				continue
			}
			filesIndexed++
			totalChunks += chunkCount
			idx.metrics.filesIndexed.Inc()
		case opDelete:
			if err := idx.processDelete(ctx, item.logicalPath); err != nil {
				if kberrors.Is(err, kberrors.StoreUnavailable) {
					return err
				}
				folderHadError = true
				continue
			}
		case opNoop:
			// content_hash matches indexed_hash at the current embedding
			// version; nothing to do.
		}
	}

	// Re-read the row: a disable arriving mid-run already purged the
	// folder's vectors and set it back to "none", so anything this run
	// wrote afterwards must go too and the status must stay "none".
	cur, err := idx.store.GetFolder(ctx, folderPath)
	if err != nil {
		return kberrors.New("Indexer.processFolder", kberrors.StoreUnavailable, err)
	}
	if !cur.IndexingEnabled {
		if err := idx.vec.DeleteByFilter(ctx, vectorstore.Filter{FolderPath: folderPath}); err != nil {
			return kberrors.New("Indexer.processFolder", kberrors.StoreUnavailable, err)
		}
		if err := idx.store.ResetFolderIndexState(ctx, folderPath); err != nil {
			return kberrors.New("Indexer.processFolder", kberrors.StoreUnavailable, err)
		}
		return nil
	}

	status := types.IndexStatusIndexed
	if folderHadError {
		status = types.IndexStatusError
	}
	cur.IndexStatus = status
	if err := idx.store.UpsertFolder(ctx, cur); err != nil {
		return kberrors.New("Indexer.processFolder", kberrors.StoreUnavailable, err)
	}
	idx.publish(eventbus.TopicIndexStatus, folderPath, eventbus.IndexStatusPayload{Status: string(status)})
	idx.publish(eventbus.TopicIndexComplete, folderPath, eventbus.IndexCompletePayload{FilesIndexed: filesIndexed, TotalChunks: totalChunks})
	return nil
}

// resolveFolder returns the folder row folderPath should be scanned under.
// A directory first seen through the observer or a sync write has no row
// yet; it inherits enablement from its nearest known ancestor and gets a
// row of its own so search visibility and status tracking have something
// to hang off. Returns nil when the path is not part of an enabled tree.
func (idx *Indexer) resolveFolder(ctx context.Context, folderPath string) (*types.Folder, error) {
	f, err := idx.store.GetFolder(ctx, folderPath)
	if err == nil {
		return f, nil
	}
	if !kberrors.Is(err, kberrors.NotFound) {
		return nil, err
	}
	for _, ancestor := range types.Ancestors(folderPath) {
		a, aerr := idx.store.GetFolder(ctx, ancestor)
		if aerr != nil {
			if kberrors.Is(aerr, kberrors.NotFound) {
				continue
			}
			return nil, aerr
		}
		if !a.IndexingEnabled {
			return nil, nil
		}
		nf := &types.Folder{Path: folderPath, IndexingEnabled: true, IndexStatus: types.IndexStatusPending}
		if uerr := idx.store.UpsertFolder(ctx, nf); uerr != nil {
			return nil, uerr
		}
		return nf, nil
	}
	return nil, nil
}

// processFile runs read, hash, MIME detection, extract, chunk, batched
// embed, the state-store transaction, then the vector upsert, in that
// order, so vectors only become visible once both stores agree.
func (idx *Indexer) processFile(ctx context.Context, folderPath string, item planItem) (int, error) {
	absPath := idx.absPath(item.logicalPath)
	content, err := idx.fs.ReadFile(absPath)
	if err != nil {
		_ = idx.store.MarkFileIndexStatus(ctx, item.logicalPath, types.IndexStatusError, err.Error())
		return 0, kberrors.New("Indexer.processFile", kberrors.ExtractFailed, err)
	}

	hash, err := idx.hashFile(item.logicalPath)
	if err != nil {
		return 0, kberrors.New("Indexer.processFile", kberrors.ExtractFailed, err)
	}

	size, mtime, _ := idx.fs.Stat(absPath)
	mimeType := extractor.DetectMIME(item.logicalPath, content)

	file := &types.File{
		Path:        item.logicalPath,
		FolderPath:  folderPath,
		Size:        size,
		MTime:       unixToTime(mtime),
		ContentHash: hash,
		MIME:        mimeType,
	}
	if err := idx.store.UpsertFile(ctx, file); err != nil {
		return 0, kberrors.New("Indexer.processFile", kberrors.StoreUnavailable, err)
	}

	result, err := idx.extr.Extract(content, item.logicalPath)
	if err != nil {
		_ = idx.store.MarkFileIndexStatus(ctx, item.logicalPath, types.IndexStatusError, err.Error())
		return 0, kberrors.New("Indexer.processFile", kberrors.ExtractFailed, err)
	}

	chunks := idx.chunk.Chunk(result.Text, result.Anchors)
	if len(chunks) == 0 {
		// Unknown MIME or empty file: recorded as indexed with zero
		// chunks, and any stale vectors dropped.
		if err := idx.store.SwapChunks(ctx, item.logicalPath, nil, hash); err != nil {
			return 0, kberrors.New("Indexer.processFile", kberrors.StoreUnavailable, err)
		}
		if err := idx.vec.DeleteByFilter(ctx, vectorstore.Filter{FilePath: item.logicalPath}); err != nil {
			return 0, kberrors.New("Indexer.processFile", kberrors.StoreUnavailable, err)
		}
		return 0, nil
	}

	vectors, err := idx.embedChunks(ctx, chunks)
	if err != nil {
		_ = idx.store.MarkFileIndexStatus(ctx, item.logicalPath, types.IndexStatusError, err.Error())
		return 0, err
	}

	chunkPtrs := make([]*types.Chunk, len(chunks))
	for i := range chunks {
		chunks[i].FilePath = item.logicalPath
		chunks[i].EmbeddingVersion = idx.embeddingVersion
		id := vectorstore.PointID(item.logicalPath, chunks[i].Ordinal, chunks[i].EmbeddingVersion)
		chunks[i].DenseVectorID = strconv.FormatUint(id, 10)
		chunks[i].SparseVectorID = chunks[i].DenseVectorID
		chunkPtrs[i] = &chunks[i]
	}

	if err := idx.store.SwapChunks(ctx, item.logicalPath, chunkPtrs, hash); err != nil {
		return 0, kberrors.New("Indexer.processFile", kberrors.StoreUnavailable, err)
	}

	points := make([]vectorstore.Point, len(chunkPtrs))
	for i, c := range chunkPtrs {
		points[i] = vectorstore.Point{
			ID:         vectorstore.PointID(c.FilePath, c.Ordinal, c.EmbeddingVersion),
			Dense:      vectors[i],
			SparseText: c.Text,
			Payload: vectorstore.Payload{
				FilePath:   c.FilePath,
				FolderPath: folderPath,
				Ordinal:    c.Ordinal,
				Text:       c.Text,
				TokenCount: c.TokenCount,
				FileMIME:   mimeType,
			},
		}
	}

	if err := idx.vec.Upsert(ctx, points); err != nil {
		// State store is already authoritative (SwapChunks committed); mark
		// the file row error so search and the UI reflect the mismatch
		// without discarding the chunk rows pending retry.
		_ = idx.store.MarkFileIndexStatus(ctx, item.logicalPath, types.IndexStatusError, fmt.Sprintf("vector upsert failed: %v", err))
		return len(chunkPtrs), kberrors.New("Indexer.processFile", kberrors.StoreUnavailable, err)
	}

	idx.metrics.chunksWritten.Add(float64(len(chunkPtrs)))
	return len(chunkPtrs), nil
}

// processDelete purges vectors before state rows, so a concurrent search
// never observes a half-deleted file.
func (idx *Indexer) processDelete(ctx context.Context, logicalPath string) error {
	if err := idx.vec.DeleteByFilter(ctx, vectorstore.Filter{FilePath: logicalPath}); err != nil {
		return kberrors.New("Indexer.processDelete", kberrors.StoreUnavailable, err)
	}
	if err := idx.store.DeleteFile(ctx, logicalPath); err != nil {
		return kberrors.New("Indexer.processDelete", kberrors.StoreUnavailable, err)
	}
	return nil
}

func (idx *Indexer) markFolderError(ctx context.Context, folderPath string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if f, err := idx.store.GetFolder(ctx, folderPath); err == nil && f != nil {
		f.IndexStatus = types.IndexStatusError
		_ = idx.store.UpsertFolder(ctx, f)
	}
	idx.publish(eventbus.TopicIndexStatus, folderPath, eventbus.IndexStatusPayload{Status: string(types.IndexStatusError), Message: msg})
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func (idx *Indexer) publish(topic eventbus.Topic, path string, payload interface{}) {
	if idx.bus == nil {
		return
	}
	idx.bus.Publish(eventbus.Event{Topic: topic, Path: path, Payload: payload, Timestamp: idx.clock()})
}
