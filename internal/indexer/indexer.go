// Package indexer drains a per-folder work queue with a fixed worker pool,
// turning filesystem and sync changes into chunks and vectors. A folder
// scan, not a file, is the unit of work: repeat enqueues for a folder
// collapse into a pending-rescan flag rather than queueing twice.
package indexer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"knowledgebase/internal/chunker"
	"knowledgebase/internal/config"
	"knowledgebase/internal/embeddings"
	"knowledgebase/internal/eventbus"
	"knowledgebase/internal/extractor"
	"knowledgebase/internal/logging"
	"knowledgebase/internal/store"
	"knowledgebase/internal/vectorstore"
)

// VectorStore is the subset of vectorstore.Hybrid the indexer depends on;
// tests substitute a fake so the pipeline doesn't require live Qdrant/Bleve.
type VectorStore interface {
	Upsert(ctx context.Context, points []vectorstore.Point) error
	DeleteByFilter(ctx context.Context, filter vectorstore.Filter) error
}

// Indexer owns the worker pool and the per-folder queue. FS is the
// filesystem the managed root lives on; in production this is the OS
// filesystem rooted at cfg.RootPath, swapped for an in-memory fake in tests.
type Indexer struct {
	cfg              config.IndexerConfig
	root             string
	store            store.Store
	vec              VectorStore
	embed            embeddings.Embedder
	embeddingVersion int
	extr             *extractor.Registry
	chunk            *chunker.Chunker
	bus              *eventbus.Bus
	logger           logging.Logger
	fs               FS
	clock            func() time.Time

	metrics *Metrics

	sf singleflight.Group

	mu      sync.Mutex
	queued  map[string]bool // folder paths queued or currently being processed
	pending map[string]bool // folders that received another enqueue mid-processing

	work chan string
	wg   sync.WaitGroup
	quit chan struct{}
}

// New builds an Indexer. bus may be nil, in which case status events are
// dropped; a nil fs defaults to the OS filesystem (OSFS); store, vec and
// embed must be non-nil. embeddingVersion is the
// currently configured embedding model's version (config.EmbedderConfig's
// EmbeddingVersion); bumping it forces every file to re-index.
func New(cfg config.IndexerConfig, root string, st store.Store, vec VectorStore, embed embeddings.Embedder, embeddingVersion int, extr *extractor.Registry, ck *chunker.Chunker, bus *eventbus.Bus, fs FS, logger logging.Logger) *Indexer {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.EmbedBatchSize < 1 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	if fs == nil {
		fs = OSFS{}
	}
	return &Indexer{
		cfg:              cfg,
		root:             root,
		store:            st,
		vec:              vec,
		embed:            embed,
		embeddingVersion: embeddingVersion,
		extr:             extr,
		chunk:            ck,
		bus:              bus,
		logger:           logger.WithComponent("indexer"),
		fs:               fs,
		clock:            time.Now,
		metrics:          NewMetrics(),
		queued:           make(map[string]bool),
		pending:          make(map[string]bool),
		work:             make(chan string, 1024),
		quit:             make(chan struct{}),
	}
}

// Start launches cfg.Workers goroutines draining the queue and, when
// PollInterval is set, a reconciliation poller that re-enqueues every
// indexing-enabled folder so changes the observer missed (network mounts,
// a saturated event queue) are still picked up. Call Stop (or cancel ctx)
// to drain: in-flight folders finish their current scan before workers
// exit.
func (idx *Indexer) Start(ctx context.Context) {
	for i := 0; i < idx.cfg.Workers; i++ {
		idx.wg.Add(1)
		go idx.workerLoop(ctx)
	}
	if idx.cfg.PollInterval > 0 {
		idx.wg.Add(1)
		go idx.pollLoop(ctx)
	}
}

func (idx *Indexer) pollLoop(ctx context.Context) {
	defer idx.wg.Done()
	ticker := time.NewTicker(idx.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-idx.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			folders, err := idx.store.ListFolders(ctx)
			if err != nil {
				idx.logger.Warn("reconciliation poll failed to list folders", "error", err)
				continue
			}
			for _, f := range folders {
				if f.IndexingEnabled {
					idx.Enqueue(f.Path)
				}
			}
		}
	}
}

// Stop signals every worker to exit after its current folder and blocks
// until they do.
func (idx *Indexer) Stop() {
	close(idx.quit)
	idx.wg.Wait()
}

// Enqueue schedules folderPath for a scan. A folder already queued or in
// flight is not queued twice: the request instead sets a pending flag
// causing exactly one more scan after the current one finishes.
func (idx *Indexer) Enqueue(folderPath string) {
	idx.mu.Lock()
	if idx.queued[folderPath] {
		idx.pending[folderPath] = true
		idx.mu.Unlock()
		return
	}
	idx.queued[folderPath] = true
	idx.mu.Unlock()

	idx.metrics.queueDepth.Inc()
	idx.work <- folderPath
}

func (idx *Indexer) workerLoop(ctx context.Context) {
	defer idx.wg.Done()
	for {
		select {
		case <-idx.quit:
			return
		case <-ctx.Done():
			return
		case folder := <-idx.work:
			idx.runFolder(ctx, folder)
		}
	}
}

// runFolder processes one folder scan and, if another enqueue arrived
// during processing, immediately re-runs once more.
func (idx *Indexer) runFolder(ctx context.Context, folderPath string) {
	for {
		idx.scanAndProcess(ctx, folderPath)

		idx.mu.Lock()
		if idx.pending[folderPath] {
			delete(idx.pending, folderPath)
			idx.mu.Unlock()
			continue
		}
		delete(idx.queued, folderPath)
		idx.mu.Unlock()
		idx.metrics.queueDepth.Dec()
		return
	}
}

