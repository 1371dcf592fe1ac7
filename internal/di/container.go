// Package di assembles the content lifecycle pipeline's services once at
// process startup and exposes the init -> serve -> drain -> close
// lifecycle.
package di

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/redis/go-redis/v9"

	"knowledgebase/internal/config"
	"knowledgebase/internal/download"
	"knowledgebase/internal/embeddings"
	"knowledgebase/internal/eventbus"
	"knowledgebase/internal/fsobserver"
	"knowledgebase/internal/indexer"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/lockfile"
	"knowledgebase/internal/logging"
	"knowledgebase/internal/search"
	"knowledgebase/internal/store"
	"knowledgebase/internal/sync"
	"knowledgebase/internal/types"
	"knowledgebase/internal/vectorstore"
	"knowledgebase/internal/wsbroadcast"

	"knowledgebase/internal/chunker"
	"knowledgebase/internal/extractor"
)

// Container owns every long-lived service constructed at startup: the state
// store, vector store, embedder, event bus, indexer, sync engine, search
// engine, filesystem observer and websocket hub.
type Container struct {
	Config *config.Config

	Store     store.Store
	Vector    *vectorstore.Hybrid
	Embed     embeddings.Embedder
	Bus       *eventbus.Bus
	Indexer   *indexer.Indexer
	Sync      *sync.Engine
	Search    *search.Engine
	FS        *fsobserver.Observer
	WS        *wsbroadcast.Hub
	Downloads *download.Issuer

	rootLock *lockfile.Lock
	logger   logging.Logger
}

// Logger returns the container's base logger, for services built after the
// container (internal/mcp, internal/api) that want a consistently
// configured component logger rather than constructing their own. Falls
// back to a no-op logger for a Container assembled by hand (tests) rather
// than through New.
func (c *Container) Logger() logging.Logger {
	if c.logger == nil {
		return logging.NewNoOpLogger()
	}
	return c.logger
}

// New builds every service but starts none of them; call Serve to start
// the long-lived tasks (one observer, N indexer workers, one sync
// scheduler, one broadcaster per subscriber).
func New(cfg *config.Config) (*Container, error) {
	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level)).WithComponent("di")

	rootLock := lockfile.New(cfg.RootPath)
	acquired, err := rootLock.TryAcquire()
	if err != nil {
		return nil, fmt.Errorf("lock managed root: %w", err)
	}
	if !acquired {
		return nil, kberrors.New("di.New", kberrors.Conflict, fmt.Errorf("managed root %s is held by another process", cfg.RootPath))
	}

	st, err := store.Open(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	dense, err := vectorstore.NewDenseStore(cfg.Qdrant)
	if err != nil {
		return nil, fmt.Errorf("open dense store: %w", err)
	}
	sparse, err := vectorstore.NewSparseStore(cfg.Bleve)
	if err != nil {
		return nil, fmt.Errorf("open sparse store: %w", err)
	}
	vec := vectorstore.NewHybrid(dense, sparse, cfg.Search.Alpha)

	embed, err := embeddings.New(cfg.Embedder, cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	bus := eventbus.New(eventbus.Config{
		SubscriberBuffer: cfg.WebSocket.SubscriberBuffer,
	}, logger)

	extr := extractor.NewRegistry()
	ck := chunker.New(cfg.Chunking)

	idx := indexer.New(cfg.Indexer, cfg.RootPath, st, vec, embed, cfg.Embedder.EmbeddingVersion, extr, ck, bus, nil, logger)

	var lock *sync.DistributedLock
	if cfg.Sync.UseDistributedLock {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		lock = sync.NewDistributedLock(client, 0)
	}
	syncEngine := sync.New(cfg.Sync, cfg.RootPath, st, bus, lock, idx, logger)

	searchEngine := search.New(cfg.Search, st, vec, embed)

	obs, err := fsobserver.New(fsobserver.FromConfig(*cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("open fs observer: %w", err)
	}

	ws := wsbroadcast.New(bus, cfg.WebSocket.PingInterval, logger)

	downloadSecret := []byte(cfg.Server.DownloadSecret)
	if len(downloadSecret) == 0 {
		downloadSecret = make([]byte, 32)
		if _, err := rand.Read(downloadSecret); err != nil {
			return nil, fmt.Errorf("generate download secret: %w", err)
		}
	}

	return &Container{
		Config:    cfg,
		Store:     st,
		Vector:    vec,
		Embed:     embed,
		Bus:       bus,
		Indexer:   idx,
		Sync:      syncEngine,
		Search:    searchEngine,
		FS:        obs,
		WS:        ws,
		Downloads: download.New(downloadSecret, 0),
		rootLock:  rootLock,
		logger:    logger,
	}, nil
}

// Serve starts every long-lived task: the event bus, the filesystem
// observer, the indexer worker pool, and the websocket hub. It also bridges
// fsobserver events onto the event bus and enqueues the affected folder with
// the indexer, and performs an initial full-tree reconciliation scan so a
// restart picks up files changed while the process was down.
func (c *Container) Serve(ctx context.Context) error {
	if err := c.Vector.Initialize(ctx); err != nil {
		return kberrors.New("Container.Serve", kberrors.StoreUnavailable, err)
	}

	c.Bus.Start()

	if err := c.FS.Start(ctx); err != nil {
		return fmt.Errorf("start fs observer: %w", err)
	}
	go c.bridgeFSEvents(ctx)

	c.Indexer.Start(ctx)
	go c.Sync.Run(ctx)
	go c.WS.Run(ctx)

	folders, err := c.Store.ListFolders(ctx)
	if err != nil {
		return kberrors.New("Container.Serve", kberrors.StoreUnavailable, err)
	}
	for _, f := range folders {
		if f.IndexingEnabled {
			c.Indexer.Enqueue(f.Path)
		}
	}
	return nil
}

// bridgeFSEvents republishes every fsobserver.Event onto the shared bus
// and enqueues the owning folder with the indexer so a change becomes
// searchable without a manual trigger.
func (c *Container) bridgeFSEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.FS.Events():
			if !ok {
				return
			}
			c.publishFSEvent(ev)
			if ev.Type == fsobserver.EventDeleted && ev.IsDir {
				// The subtree is gone from disk; no folder scan can
				// reconcile it, so purge its vectors and state rows
				// directly.
				if err := c.Vector.DeleteByFilter(ctx, vectorstore.Filter{FolderPath: ev.Path}); err != nil {
					c.logger.Error("purge vectors for deleted directory", "path", ev.Path, "error", err)
				}
				if err := c.Store.DeleteFolder(ctx, ev.Path); err != nil {
					c.logger.Error("purge state for deleted directory", "path", ev.Path, "error", err)
				}
				continue
			}
			c.Indexer.Enqueue(types.ParentPath(ev.Path))
			if ev.FromPath != "" {
				if from := types.ParentPath(ev.FromPath); from != types.ParentPath(ev.Path) {
					c.Indexer.Enqueue(from)
				}
			}
		}
	}
}

func (c *Container) publishFSEvent(ev fsobserver.Event) {
	var topic eventbus.Topic
	switch ev.Type {
	case fsobserver.EventCreated:
		topic = eventbus.TopicCreated
	case fsobserver.EventModified:
		topic = eventbus.TopicModified
	case fsobserver.EventDeleted:
		topic = eventbus.TopicDeleted
	case fsobserver.EventMoved:
		topic = eventbus.TopicMoved
	default:
		return
	}
	c.Bus.Publish(eventbus.Event{
		Topic:     topic,
		Path:      ev.Path,
		Payload:   eventbus.FSEventPayload{AbsPath: ev.AbsPath, IsDir: ev.IsDir, FromPath: ev.FromPath},
		Timestamp: ev.Timestamp,
	})
}

// Drain stops the filesystem observer, then the indexer (each worker
// finishes its current folder scan first), then the event bus. The sync
// engine is not stopped or waited for here.
func (c *Container) Drain() {
	c.FS.Stop()
	c.Indexer.Stop()
	c.Bus.Stop()
}

// Close releases every owned resource. Call after Drain during shutdown.
func (c *Container) Close() error {
	if err := c.Vector.Close(); err != nil {
		return err
	}
	if err := c.Store.Close(); err != nil {
		return err
	}
	if c.rootLock != nil {
		return c.rootLock.Release()
	}
	return nil
}

// HealthCheck reports whether the state store is reachable; the vector
// store is not probed.
func (c *Container) HealthCheck(ctx context.Context) error {
	_, err := c.Store.ListFolders(ctx)
	return err
}
