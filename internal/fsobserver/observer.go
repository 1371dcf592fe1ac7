// Package fsobserver watches the managed root recursively and emits
// debounced, move-correlated filesystem events.
package fsobserver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"knowledgebase/internal/logging"
)

// EventType names the change kinds emitted to subscribers.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
	EventMoved    EventType = "moved"
)

// Event is what the observer emits after debouncing and move correlation.
type Event struct {
	Type      EventType
	AbsPath   string
	Path      string // logical path relative to the managed root
	FromPath  string // populated for EventMoved
	IsDir     bool
	Timestamp time.Time
}

// Config tunes debouncing and ignore matching.
type Config struct {
	Root           string
	DebounceWindow time.Duration
	IgnorePatterns []string // doublestar glob patterns, matched against any path component or suffix
}

// Observer watches Root recursively: an fsnotify watcher plus a per-path
// debounce timer map, with move correlation and directory-delete
// coalescing on top.
type Observer struct {
	cfg     Config
	watcher *fsnotify.Watcher
	logger  logging.Logger

	out  chan Event
	done chan struct{}

	pendingMu sync.Mutex
	pending   map[string]*pendingEntry

	moveMu       sync.Mutex
	recentDelete map[moveKey]pendingDelete

	statMu    sync.Mutex
	statCache map[string]cachedStat

	wg sync.WaitGroup
}

// cachedStat is the size/mtime/isDir snapshot recorded the last time a path
// was seen to exist, so a Remove/Rename event (delivered after the OS has
// already unlinked the path) can still be sized and move-correlated or
// recognized as a directory without re-stating the now-gone path.
type cachedStat struct {
	size  int64
	mtime int64
	isDir bool
}

type pendingEntry struct {
	timer   *time.Timer
	created bool // true if the first observed op in this debounce window was Create
}

type moveKey struct {
	size  int64
	mtime int64
}

type pendingDelete struct {
	path      string
	deletedAt time.Time
}

const moveCorrelationWindow = 2 * time.Second

// New creates an Observer. Call Start to begin watching.
func New(cfg Config, logger logging.Logger) (*Observer, error) {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Observer{
		cfg:          cfg,
		watcher:      w,
		logger:       logger.WithComponent("fsobserver"),
		out:          make(chan Event, 256),
		done:         make(chan struct{}),
		pending:      make(map[string]*pendingEntry),
		recentDelete: make(map[moveKey]pendingDelete),
		statCache:    make(map[string]cachedStat),
	}, nil
}

// Events returns the channel of debounced, move-correlated events.
func (o *Observer) Events() <-chan Event { return o.out }

// Start walks Root adding every directory to the watcher, then starts the
// event loop in the background and returns. The loop runs until ctx is
// cancelled or Stop is called.
func (o *Observer) Start(ctx context.Context) error {
	if err := o.addTree(o.cfg.Root); err != nil {
		return err
	}

	o.wg.Add(1)
	go o.loop(ctx)
	return nil
}

// Stop closes the underlying watcher and drains pending timers.
func (o *Observer) Stop() {
	select {
	case <-o.done:
	default:
		close(o.done)
	}
	_ = o.watcher.Close()
	o.wg.Wait()
	o.pendingMu.Lock()
	for p, entry := range o.pending {
		entry.timer.Stop()
		delete(o.pending, p)
	}
	o.pendingMu.Unlock()
	o.moveMu.Lock()
	for k := range o.recentDelete {
		delete(o.recentDelete, k)
	}
	o.moveMu.Unlock()
	close(o.out)
}

func (o *Observer) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Symlinks are skipped entirely: no cycle detection, no
			// indirect content.
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info, err := d.Info(); err == nil {
			o.cacheStat(path, info)
		}
		if !d.IsDir() {
			return nil
		}
		if o.ignored(path) && path != root {
			return filepath.SkipDir
		}
		return o.watcher.Add(path)
	})
}

// cacheStat records path's current size/mtime/isDir so a later Remove/Rename
// event for it, delivered after the underlying file is already gone, can
// still be sized and classified.
func (o *Observer) cacheStat(path string, info fs.FileInfo) {
	o.statMu.Lock()
	o.statCache[path] = cachedStat{size: info.Size(), mtime: info.ModTime().Unix(), isDir: info.IsDir()}
	o.statMu.Unlock()
}

func (o *Observer) lookupStat(path string) (cachedStat, bool) {
	o.statMu.Lock()
	defer o.statMu.Unlock()
	cs, ok := o.statCache[path]
	return cs, ok
}

func (o *Observer) forgetStat(path string) {
	o.statMu.Lock()
	delete(o.statCache, path)
	o.statMu.Unlock()
}

func (o *Observer) ignored(path string) bool {
	rel, err := filepath.Rel(o.cfg.Root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, part := range splitPath(rel) {
		if len(part) > 0 && part[0] == '.' {
			return true
		}
	}
	for _, pat := range o.cfg.IgnorePatterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
		for _, part := range splitPath(rel) {
			if ok, _ := doublestar.Match(pat, part); ok {
				return true
			}
		}
	}
	return false
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

func (o *Observer) loop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case ev, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			o.handleFSEvent(ev)
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.logger.Error("fsobserver watcher error", "error", err)
		case <-ctx.Done():
			return
		case <-o.done:
			return
		}
	}
}

func (o *Observer) handleFSEvent(ev fsnotify.Event) {
	if o.ignored(ev.Name) {
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		// Stat now, while the path still exists, so a later Remove/Rename
		// for it has a size/mtime/isDir snapshot to work from (see
		// emitDelete: by the time fsnotify delivers a Remove, the OS has
		// already unlinked the path and Lstat on it always fails).
		if info, err := os.Lstat(ev.Name); err == nil {
			o.cacheStat(ev.Name, info)
		}
	}

	if ev.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = o.addTree(ev.Name)
		}
	}

	o.debounce(ev)
}

// debounce collapses bursts on the same path into one emission: created
// followed by modified within the window collapses to created; any other
// burst collapses to modified.
func (o *Observer) debounce(ev fsnotify.Event) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()

	entry, exists := o.pending[ev.Name]
	isCreate := ev.Op&fsnotify.Create == fsnotify.Create
	isRemove := ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0

	if isRemove {
		if exists {
			entry.timer.Stop()
			delete(o.pending, ev.Name)
		}
		o.emitDelete(ev.Name)
		return
	}

	if exists {
		entry.timer.Stop()
		entry.timer = time.AfterFunc(o.cfg.DebounceWindow, func() { o.flush(ev.Name) })
		return
	}

	o.pending[ev.Name] = &pendingEntry{
		created: isCreate,
		timer:   time.AfterFunc(o.cfg.DebounceWindow, func() { o.flush(ev.Name) }),
	}
}

func (o *Observer) flush(path string) {
	o.pendingMu.Lock()
	entry, ok := o.pending[path]
	if ok {
		delete(o.pending, path)
	}
	o.pendingMu.Unlock()
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return // file vanished before the debounce window elapsed
	}

	typ := EventModified
	if entry.created {
		typ = EventCreated
	}

	if typ == EventCreated && !info.IsDir() {
		if o.correlateMove(path, info) {
			return
		}
	}

	o.send(Event{Type: typ, AbsPath: path, Path: o.logicalPath(path), IsDir: info.IsDir(), Timestamp: time.Now()})
}

// emitDelete records the delete for move correlation and, if no matching
// create arrives within the window, emits a plain deleted event. By the time
// fsnotify delivers a Remove/Rename, the OS has already unlinked path, so
// this consults the stat snapshot cacheStat recorded on the path's last
// Create/Write rather than re-stating the now-gone path.
func (o *Observer) emitDelete(path string) {
	cached, ok := o.lookupStat(path)
	o.forgetStat(path)

	if ok && cached.isDir {
		o.emitDirDelete(path)
		return
	}

	if ok {
		key := moveKey{size: cached.size, mtime: cached.mtime}
		o.moveMu.Lock()
		o.recentDelete[key] = pendingDelete{path: path, deletedAt: time.Now()}
		o.moveMu.Unlock()
		time.AfterFunc(moveCorrelationWindow, func() { o.expireDelete(key, path) })
		return
	}

	// No cached stat: the path was never seen to exist (e.g. its Create
	// predates the watcher). Move correlation isn't possible without a
	// pre-deletion size/mtime, so just report the plain delete.
	o.send(Event{Type: EventDeleted, AbsPath: path, Path: o.logicalPath(path), Timestamp: time.Now()})
}

// emitDirDelete coalesces a directory removal into a single EventDeleted
// for the directory: contained files are implicit, not one event per file.
// It drops any already-registered pending/move-correlation state for paths
// still under the directory, since those contained-file deletes are now
// subsumed by the directory's own event (the OS typically emits child
// Remove events before the parent's, so those entries may already be
// queued when this runs).
func (o *Observer) emitDirDelete(path string) {
	prefix := path + string(filepath.Separator)

	o.statMu.Lock()
	for p := range o.statCache {
		if strings.HasPrefix(p, prefix) {
			delete(o.statCache, p)
		}
	}
	o.statMu.Unlock()

	o.pendingMu.Lock()
	for p, entry := range o.pending {
		if strings.HasPrefix(p, prefix) {
			entry.timer.Stop()
			delete(o.pending, p)
		}
	}
	o.pendingMu.Unlock()

	o.moveMu.Lock()
	for k, pd := range o.recentDelete {
		if strings.HasPrefix(pd.path, prefix) {
			delete(o.recentDelete, k)
		}
	}
	o.moveMu.Unlock()

	o.send(Event{Type: EventDeleted, AbsPath: path, Path: o.logicalPath(path), IsDir: true, Timestamp: time.Now()})
}

func (o *Observer) expireDelete(key moveKey, path string) {
	o.moveMu.Lock()
	pd, ok := o.recentDelete[key]
	if ok && pd.path == path {
		delete(o.recentDelete, key)
	}
	o.moveMu.Unlock()
	if ok && pd.path == path {
		o.send(Event{Type: EventDeleted, AbsPath: path, Path: o.logicalPath(path), Timestamp: pd.deletedAt})
	}
}

// correlateMove pairs a Create with a within-window Delete of a
// byte-identical file (size+mtime match), reporting a single moved event
// instead of a delete+create pair.
func (o *Observer) correlateMove(path string, info os.FileInfo) bool {
	key := moveKey{size: info.Size(), mtime: info.ModTime().Unix()}
	o.moveMu.Lock()
	pd, ok := o.recentDelete[key]
	if ok {
		delete(o.recentDelete, key)
	}
	o.moveMu.Unlock()
	if !ok {
		return false
	}

	o.send(Event{
		Type: EventMoved, AbsPath: path, Path: o.logicalPath(path),
		FromPath: o.logicalPath(pd.path), Timestamp: time.Now(),
	})
	return true
}

func (o *Observer) logicalPath(abs string) string {
	rel, err := filepath.Rel(o.cfg.Root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func (o *Observer) send(ev Event) {
	select {
	case o.out <- ev:
	case <-o.done:
	}
}
