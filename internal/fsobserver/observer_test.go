package fsobserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestObserver(t *testing.T, root string) *Observer {
	t.Helper()
	obs, err := New(Config{
		Root:           root,
		DebounceWindow: 50 * time.Millisecond,
		IgnorePatterns: []string{"node_modules", "*.tmp"},
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, obs.Start(ctx))
	t.Cleanup(func() {
		cancel()
		obs.Stop()
	})
	return obs
}

func drainUntil(t *testing.T, obs *Observer, timeout time.Duration, matches func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-obs.Events():
			if matches(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching event")
			return Event{}
		}
	}
}

func TestObserverEmitsCreatedForNewFile(t *testing.T) {
	root := t.TempDir()
	obs := newTestObserver(t, root)

	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ev := drainUntil(t, obs, 2*time.Second, func(e Event) bool { return e.AbsPath == path })
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, "note.md", ev.Path)
}

func TestObserverCollapsesBurstIntoSingleCreated(t *testing.T) {
	root := t.TempDir()
	obs := newTestObserver(t, root)

	path := filepath.Join(root, "burst.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2 longer content"), 0o644))

	ev := drainUntil(t, obs, 2*time.Second, func(e Event) bool { return e.AbsPath == path })
	assert.Equal(t, EventCreated, ev.Type)

	select {
	case extra := <-obs.Events():
		t.Fatalf("expected burst to collapse into one event, got extra %+v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestObserverIgnoresMatchedPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))
	obs := newTestObserver(t, root)

	ignoredPath := filepath.Join(root, "node_modules", "pkg.js")
	require.NoError(t, os.WriteFile(ignoredPath, []byte("x"), 0o644))

	keptPath := filepath.Join(root, "kept.md")
	require.NoError(t, os.WriteFile(keptPath, []byte("x"), 0o644))

	ev := drainUntil(t, obs, 2*time.Second, func(e Event) bool { return e.AbsPath == keptPath })
	assert.Equal(t, EventCreated, ev.Type)
}

func TestObserverCorrelatesMoveAcrossSameSizeFiles(t *testing.T) {
	root := t.TempDir()
	obs := newTestObserver(t, root)

	src := filepath.Join(root, "original.md")
	require.NoError(t, os.WriteFile(src, []byte("stable content"), 0o644))
	drainUntil(t, obs, 2*time.Second, func(e Event) bool { return e.AbsPath == src })

	dst := filepath.Join(root, "renamed.md")
	require.NoError(t, os.Rename(src, dst))

	ev := drainUntil(t, obs, 3*time.Second, func(e Event) bool { return e.Type == EventMoved })
	assert.Equal(t, "renamed.md", ev.Path)
	assert.Equal(t, "original.md", ev.FromPath)
}

func TestObserverEmitsDeletedWithoutMatchingCreate(t *testing.T) {
	root := t.TempDir()
	obs := newTestObserver(t, root)

	path := filepath.Join(root, "gone.md")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	drainUntil(t, obs, 2*time.Second, func(e Event) bool { return e.AbsPath == path })

	require.NoError(t, os.Remove(path))

	ev := drainUntil(t, obs, 4*time.Second, func(e Event) bool { return e.Type == EventDeleted })
	assert.Equal(t, "gone.md", ev.Path)
}
