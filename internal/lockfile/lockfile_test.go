package lockfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireIsExclusive(t *testing.T) {
	dir := t.TempDir()

	first := New(dir)
	ok, err := first.TryAcquire()
	require.NoError(t, err)
	require.True(t, ok)

	second := New(dir)
	ok, err = second.TryAcquire()
	require.NoError(t, err)
	assert.False(t, ok, "a held lock must not be acquirable a second time")

	require.NoError(t, first.Release())
	ok, err = second.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok, "a released lock must be acquirable again")
	require.NoError(t, second.Release())
}

func TestTryAcquireCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/root"
	l := New(dir)
	ok, err := l.TryAcquire()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Release())
}
