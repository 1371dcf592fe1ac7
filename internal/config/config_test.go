package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadOverlap(t *testing.T) {
	cfg := Default()
	cfg.Chunking.ChunkSize = 100
	cfg.Chunking.ChunkOverlap = 100
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadAlpha(t *testing.T) {
	cfg := Default()
	cfg.Search.Alpha = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ROOT_PATH", "/tmp/kb-root")
	t.Setenv("CHUNK_SIZE", "1024")
	t.Setenv("CHUNK_OVERLAP", "100")

	cfg := Default()
	loadFromEnv(cfg)

	assert.Equal(t, "/tmp/kb-root", cfg.RootPath)
	assert.Equal(t, 1024, cfg.Chunking.ChunkSize)
	assert.Equal(t, 100, cfg.Chunking.ChunkOverlap)
}

func TestLoadSkipsMissingDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(wd) }()
	require.NoError(t, os.Chdir(dir))

	t.Setenv("ROOT_PATH", "/tmp/kb-root-2")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/kb-root-2", cfg.RootPath)
}
