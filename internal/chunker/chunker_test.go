package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgebase/internal/config"
	"knowledgebase/internal/extractor"
)

func TestChunkProducesStableOrdinals(t *testing.T) {
	c := New(config.ChunkingConfig{ChunkSize: 20, ChunkOverlap: 5})
	text := strings.Repeat("word ", 100)

	chunks := c.Chunk(text, nil)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
	}
}

func TestChunkRespectsApproximateTokenBudget(t *testing.T) {
	c := New(config.ChunkingConfig{ChunkSize: 10, ChunkOverlap: 2})
	text := strings.Repeat("token ", 50)

	chunks := c.Chunk(text, nil)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 11) // budget plus a little slack for soft-break rounding
	}
}

func TestChunkOverlapsBetweenConsecutiveChunks(t *testing.T) {
	c := New(config.ChunkingConfig{ChunkSize: 10, ChunkOverlap: 3})
	text := strings.Repeat("token ", 50)

	chunks := c.Chunk(text, nil)
	require.Greater(t, len(chunks), 1)
	assert.Less(t, chunks[1].CharStart, chunks[0].CharEnd)
}

func TestChunkPrefersAnchorBoundaryWithinWindow(t *testing.T) {
	// chunkSize=8 consumes "alpha".."theta" (the 8th word) before the hard
	// cut; an anchor sitting on the word immediately before that cut falls
	// within the soft-break window and should win over the hard boundary.
	c := New(config.ChunkingConfig{ChunkSize: 8, ChunkOverlap: 0})
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	anchorOffset := strings.Index(text, "theta")

	chunks := c.Chunk(text, []extractor.Anchor{{Offset: anchorOffset, Label: "heading"}})
	require.NotEmpty(t, chunks)
	assert.LessOrEqual(t, chunks[0].CharEnd, anchorOffset)
	assert.NotContains(t, chunks[0].Text, "theta")
}

func TestChunkHandlesEmptyText(t *testing.T) {
	c := New(config.ChunkingConfig{ChunkSize: 10, ChunkOverlap: 2})
	assert.Empty(t, c.Chunk("", nil))
}

func TestNewAppliesDefaults(t *testing.T) {
	c := New(config.ChunkingConfig{})
	assert.Equal(t, 512, c.cfg.ChunkSize)
	assert.Equal(t, 64, c.cfg.ChunkOverlap)
}
