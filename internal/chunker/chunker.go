// Package chunker splits extracted text into overlapping token-budget
// windows for embedding.
package chunker

import (
	"math"

	"github.com/clipperhouse/uax29/v2/words"

	"knowledgebase/internal/config"
	"knowledgebase/internal/extractor"
	"knowledgebase/internal/types"
)

// softBreakWindowFraction is how far (as a fraction of ChunkSize) the
// splitter will look for a newline before falling back to a hard cut at
// the exact token budget.
const softBreakWindowFraction = 0.10

// word is one uax29 word-boundary segment together with its byte offsets in
// the source text, so chunk boundaries can be mapped back to CharStart/
// CharEnd.
type word struct {
	text       string
	start, end int
	isToken    bool // false for pure whitespace segments, which don't count against the budget
}

// Chunker splits text into deterministic, overlapping, soft-break-preferring
// windows. The same input text always yields byte-identical boundaries and
// ordinals.
type Chunker struct {
	cfg config.ChunkingConfig
}

// New creates a Chunker. A non-positive ChunkSize defaults to 512 tokens
// with 64 tokens of overlap, matching common embedding-model context
// windows.
func New(cfg config.ChunkingConfig) *Chunker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
		if cfg.ChunkOverlap == 0 {
			cfg.ChunkOverlap = cfg.ChunkSize / 8
		}
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 8
	}
	return &Chunker{cfg: cfg}
}

// Chunk splits text into Chunks with stable, zero-based Ordinals. anchors
// (heading/declaration boundaries from the extractor) are treated as
// preferred break points alongside newlines.
func (c *Chunker) Chunk(text string, anchors []extractor.Anchor) []types.Chunk {
	if text == "" {
		return nil
	}

	ws := segmentWords(text)
	anchorOffsets := anchorSet(anchors)

	var chunks []types.Chunk
	ordinal := 0
	i := 0 // index into ws of the current chunk's start

	for i < len(ws) {
		end := windowEnd(ws, i, c.cfg.ChunkSize)
		end = preferSoftBreak(ws, i, end, c.cfg.ChunkSize, anchorOffsets)

		charStart := ws[i].start
		charEnd := ws[end-1].end
		chunkText := text[charStart:charEnd]
		tokenCount := countTokens(ws[i:end])

		chunks = append(chunks, types.Chunk{
			Ordinal:    ordinal,
			Text:       chunkText,
			TokenCount: tokenCount,
			CharStart:  charStart,
			CharEnd:    charEnd,
		})
		ordinal++

		if end >= len(ws) {
			break
		}
		next := backUpForOverlap(ws, end, c.cfg.ChunkOverlap)
		if next <= i {
			next = end // guarantee forward progress when overlap would otherwise stall
		}
		i = next
	}

	return chunks
}

func segmentWords(text string) []word {
	var out []word
	seg := words.NewSegmenter([]byte(text))
	offset := 0
	for seg.Next() {
		b := seg.Value()
		start := offset
		end := offset + len(b)
		offset = end
		out = append(out, word{text: string(b), start: start, end: end, isToken: isTokenSegment(b)})
	}
	return out
}

func isTokenSegment(b []byte) bool {
	for _, r := range string(b) {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return true
		}
	}
	return false
}

// windowEnd advances from start until ChunkSize tokens have been consumed or
// the words run out, returning the exclusive end index.
func windowEnd(ws []word, start, chunkSize int) int {
	tokens := 0
	i := start
	for i < len(ws) {
		if ws[i].isToken {
			tokens++
			if tokens > chunkSize {
				return i
			}
		}
		i++
	}
	return len(ws)
}

// preferSoftBreak looks within softBreakWindowFraction of chunkSize (in
// token count, walking backward from the hard cut) for a newline or an
// extractor anchor, and if found cuts there instead so chunks don't split
// mid-sentence when a natural boundary is nearby.
func preferSoftBreak(ws []word, start, hardEnd, chunkSize int, anchors map[int]bool) int {
	if hardEnd >= len(ws) {
		return hardEnd
	}
	windowTokens := int(math.Ceil(float64(chunkSize) * softBreakWindowFraction))
	if windowTokens < 1 {
		windowTokens = 1
	}

	tokensSeen := 0
	for i := hardEnd - 1; i > start; i-- {
		if ws[i].isToken {
			tokensSeen++
			if tokensSeen > windowTokens {
				break
			}
		}
		if anchors[ws[i].start] {
			return i
		}
		if ws[i].text == "\n" && i+1 > start {
			return i + 1
		}
	}
	return hardEnd
}

func backUpForOverlap(ws []word, end, overlapTokens int) int {
	if overlapTokens <= 0 {
		return end
	}
	tokens := 0
	i := end
	for i > 0 {
		i--
		if ws[i].isToken {
			tokens++
			if tokens >= overlapTokens {
				return i
			}
		}
	}
	return 0
}

func countTokens(ws []word) int {
	n := 0
	for _, w := range ws {
		if w.isToken {
			n++
		}
	}
	return n
}

func anchorSet(anchors []extractor.Anchor) map[int]bool {
	m := make(map[int]bool, len(anchors))
	for _, a := range anchors {
		m[a.Offset] = true
	}
	return m
}
