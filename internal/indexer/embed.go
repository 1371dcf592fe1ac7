package indexer

import (
	"context"

	"knowledgebase/internal/types"
)

// embedChunks computes a dense vector per chunk, sub-batched at
// cfg.EmbedBatchSize. Results are returned in chunk order; types.Chunk
// itself carries no vector field, only the DenseVectorID assigned by the
// caller once points are built.
func (idx *Indexer) embedChunks(ctx context.Context, chunks []types.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	batchSize := idx.cfg.EmbedBatchSize

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Text
		}
		batch, err := idx.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		for i, v := range batch {
			vectors[start+i] = v
		}
	}
	return vectors, nil
}
