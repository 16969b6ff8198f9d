// Package enrich holds the model-backed steps of the pipeline: chunk embedding and
// content classification.
package enrich

import (
	"context"
	"fmt"

	"github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/openai"
)

const defaultEmbedBatch = 64

type Embedder struct {
	ai    openai.Client
	batch int
}

func NewEmbedder(ai openai.Client, batch int) *Embedder {
	if batch <= 0 {
		batch = defaultEmbedBatch
	}
	return &Embedder{ai: ai, batch: batch}
}

// EmbedChunks fills in Embedding on every chunk, in batches.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []weblink.Chunk) error {
	for start := 0; start < len(chunks); start += e.batch {
		end := start + e.batch
		if end > len(chunks) {
			end = len(chunks)
		}
		inputs := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			text := c.Content
			if c.Heading != "" {
				text = c.Heading + "\n\n" + text
			}
			inputs = append(inputs, text)
		}
		vecs, err := e.ai.Embed(ctx, inputs)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(inputs) {
			return fmt.Errorf("embed chunks %d-%d: got %d vectors for %d inputs", start, end, len(vecs), len(inputs))
		}
		for i := range vecs {
			chunks[start+i].Embedding = vecs[i]
		}
	}
	return nil
}
