package service

import (
	"context"
	"fmt"
	"math"

	"docchat/internal/llm"
)

// Batcher embeds texts in fixed-size batches, preserving input order, and
// L2-normalizes every vector so squared L2 distance ranks like cosine
// similarity.
type Batcher struct {
	embedder  llm.Embedder
	batchSize int
}

// NewBatcher wraps an embedder with batching and normalization.
func NewBatcher(embedder llm.Embedder, batchSize int) *Batcher {
	return &Batcher{embedder: embedder, batchSize: batchSize}
}

// Embed returns one normalized vector per text, in input order. A failed
// batch aborts the whole call; partial results are never returned.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := b.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", start/b.batchSize+1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embed batch %d: sent %d texts, got %d vectors", start/b.batchSize+1, end-start, len(batch))
		}
		for _, vec := range batch {
			vectors = append(vectors, normalize(vec))
		}
	}
	return vectors, nil
}

// normalize scales a vector to unit length. Zero vectors pass through.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, f := range vec {
		out[i] = f / norm
	}
	return out
}
