// Package embedding defines the embedding-service contract used by the
// pipeline.
package embedding

import "context"

// Embedder converts free text into fixed-dimension numeric vectors.
// Implementations classify failures as transient (retryable) or permanent
// via the domain error types so the generator can decide what to retry.
type Embedder interface {
	Name() string
	// Dimension is the collection's configured vector size; every returned
	// vector has exactly this length.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch embeds texts in one service call, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
