// Package embed produces query and document embeddings through an
// OpenAI-compatible provider. Embeddings are an enhancement, not a
// dependency: callers degrade to lexical-only retrieval when the provider
// is unavailable, so the lossy helpers return nil instead of failing.
package embed

import (
	"context"
	"fmt"
	"log/slog"
)

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	// EmbedBatch embeds texts in order. The result has one vector per
	// input; an error means the whole batch failed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector dimension D the embedder produces.
	Dimension() int

	// Version identifies the embedding model and dimension. A change in
	// version invalidates every stored vector.
	Version() string
}

// TryEmbed embeds a single text, returning nil on any failure. Use it where
// a missing embedding only narrows retrieval.
func TryEmbed(ctx context.Context, e Embedder, text string) []float32 {
	if e == nil || text == "" {
		return nil
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil || len(vecs) != 1 {
		slog.Warn("Embedding unavailable, continuing without vector", "error", err)
		return nil
	}
	return vecs[0]
}

// VersionString formats the canonical embedder version value.
func VersionString(model string, dim int) string {
	return fmt.Sprintf("%s@%d", model, dim)
}
