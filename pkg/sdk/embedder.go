package meinrag

import "context"

// Embedder converts text to vector embeddings. Required: both ingestion and
// retrieval embed text through it.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token usage.
type EmbeddingResult struct {
	Embedding   []float32
	TotalTokens int
}
