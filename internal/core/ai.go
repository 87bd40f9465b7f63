package core

import "context"

// EmbeddingProvider maps texts to fixed-length vectors, one per input, in order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryEmbeddingProvider is implemented by providers that embed search
// queries differently from stored passages.
type QueryEmbeddingProvider interface {
	EmbedQueries(ctx context.Context, queries []string) ([][]float32, error)
}
