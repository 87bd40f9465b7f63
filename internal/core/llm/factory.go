package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/llm/mock"
)

// NewFromConfig builds the embedding provider selected by EMBED_PROVIDER.
// The returned closer releases provider resources and is never nil.
func NewFromConfig(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, io.Closer, error) {
	switch cfg.EmbedProvider {
	case config.ProviderGemini:
		g, err := NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case config.ProviderOpenAI:
		o, err := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("openai embedder: %w", err)
		}
		return o, nopCloser{}, nil
	case config.ProviderMock:
		return mock.NewEmbedder(cfg.EmbedDim), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
