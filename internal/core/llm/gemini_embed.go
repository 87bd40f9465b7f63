package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docindex/internal/core"
)

// geminiBatchLimit is the largest request BatchEmbedContents accepts.
const geminiBatchLimit = 100

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("gemini embedder: api key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{
		client:    cl,
		modelName: modelName,
		logger:    slog.Default().With("component", "gemini-embedder"),
	}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts embeds stored passages with retrieval-document framing.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return g.embed(ctx, texts, genai.TaskTypeRetrievalDocument)
}

// EmbedQueries embeds search queries with retrieval-query framing.
func (g *GeminiEmbedder) EmbedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	return g.embed(ctx, queries, genai.TaskTypeRetrievalQuery)
}

// embed splits texts into requests of at most geminiBatchLimit contents.
func (g *GeminiEmbedder) embed(ctx context.Context, texts []string, task genai.TaskType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = task

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			g.logger.Error("batch embed failed", "count", end-start, "task", task, "err", err)
			return nil, fmt.Errorf("gemini batch embed: %w", err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini batch embed: got %d embeddings for %d texts", len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

var (
	_ core.EmbeddingProvider      = (*GeminiEmbedder)(nil)
	_ core.QueryEmbeddingProvider = (*GeminiEmbedder)(nil)
)
