package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/metrics"
	"github.com/markdave123-py/docindex/internal/models"
)

const (
	DefaultThreshold = models.DefaultSearchThreshold
	DefaultLimit     = models.DefaultSearchLimit
	MaxLimit         = 100
)

var (
	ErrEmptyQuery    = errors.New("query is empty")
	ErrInvalidSearch = errors.New("invalid search options")
)

// QueryEmbedder turns a search query into a vector of the store's dimension.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type SearchService struct {
	store    core.VectorStore
	embedder QueryEmbedder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewSearchService(store core.VectorStore, embedder QueryEmbedder, m *metrics.Metrics, logger *slog.Logger) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{store: store, embedder: embedder, metrics: m, logger: logger.With("component", "search")}
}

// Search embeds query and returns the chunks of ready documents whose
// similarity is above the threshold, best first.
func (s *SearchService) Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.SearchResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		s.metrics.Search("invalid", time.Since(start), 0)
		return nil, ErrEmptyQuery
	}
	opts, err := normalizeOptions(opts)
	if err != nil {
		s.metrics.Search("invalid", time.Since(start), 0)
		return nil, err
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.metrics.Search("error", time.Since(start), 0)
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.store.Search(ctx, vec, opts)
	if err != nil {
		s.metrics.Search("error", time.Since(start), 0)
		return nil, fmt.Errorf("search store: %w", err)
	}
	for i := range results {
		results[i].Similarity = roundSimilarity(results[i].Similarity)
	}
	if results == nil {
		results = []models.SearchResult{}
	}

	s.metrics.Search("ok", time.Since(start), len(results))
	s.logger.Debug("search done",
		"results", len(results),
		"category", opts.Category,
		"threshold", *opts.Threshold,
		"limit", opts.Limit,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func normalizeOptions(opts models.SearchOptions) (models.SearchOptions, error) {
	opts.Category = strings.TrimSpace(opts.Category)

	th := opts.ThresholdOr(DefaultThreshold)
	if math.IsNaN(th) || th < -1 || th > 1 {
		return opts, fmt.Errorf("%w: threshold %v outside [-1, 1]", ErrInvalidSearch, th)
	}
	opts.Threshold = &th

	switch {
	case opts.Limit < 0:
		return opts, fmt.Errorf("%w: negative limit", ErrInvalidSearch)
	case opts.Limit == 0:
		opts.Limit = DefaultLimit
	case opts.Limit > MaxLimit:
		opts.Limit = MaxLimit
	}
	return opts, nil
}

func roundSimilarity(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
