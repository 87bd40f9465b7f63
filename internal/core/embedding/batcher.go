// Package embedding turns ordered chunk texts into ordered vectors by calling
// an embedding provider in fixed-size, concurrently fanned-out batches with a
// delay between batches.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/metrics"
)

const (
	DefaultBatchSize  = 100
	DefaultBatchDelay = 100 * time.Millisecond

	// DefaultQueryPrefix frames a search query for retrieval-tuned models.
	DefaultQueryPrefix = "Represent this sentence for searching relevant passages: "
)

// DimensionPolicy decides what happens to a vector of unexpected length.
type DimensionPolicy int

const (
	// DimensionStrict rejects the vector and fails the call.
	DimensionStrict DimensionPolicy = iota
	// DimensionWarn logs the mismatch and keeps the vector.
	DimensionWarn
)

// ParseDimensionPolicy maps "strict" and "warn" to a policy.
func ParseDimensionPolicy(s string) (DimensionPolicy, error) {
	switch s {
	case "", "strict":
		return DimensionStrict, nil
	case "warn":
		return DimensionWarn, nil
	}
	return DimensionStrict, fmt.Errorf("unknown dimension policy %q", s)
}

// Progress is reported after every completed batch.
type Progress struct {
	Processed  int
	Total      int
	Percentage int
}

// ProgressFunc receives batch completion updates.
type ProgressFunc func(Progress)

// Batcher embeds texts through a provider.
type Batcher struct {
	provider    core.EmbeddingProvider
	batchSize   int
	delay       time.Duration
	dimension   int
	dimPolicy   DimensionPolicy
	maxAttempts int
	retryBase   time.Duration
	limiter     *rate.Limiter
	queryPrefix string
	metrics     *metrics.Metrics
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Batcher.
type Option func(*Batcher) error

// WithBatchSize sets how many texts are embedded concurrently before the
// next batch starts. It must be positive.
func WithBatchSize(n int) Option {
	return func(b *Batcher) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		b.batchSize = n
		return nil
	}
}

// WithBatchDelay sets the pause between consecutive batches.
func WithBatchDelay(d time.Duration) Option {
	return func(b *Batcher) error {
		if d < 0 {
			return fmt.Errorf("batch delay must not be negative, got %s", d)
		}
		b.delay = d
		return nil
	}
}

// WithDimension sets the expected vector length and the mismatch policy.
// A zero dimension disables the check.
func WithDimension(dim int, policy DimensionPolicy) Option {
	return func(b *Batcher) error {
		if dim < 0 {
			return fmt.Errorf("dimension must not be negative, got %d", dim)
		}
		b.dimension = dim
		b.dimPolicy = policy
		return nil
	}
}

// WithRetry retries each provider call up to maxAttempts times with
// exponential backoff starting at base. One attempt means no retry.
func WithRetry(maxAttempts int, base time.Duration) Option {
	return func(b *Batcher) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		b.maxAttempts = maxAttempts
		b.retryBase = base
		return nil
	}
}

// WithRateLimiter shares a limiter between batchers so concurrent ingestions
// draw from one provider budget.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(b *Batcher) error {
		b.limiter = l
		return nil
	}
}

// WithQueryPrefix sets the text prepended to search queries. Empty disables
// the prefix.
func WithQueryPrefix(prefix string) Option {
	return func(b *Batcher) error {
		b.queryPrefix = prefix
		return nil
	}
}

// WithMetrics records provider calls, retries and batch latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Batcher) error {
		b.metrics = m
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Batcher) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		b.logger = logger
		return nil
	}
}

// NewBatcher creates a Batcher over provider.
func NewBatcher(provider core.EmbeddingProvider, opts ...Option) (*Batcher, error) {
	if provider == nil {
		return nil, errors.New("embedding: provider must not be nil")
	}
	b := &Batcher{
		provider:    provider,
		batchSize:   DefaultBatchSize,
		delay:       DefaultBatchDelay,
		dimPolicy:   DimensionStrict,
		maxAttempts: 1,
		queryPrefix: DefaultQueryPrefix,
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("embedding: %w", err)
		}
	}
	b.logger = b.logger.With("component", "embedding-batcher")
	return b, nil
}

// EmbedBatch returns one vector per text, vector i belonging to texts[i].
// Batches run strictly one after another with the configured delay between
// them; inside a batch every text is embedded concurrently. Any failed call
// fails the whole operation.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string, onProgress ProgressFunc) ([][]float32, error) {
	total := len(texts)
	out := make([][]float32, total)
	if total == 0 {
		return out, nil
	}

	for start := 0; start < total; start += b.batchSize {
		if start > 0 && b.delay > 0 {
			if err := b.sleep(ctx, b.delay); err != nil {
				return nil, err
			}
		}

		end := min(start+b.batchSize, total)
		began := time.Now()
		if err := b.runBatch(ctx, texts, out, start, end); err != nil {
			return nil, fmt.Errorf("embed batch [%d,%d): %w", start, end, err)
		}
		b.metrics.EmbedBatch(time.Since(began))

		b.logger.Debug("batch embedded", "processed", end, "total", total)
		if onProgress != nil {
			onProgress(Progress{
				Processed:  end,
				Total:      total,
				Percentage: end * 100 / total,
			})
		}
	}
	return out, nil
}

func (b *Batcher) runBatch(ctx context.Context, texts []string, out [][]float32, start, end int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.batchSize)

	for i := start; i < end; i++ {
		g.Go(func() error {
			vec, err := b.embedOne(gctx, texts[i], b.provider.EmbedTexts)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	return g.Wait()
}

// EmbedQuery embeds a search query with the retrieval prefix.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	call := b.provider.EmbedTexts
	if qp, ok := b.provider.(core.QueryEmbeddingProvider); ok {
		call = qp.EmbedQueries
	}
	return b.embedOne(ctx, b.queryPrefix+text, call)
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embedOne performs one provider call, retried per the configured policy,
// and validates the vector length.
func (b *Batcher) embedOne(ctx context.Context, text string, call embedFunc) ([]float32, error) {
	var vec []float32
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			b.metrics.EmbedRetry()
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		vecs, err := call(ctx, []string{text})
		if err != nil {
			b.metrics.EmbedCall("error")
			return err
		}
		if len(vecs) != 1 {
			b.metrics.EmbedCall("error")
			return fmt.Errorf("provider returned %d vectors for 1 text", len(vecs))
		}
		b.metrics.EmbedCall("ok")
		vec = vecs[0]
		return nil
	}

	if err := RetryWithBackoff(ctx, op, b.maxAttempts, b.retryBase); err != nil {
		return nil, err
	}
	if err := b.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (b *Batcher) checkDimension(vec []float32) error {
	if b.dimension == 0 || len(vec) == b.dimension {
		return nil
	}
	b.metrics.DimensionMismatch()
	if b.dimPolicy == DimensionWarn {
		b.logger.Warn("embedding dimension mismatch", "got", len(vec), "want", b.dimension)
		return nil
	}
	return fmt.Errorf("%w: got %d, want %d", core.ErrDimensionMismatch, len(vec), b.dimension)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
