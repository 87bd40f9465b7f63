package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/chunker"
	db "github.com/markdave123-py/docindex/internal/core/database"
	"github.com/markdave123-py/docindex/internal/core/database/sqlite"
	"github.com/markdave123-py/docindex/internal/core/embedding"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/core/llm"
	objectclient "github.com/markdave123-py/docindex/internal/core/object-client"
	"github.com/markdave123-py/docindex/internal/core/statusstore"
	"github.com/markdave123-py/docindex/internal/metrics"
	"github.com/markdave123-py/docindex/internal/services"
)

const statusGCInterval = 10 * time.Minute

// VectorStore is a core.VectorStore that can name itself in readiness checks.
type VectorStore interface {
	core.VectorStore
	Name() string
}

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store     VectorStore
	Status    *statusstore.Store
	Objects   core.ObjectClient
	Runner    *ingestion_engine.Runner
	Documents *services.DocumentService
	Search    *services.SearchService

	embedCloser io.Closer
	stopGC      context.CancelFunc
}

// NewApp connects every backend and builds the services. It does not start
// the HTTP server or resume interrupted jobs.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := &App{Config: cfg, Logger: logger, Registry: reg, Metrics: metrics.New(reg)}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeBackends()
		}
	}()

	var err error
	if a.Store, err = openStore(appCtx, cfg); err != nil {
		return nil, err
	}
	logger.Info("vector store ready", "backend", a.Store.Name(), "embed_dim", cfg.EmbedDim)

	if a.Status, err = statusstore.Open(cfg.StatusDir, cfg.StatusTTL, logger); err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}

	if cfg.Storage() {
		s3, err := objectclient.NewS3Client(appCtx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Objects = s3
	} else {
		logger.Warn("object storage not configured, uploads are kept in memory until ingested")
	}

	provider, closer, err := llm.NewFromConfig(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.embedCloser = closer

	batcher, err := newBatcher(cfg, provider, a.Metrics, logger)
	if err != nil {
		return nil, err
	}

	opts := []ingestion_engine.OrchestratorOption{
		ingestion_engine.WithStatusStore(a.Status),
		ingestion_engine.WithOrchestratorMetrics(a.Metrics),
		ingestion_engine.WithOrchestratorLogger(logger),
	}
	if a.Objects != nil {
		opts = append(opts, ingestion_engine.WithObjectClient(a.Objects))
	}
	orch, err := ingestion_engine.NewOrchestrator(a.Store,
		ingestion_engine.NewDocconvExtractor(cfg.ReadabilityFilter, logger),
		chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap)),
		batcher,
		opts...,
	)
	if err != nil {
		return nil, err
	}

	a.Runner, err = ingestion_engine.NewRunner(orch, ingestion_engine.RunnerConfig{
		Workers:    cfg.IngestWorkers,
		QueueSize:  cfg.IngestQueueSize,
		JobTimeout: cfg.IngestJobTimeout,
		Metrics:    a.Metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	a.Documents = services.NewDocumentService(a.Store, a.Objects, a.Status, a.Runner, logger)
	a.Search = services.NewSearchService(a.Store, batcher, a.Metrics, logger)

	gcCtx, stop := context.WithCancel(context.Background())
	a.stopGC = stop
	go a.collectStatusGarbage(gcCtx)

	ok = true
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (VectorStore, error) {
	switch cfg.VectorBackend {
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.EmbedDim)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		c, err := db.NewDatabaseClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
}

func newBatcher(cfg *config.Config, provider core.EmbeddingProvider, m *metrics.Metrics, logger *slog.Logger) (*embedding.Batcher, error) {
	policy, err := embedding.ParseDimensionPolicy(cfg.EmbedDimPolicy)
	if err != nil {
		return nil, err
	}
	opts := []embedding.Option{
		embedding.WithBatchSize(cfg.EmbedBatchSize),
		embedding.WithBatchDelay(cfg.EmbedBatchDelay),
		embedding.WithDimension(cfg.EmbedDim, policy),
		embedding.WithRetry(cfg.EmbedMaxAttempts, cfg.EmbedRetryBase),
		embedding.WithQueryPrefix(cfg.EmbedQueryPrefix),
		embedding.WithMetrics(m),
		embedding.WithLogger(logger),
	}
	if cfg.EmbedRateLimit > 0 {
		burst := max(1, int(cfg.EmbedRateLimit))
		opts = append(opts, embedding.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), burst)))
	}
	return embedding.NewBatcher(provider, opts...)
}

func (a *App) collectStatusGarbage(ctx context.Context) {
	t := time.NewTicker(statusGCInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Status.RunGC()
		}
	}
}

// Close drains the ingestion queue until ctx ends, then releases every
// backend. Jobs still running at the deadline stay resumable.
func (a *App) Close(ctx context.Context) error {
	if a.Runner != nil {
		if err := a.Runner.Close(ctx); err != nil {
			a.Logger.Warn("ingestion jobs interrupted by shutdown", "error", err)
		}
	}
	return a.closeBackends()
}

func (a *App) closeBackends() error {
	var errs []error
	if a.stopGC != nil {
		a.stopGC()
	}
	if a.embedCloser != nil {
		errs = append(errs, a.embedCloser.Close())
	}
	if a.Status != nil {
		errs = append(errs, a.Status.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
