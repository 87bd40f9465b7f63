package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/core/chunker"
	"github.com/markdave123-py/docindex/internal/core/database/sqlite"
	"github.com/markdave123-py/docindex/internal/core/embedding"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/core/llm/mock"
	objectclient "github.com/markdave123-py/docindex/internal/core/object-client"
	"github.com/markdave123-py/docindex/internal/core/statusstore"
	"github.com/markdave123-py/docindex/internal/logging"
	"github.com/markdave123-py/docindex/internal/models"
)

const testDim = 64

type env struct {
	store   *sqlite.Store
	status  *statusstore.Store
	objects *objectclient.MemoryClient
	batcher *embedding.Batcher
	runner  *ingestion_engine.Runner
	docs    *DocumentService
	search  *SearchService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, ":memory:", testDim)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	status, err := statusstore.Open("", 0, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { status.Close() })

	batcher, err := embedding.NewBatcher(mock.NewEmbedder(testDim),
		embedding.WithBatchDelay(0),
		embedding.WithDimension(testDim, embedding.DimensionStrict),
		embedding.WithLogger(logging.Discard()),
	)
	require.NoError(t, err)

	objects := objectclient.NewMemoryClient()
	orch, err := ingestion_engine.NewOrchestrator(store,
		ingestion_engine.NewDocconvExtractor(false, logging.Discard()),
		chunker.New(chunker.WithChunkSize(200), chunker.WithOverlap(40)),
		batcher,
		ingestion_engine.WithObjectClient(objects),
		ingestion_engine.WithStatusStore(status),
		ingestion_engine.WithOrchestratorLogger(logging.Discard()),
	)
	require.NoError(t, err)

	runner, err := ingestion_engine.NewRunner(orch, ingestion_engine.RunnerConfig{Workers: 2, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Close(ctx)
	})

	e := &env{store: store, status: status, objects: objects, batcher: batcher, runner: runner}
	e.docs = NewDocumentService(store, e.objects, status, runner, logging.Discard())
	e.search = NewSearchService(store, batcher, nil, logging.Discard())
	return e
}

func (e *env) waitReady(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		doc, err := e.store.GetDocumentByID(context.Background(), id)
		return err == nil && doc.Status == models.StatusReady
	}, 5*time.Second, 10*time.Millisecond)
}

// stubIngestor records jobs without running them.
type stubIngestor struct {
	mu       sync.Mutex
	err      error
	active   bool
	jobs     []ingestion_engine.Job
	canceled []string
}

func (s *stubIngestor) Enqueue(_ context.Context, job ingestion_engine.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubIngestor) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canceled = append(s.canceled, id)
	return s.active
}
