package ingestion_engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/core/llm/mock"
	"github.com/markdave123-py/docindex/internal/logging"
	"github.com/markdave123-py/docindex/internal/metrics"
	"github.com/markdave123-py/docindex/internal/models"
)

func newRunner(t *testing.T, h *harness, workers, queue int) *Runner {
	t.Helper()
	r, err := NewRunner(h.orch, RunnerConfig{
		Workers:   workers,
		QueueSize: queue,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

// blockEmbedder makes every provider call wait until release is closed or
// the call is canceled.
func blockEmbedder(e *mock.Embedder) (release func()) {
	ch := make(chan struct{})
	e.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.Vector(text, testDim)
		}
		return out, nil
	}
	return func() { close(ch) }
}

func (h *harness) waitStatus(t *testing.T, id string, want models.DocumentStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		doc, err := h.store.GetDocumentByID(context.Background(), id)
		return err == nil && doc.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

// uploadedDocument creates a processing document whose source sits in
// object storage, as an upload interrupted before chunking would look.
func (h *harness) uploadedDocument(t *testing.T, text string) *models.Document {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	doc := &models.Document{
		ID:         id,
		Title:      "upload " + id[:8],
		FileType:   "text/plain",
		StorageKey: "documents/" + id + "/source.txt",
		Metadata:   models.NewProcessingMetadata(models.ProcessingMetadata{OriginalFileName: "source.txt"}),
	}
	_, err := h.objects.UploadFile(ctx, doc.StorageKey, strings.NewReader(text), doc.FileType)
	require.NoError(t, err)
	require.NoError(t, h.store.CreateDocument(ctx, doc))
	return doc
}

func TestRunner_EnqueueProcessesJob(t *testing.T) {
	h := newHarness(t)
	r := newRunner(t, h, 2, 8)
	doc := h.newDocument(t, "handbook", "hr")

	require.NoError(t, r.Enqueue(context.Background(), Job{DocumentID: doc.ID, Source: Source{Text: longText(3)}}))
	h.waitStatus(t, doc.ID, models.StatusReady)

	require.Eventually(t, func() bool { return !r.Active(doc.ID) }, time.Second, 5*time.Millisecond)

	st, err := h.status.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageCompleted, st.Stage)
	assert.Equal(t, models.StageQueued, h.status.history()[0].Stage)
}

func TestRunner_RejectsDuplicateAndEmpty(t *testing.T) {
	h := newHarness(t)
	release := blockEmbedder(h.embedder)
	defer release()
	r := newRunner(t, h, 1, 4)
	doc := h.newDocument(t, "a", "")

	require.NoError(t, r.Enqueue(context.Background(), Job{DocumentID: doc.ID, Source: Source{Text: "hello"}}))
	assert.ErrorIs(t, r.Enqueue(context.Background(), Job{DocumentID: doc.ID, Source: Source{Text: "hello"}}), ErrJobActive)
	assert.Error(t, r.Enqueue(context.Background(), Job{}))
}

func TestRunner_QueueFull(t *testing.T) {
	h := newHarness(t)
	release := blockEmbedder(h.embedder)
	r := newRunner(t, h, 1, 1)

	var err error
	for i := 0; i < 5 && err == nil; i++ {
		doc := h.newDocument(t, "doc", "")
		err = r.Enqueue(context.Background(), Job{DocumentID: doc.ID, Source: Source{Text: "some text"}})
	}
	assert.ErrorIs(t, err, ErrQueueFull)
	release()
}

func TestRunner_Cancel(t *testing.T) {
	h := newHarness(t)
	release := blockEmbedder(h.embedder)
	defer release()
	r := newRunner(t, h, 1, 4)
	doc := h.newDocument(t, "slow", "")

	require.NoError(t, r.Enqueue(context.Background(), Job{DocumentID: doc.ID, Source: Source{Text: longText(2)}}))
	require.Eventually(t, func() bool { return h.embedder.CallCount() > 0 }, 5*time.Second, 5*time.Millisecond)

	assert.True(t, r.Cancel(doc.ID))
	h.waitStatus(t, doc.ID, models.StatusFailed)

	got, err := h.store.GetDocumentByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "embedding", got.Metadata.Failed.Stage)
	assert.False(t, r.Cancel("unknown"))
}

func TestRunner_JobTimeout(t *testing.T) {
	h := newHarness(t)
	release := blockEmbedder(h.embedder)
	defer release()

	r, err := NewRunner(h.orch, RunnerConfig{Workers: 1, JobTimeout: 50 * time.Millisecond, Logger: logging.Discard()})
	require.NoError(t, err)
	defer r.Close(context.Background())

	doc := h.newDocument(t, "slow", "")
	require.NoError(t, r.Enqueue(context.Background(), Job{DocumentID: doc.ID, Source: Source{Text: "text"}}))
	h.waitStatus(t, doc.ID, models.StatusFailed)
}

func TestRunner_CloseInterruptsAndResumeFinishes(t *testing.T) {
	h := newHarness(t)
	release := blockEmbedder(h.embedder)

	r, err := NewRunner(h.orch, RunnerConfig{Workers: 1, Logger: logging.Discard()})
	require.NoError(t, err)
	doc := h.newDocument(t, "interrupted", "")
	require.NoError(t, r.Enqueue(context.Background(), Job{DocumentID: doc.ID, Source: Source{Text: longText(2)}}))
	require.Eventually(t, func() bool { return h.embedder.CallCount() > 0 }, 5*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, r.Enqueue(context.Background(), Job{DocumentID: "x"}), ErrRunnerClosed)

	got, err := h.store.GetDocumentByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status, "shutdown leaves the job resumable")

	release()
	r2 := newRunner(t, h, 1, 4)
	n, err := r2.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h.waitStatus(t, doc.ID, models.StatusReady)
}

func TestRunner_ResumeWithoutCheckpointOrSource(t *testing.T) {
	h := newHarness(t)
	r := newRunner(t, h, 1, 4)

	orphan := h.newDocument(t, "orphan", "")
	ready := h.newDocument(t, "ready", "")
	_, err := h.orch.Process(context.Background(), Job{DocumentID: ready.ID, Source: Source{Text: "done"}})
	require.NoError(t, err)

	n, err := r.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.waitStatus(t, orphan.ID, models.StatusFailed)
	got, err := h.store.GetDocumentByID(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Metadata.Failed.Error, ErrInterrupted.Error())
}

func TestRunner_ResumeBacklogLargerThanQueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	release := blockEmbedder(h.embedder)
	r := newRunner(t, h, 1, 2)

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = h.uploadedDocument(t, longText(1)).ID
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := r.Resume(ctx)
		done <- result{n, err}
	}()

	require.Eventually(t, func() bool { return h.embedder.CallCount() > 0 }, 5*time.Second, 5*time.Millisecond)
	release()

	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("resume did not finish")
	}
	require.NoError(t, res.err)
	assert.Equal(t, len(ids), res.n)

	for _, id := range ids {
		h.waitStatus(t, id, models.StatusReady)
	}
}

func TestRunner_ResumeStopsWithContext(t *testing.T) {
	h := newHarness(t)
	release := blockEmbedder(h.embedder)
	defer release()
	r := newRunner(t, h, 1, 1)

	for range 5 {
		h.uploadedDocument(t, longText(1))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	n, err := r.Resume(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, n, 5)
}
