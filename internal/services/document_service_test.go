package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/chunker"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/logging"
	"github.com/markdave123-py/docindex/internal/models"
)

func TestDocumentService_CreateValidates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.docs.Create(ctx, CreateDocumentRequest{Text: "body"})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = e.docs.Create(ctx, CreateDocumentRequest{Title: "nothing"})
	assert.ErrorIs(t, err, ErrInvalidDocument)

	docs, err := e.docs.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentService_BlankTextFailsExtraction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, CreateDocumentRequest{Title: "blank", Text: "  \n\t "})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := e.store.GetDocumentByID(ctx, doc.ID)
		return err == nil && got.Status == models.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	st, err := e.docs.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Status)
	assert.Equal(t, models.StageExtracting, st.Stage)
	assert.Contains(t, st.Error, ingestion_engine.ErrEmptyDocument.Error())
	assert.Zero(t, st.ChunkCount)
}

func TestDocumentService_CreateTextBecomesReady(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, CreateDocumentRequest{
		Title:            "Handbook",
		Category:         " hr ",
		OriginalFileName: "handbook.txt",
		Text:             "Employees accrue paid leave every month.",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.Equal(t, "hr", doc.Category)
	assert.Equal(t, "text/plain", doc.FileType)
	assert.EqualValues(t, len("Employees accrue paid leave every month."), doc.FileSize)
	require.NotNil(t, doc.Metadata.Processing)
	assert.Equal(t, "handbook.txt", doc.Metadata.Processing.OriginalFileName)

	e.waitReady(t, doc.ID)

	st, err := e.docs.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, st.Status)
	assert.Equal(t, models.StageCompleted, st.Stage)
	assert.Equal(t, 100, st.ProgressPercent)
	assert.Equal(t, 1, st.ChunkCount)
	assert.Empty(t, st.Error)
}

func TestDocumentService_CreatePagesAndSections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	paged, err := e.docs.Create(ctx, CreateDocumentRequest{
		Title: "Manual",
		Pages: []chunker.Page{{Number: 1, Text: "First page."}, {Number: 2, Text: "Second page."}},
	})
	require.NoError(t, err)
	sectioned, err := e.docs.Create(ctx, CreateDocumentRequest{
		Title:    "Guide",
		Sections: []chunker.Section{{Title: "Intro", Text: "Welcome."}},
	})
	require.NoError(t, err)

	e.waitReady(t, paged.ID)
	e.waitReady(t, sectioned.ID)

	got, err := e.docs.Get(ctx, paged.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChunkCount)
}

func TestDocumentService_UploadGoesThroughObjectStorage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, CreateDocumentRequest{
		Title:            "Notes",
		FileType:         "text/plain",
		OriginalFileName: "my notes.txt",
		Data:             []byte("Meeting notes about the quarterly budget."),
	})
	require.NoError(t, err)
	assert.Equal(t, "documents/"+doc.ID+"/my_notes.txt", doc.StorageKey)

	data, err := e.objects.GetFile(ctx, doc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "Meeting notes about the quarterly budget.", string(data))

	e.waitReady(t, doc.ID)
	got, err := e.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChunkCount)
}

func TestDocumentService_UploadWithoutObjectStorage(t *testing.T) {
	e := newEnv(t)
	e.docs = NewDocumentService(e.store, nil, e.status, e.runner, logging.Discard())

	doc, err := e.docs.Create(context.Background(), CreateDocumentRequest{
		Title: "Inline",
		Data:  []byte("Inline upload handed straight to the job."),
	})
	require.NoError(t, err)
	assert.Empty(t, doc.StorageKey)
	e.waitReady(t, doc.ID)
}

func TestDocumentService_EnqueueFailureMarksFailed(t *testing.T) {
	e := newEnv(t)
	ing := &stubIngestor{err: ingestion_engine.ErrQueueFull}
	e.docs = NewDocumentService(e.store, e.objects, e.status, ing, logging.Discard())
	ctx := context.Background()

	_, err := e.docs.Create(ctx, CreateDocumentRequest{Title: "Busy", Text: "text"})
	require.ErrorIs(t, err, ingestion_engine.ErrQueueFull)

	docs, err := e.store.ListDocuments(ctx, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].Status)
	require.NotNil(t, docs[0].Metadata.Failed)
	assert.Equal(t, "queued", docs[0].Metadata.Failed.Stage)
}

func TestDocumentService_StatusPrefersLiveRecord(t *testing.T) {
	e := newEnv(t)
	ing := &stubIngestor{}
	e.docs = NewDocumentService(e.store, e.objects, e.status, ing, logging.Discard())
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, CreateDocumentRequest{Title: "Live", Text: "text"})
	require.NoError(t, err)
	require.Len(t, ing.jobs, 1)

	st, err := e.docs.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, st.Status)
	assert.Equal(t, models.StageQueued, st.Stage)
	assert.Equal(t, 0, st.ProgressPercent)

	require.NoError(t, e.status.Put(ctx, models.JobStatus{DocumentID: doc.ID, Stage: models.StageEmbedding, Progress: 67, ChunkCount: 12}))
	st, err = e.docs.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageEmbedding, st.Stage)
	assert.Equal(t, 67, st.ProgressPercent)
	assert.Equal(t, 12, st.ChunkCount)

	// The row finished but the live record never caught up.
	meta := models.NewFailedMetadata("saving", assert.AnError)
	require.NoError(t, e.store.SetStatus(ctx, doc.ID, models.StatusFailed, meta))
	st, err = e.docs.Status(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, st.Status)
	assert.Equal(t, models.StageSaving, st.Stage)
	assert.Equal(t, 90, st.ProgressPercent)
	assert.Equal(t, assert.AnError.Error(), st.Error)

	_, err = e.docs.Status(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func TestDocumentService_Cancel(t *testing.T) {
	e := newEnv(t)
	ing := &stubIngestor{}
	e.docs = NewDocumentService(e.store, e.objects, e.status, ing, logging.Discard())
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, CreateDocumentRequest{Title: "Idle", Text: "text"})
	require.NoError(t, err)

	require.NoError(t, e.docs.Cancel(ctx, doc.ID))
	got, err := e.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, []string{doc.ID}, ing.canceled)

	assert.ErrorIs(t, e.docs.Cancel(ctx, doc.ID), core.ErrTerminalStatus)
	assert.ErrorIs(t, e.docs.Cancel(ctx, "missing"), core.ErrDocumentNotFound)
}

func TestDocumentService_CancelRunningJob(t *testing.T) {
	e := newEnv(t)
	ing := &stubIngestor{active: true}
	e.docs = NewDocumentService(e.store, e.objects, e.status, ing, logging.Discard())
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, CreateDocumentRequest{Title: "Running", Text: "text"})
	require.NoError(t, err)
	require.NoError(t, e.docs.Cancel(ctx, doc.ID))

	// The running job owns the failure write.
	got, err := e.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestDocumentService_Delete(t *testing.T) {
	e := newEnv(t)
	ing := &stubIngestor{}
	e.docs = NewDocumentService(e.store, e.objects, e.status, ing, logging.Discard())
	ctx := context.Background()

	doc, err := e.docs.Create(ctx, CreateDocumentRequest{Title: "Gone", OriginalFileName: "gone.txt", Data: []byte("bytes")})
	require.NoError(t, err)
	require.NoError(t, e.status.Put(ctx, models.JobStatus{DocumentID: doc.ID, Stage: models.StageQueued}))
	require.Equal(t, 1, e.objects.Len())

	require.NoError(t, e.docs.Delete(ctx, doc.ID))

	_, err = e.docs.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	assert.Equal(t, 0, e.objects.Len())
	_, err = e.status.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
	assert.Equal(t, []string{doc.ID}, ing.canceled)

	assert.ErrorIs(t, e.docs.Delete(ctx, doc.ID), core.ErrDocumentNotFound)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "documents/id/report_final.pdf", objectKey("id", " report final.pdf "))
	assert.Equal(t, "documents/id/passwd", objectKey("id", "../../etc/passwd"))
	assert.Equal(t, "documents/id/source", objectKey("id", ""))
}
