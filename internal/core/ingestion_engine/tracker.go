package ingestion_engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

// tracker publishes the live stage and progress of one job. Writes are best
// effort: a status store failure never fails the ingestion itself.
type tracker struct {
	store  core.StatusStore
	id     string
	logger *slog.Logger
}

func newTracker(store core.StatusStore, documentID string, logger *slog.Logger) *tracker {
	return &tracker{store: store, id: documentID, logger: logger}
}

func (t *tracker) put(ctx context.Context, st models.JobStatus) {
	if t.store == nil {
		return
	}
	st.DocumentID = t.id
	err := t.store.Put(ctx, st)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrStageRegression), errors.Is(err, core.ErrJobTerminal):
		// Resumed jobs replay stages the store has already seen.
		t.logger.Debug("status update skipped", "stage", st.Stage, "error", err)
	default:
		t.logger.Warn("status update failed", "stage", st.Stage, "error", err)
	}
}

func (t *tracker) enter(ctx context.Context, stage models.Stage) {
	t.put(ctx, models.JobStatus{Stage: stage, Progress: stage.Percent()})
}

func (t *tracker) embedding(ctx context.Context, percent, chunkCount int) {
	t.put(ctx, models.JobStatus{Stage: models.StageEmbedding, Progress: percent, ChunkCount: chunkCount})
}

func (t *tracker) complete(ctx context.Context, chunkCount int) {
	t.put(ctx, models.JobStatus{Stage: models.StageCompleted, Progress: 100, ChunkCount: chunkCount})
}

func (t *tracker) fail(ctx context.Context, stage models.Stage, cause error) {
	t.put(ctx, models.JobStatus{
		Stage:       models.StageFailed,
		Progress:    stage.Percent(),
		FailedStage: stage,
		Error:       cause.Error(),
	})
}

// embeddingPercent maps batch progress into the embedding band of the job.
func embeddingPercent(batchPercent int) int {
	span := models.EmbeddingEndPercent - models.EmbeddingStartPercent
	return models.EmbeddingStartPercent + batchPercent*span/100
}
