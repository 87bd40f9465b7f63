package ingestion_engine

import (
	"errors"
	"fmt"

	"github.com/markdave123-py/docindex/internal/models"
)

// Failure categories. A StageError matches the category of its stage.
var (
	ErrExtraction  = errors.New("extraction failed")
	ErrChunking    = errors.New("chunking failed")
	ErrEmbedding   = errors.New("embedding failed")
	ErrPersistence = errors.New("persistence failed")
)

var (
	ErrEmptyDocument = errors.New("document has no extractable text")
	ErrNoChunks      = errors.New("chunker produced no chunks")
	ErrChunkCount    = errors.New("persisted chunk count does not match")
	// ErrInterrupted marks a resumed job whose source is gone.
	ErrInterrupted = errors.New("ingestion interrupted and source no longer available")

	ErrQueueFull    = errors.New("ingestion queue is full")
	ErrRunnerClosed = errors.New("ingestion runner is closed")
	ErrJobActive    = errors.New("document is already being ingested")
)

// StageError records the stage an ingestion job failed in.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the failure category of the stage.
func (e *StageError) Is(target error) bool {
	return target == categoryOf(e.Stage)
}

func categoryOf(stage models.Stage) error {
	switch stage {
	case models.StageQueued, models.StageExtracting:
		return ErrExtraction
	case models.StageChunking:
		return ErrChunking
	case models.StageEmbedding:
		return ErrEmbedding
	case models.StageSaving, models.StageCompleted:
		return ErrPersistence
	}
	return nil
}
