package models

import "time"

// Stage is a step of the ingestion state machine.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageSaving     Stage = "saving"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Progress percentages recorded on entry to each stage. Embedding moves
// from EmbeddingStartPercent to EmbeddingEndPercent as batches complete.
const (
	EmbeddingStartPercent = 50
	EmbeddingEndPercent   = 85
)

var stageOrder = map[Stage]int{
	StageQueued:     0,
	StageExtracting: 1,
	StageChunking:   2,
	StageEmbedding:  3,
	StageSaving:     4,
	StageCompleted:  5,
	StageFailed:     6,
}

var stagePercent = map[Stage]int{
	StageQueued:     0,
	StageExtracting: 10,
	StageChunking:   30,
	StageEmbedding:  EmbeddingStartPercent,
	StageSaving:     90,
	StageCompleted:  100,
}

// Rank orders stages; failed ranks after every other stage so no stage can
// follow it. Unknown stages rank -1.
func (s Stage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// Percent is the progress reported on entry to s.
func (s Stage) Percent() int {
	return stagePercent[s]
}

func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// JobStatus is the live, externally observable state of one ingestion job.
type JobStatus struct {
	DocumentID  string    `json:"documentId"`
	Stage       Stage     `json:"stage"`
	Progress    int       `json:"progress"`
	ChunkCount  int       `json:"chunkCount,omitempty"`
	FailedStage Stage     `json:"failedStage,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Checkpoint is the resumable output of the stages completed so far.
type Checkpoint struct {
	DocumentID string            `json:"documentId"`
	Stage      Stage             `json:"stage"`
	Chunks     []CheckpointChunk `json:"chunks"`
	Vectors    [][]float32       `json:"vectors,omitempty"`
	SavedAt    time.Time         `json:"savedAt"`
}

// CheckpointChunk is the persisted shape of a chunk between stages.
type CheckpointChunk struct {
	Content       string  `json:"content"`
	Index         int     `json:"index"`
	CharLen       int     `json:"charLen"`
	TokenEstimate int     `json:"tokenEstimate"`
	PageNumber    *int    `json:"pageNumber,omitempty"`
	SectionTitle  *string `json:"sectionTitle,omitempty"`
}
