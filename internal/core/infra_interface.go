package core

import (
	"context"
	"io"

	"github.com/markdave123-py/docindex/internal/models"
)

// VectorStore defines all persistence operations the services need.
// It abstracts Postgres/pgvector (or the local SQLite store) so higher layers
// never depend on a specific database.
type VectorStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, category string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// SetStatus moves a processing document to a terminal status. Terminal
	// documents are never updated again.
	SetStatus(ctx context.Context, id string, status models.DocumentStatus, meta models.DocumentMetadata) error

	// InsertChunks writes the chunks of one document and returns the number
	// of rows inserted.
	InsertChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) (int, error)
	CountChunks(ctx context.Context, documentID string) (int, error)

	// Search ranks chunks of ready documents by cosine similarity to vec.
	Search(ctx context.Context, vec []float32, opts models.SearchOptions) ([]models.SearchResult, error)

	Ping(ctx context.Context) error
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
}

// StatusStore holds the live state of ingestion jobs so any instance can
// observe them. Entries expire after a configured TTL.
type StatusStore interface {
	// Put records st. Regressing to an earlier stage or updating a
	// terminal job fails.
	Put(ctx context.Context, st models.JobStatus) error
	Get(ctx context.Context, documentID string) (*models.JobStatus, error)
	ListActive(ctx context.Context) ([]models.JobStatus, error)
	Delete(ctx context.Context, documentID string) error

	SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error
	LoadCheckpoint(ctx context.Context, documentID string) (*models.Checkpoint, error)
}
