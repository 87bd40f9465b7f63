package models

import (
	"time"
)

// DocumentStatus is the durable lifecycle state of a document row.
// processing -> ready | failed; both ready and failed are terminal.
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Document represents an ingested source document.
type Document struct {
	ID               string           `db:"id" json:"id"`
	Title            string           `db:"title" json:"title"`
	Category         string           `db:"category" json:"category,omitempty"`
	FileType         string           `db:"file_type" json:"file_type"`
	OriginalFileName string           `db:"original_file_name" json:"original_file_name"`
	FileSize         int64            `db:"file_size" json:"file_size"`
	StorageKey       string           `db:"storage_key" json:"storage_key,omitempty"` // object storage key of the raw upload
	ChunkCount       int              `db:"chunk_count" json:"chunk_count"`
	Status           DocumentStatus   `db:"status" json:"status"`
	Metadata         DocumentMetadata `db:"metadata" json:"metadata"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one embedded text chunk from a document.
type DocumentChunk struct {
	ID           string    `db:"id" json:"id"`
	DocumentID   string    `db:"document_id" json:"document_id"`
	Content      string    `db:"content" json:"content"`
	ChunkIndex   int       `db:"chunk_index" json:"chunk_index"`
	PageNumber   *int      `db:"page_number" json:"page_number,omitempty"`
	SectionTitle *string   `db:"section_title" json:"section_title,omitempty"`
	Embedding    []float32 `db:"embedding" json:"-"` // pgvector column
	TokenCount   int       `db:"token_count" json:"token_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Search defaults applied when a query leaves threshold or limit unset.
const (
	DefaultSearchThreshold = 0.5
	DefaultSearchLimit     = 10
)

// SearchOptions narrows a similarity query. A nil Threshold or zero Limit
// selects DefaultSearchThreshold and DefaultSearchLimit.
type SearchOptions struct {
	Category  string   `json:"category,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// ThresholdOr returns the threshold or def when unset.
func (o SearchOptions) ThresholdOr(def float64) float64 {
	if o.Threshold == nil {
		return def
	}
	return *o.Threshold
}

// WithDefaults fills an unset threshold or limit.
func (o SearchOptions) WithDefaults() SearchOptions {
	if o.Threshold == nil {
		th := DefaultSearchThreshold
		o.Threshold = &th
	}
	if o.Limit <= 0 {
		o.Limit = DefaultSearchLimit
	}
	return o
}

// SearchResult is one ranked chunk returned by a similarity query.
type SearchResult struct {
	Content       string  `json:"content"`
	DocumentTitle string  `json:"documentTitle"`
	DocumentID    string  `json:"documentId"`
	Category      string  `json:"category"`
	ChunkIndex    int     `json:"chunkIndex"`
	PageNumber    *int    `json:"pageNumber,omitempty"`
	SectionTitle  *string `json:"sectionTitle,omitempty"`
	Similarity    float64 `json:"similarity"`
}
