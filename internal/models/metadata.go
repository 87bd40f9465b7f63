package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MetadataKind tags which variant a DocumentMetadata carries.
type MetadataKind string

const (
	MetadataProcessing MetadataKind = "processing"
	MetadataReady      MetadataKind = "ready"
	MetadataFailed     MetadataKind = "failed"
)

// ErrInvalidMetadata is returned when a metadata value does not carry exactly
// the variant its kind names.
var ErrInvalidMetadata = errors.New("invalid document metadata")

// ProcessingMetadata describes an upload that has not finished ingesting.
type ProcessingMetadata struct {
	OriginalFileName string    `json:"originalFileName"`
	FileType         string    `json:"fileType"`
	FileSize         int64     `json:"fileSize"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// ChunkSizeStats summarises chunk lengths in characters.
type ChunkSizeStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
}

// ReadyMetadata is recorded when a document becomes searchable.
type ReadyMetadata struct {
	ChunkCount           int            `json:"chunkCount"`
	ChunkSizeStats       ChunkSizeStats `json:"chunkSizeStats"`
	EstimatedTokenTotal  int            `json:"estimatedTokenTotal"`
	ProcessingDurationMs int64          `json:"processingDurationMs"`
}

// FailedMetadata records the stage that failed and its error text.
type FailedMetadata struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// DocumentMetadata is a tagged union: exactly one of Processing, Ready or
// Failed is set, matching Kind.
type DocumentMetadata struct {
	Kind       MetadataKind        `json:"kind"`
	Processing *ProcessingMetadata `json:"processing,omitempty"`
	Ready      *ReadyMetadata      `json:"ready,omitempty"`
	Failed     *FailedMetadata     `json:"failed,omitempty"`
}

func NewProcessingMetadata(m ProcessingMetadata) DocumentMetadata {
	return DocumentMetadata{Kind: MetadataProcessing, Processing: &m}
}

func NewReadyMetadata(m ReadyMetadata) DocumentMetadata {
	return DocumentMetadata{Kind: MetadataReady, Ready: &m}
}

func NewFailedMetadata(stage string, err error) DocumentMetadata {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return DocumentMetadata{Kind: MetadataFailed, Failed: &FailedMetadata{Stage: stage, Error: msg}}
}

// Validate checks the union shape.
func (m DocumentMetadata) Validate() error {
	set := 0
	for _, ok := range []bool{m.Processing != nil, m.Ready != nil, m.Failed != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %d variants set", ErrInvalidMetadata, set)
	}
	switch m.Kind {
	case MetadataProcessing:
		if m.Processing != nil {
			return nil
		}
	case MetadataReady:
		if m.Ready != nil {
			return nil
		}
	case MetadataFailed:
		if m.Failed != nil {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMetadata, m.Kind)
	}
	return fmt.Errorf("%w: kind %q without matching variant", ErrInvalidMetadata, m.Kind)
}

// MatchesStatus reports whether the metadata variant belongs to status.
func (m DocumentMetadata) MatchesStatus(status DocumentStatus) bool {
	return string(m.Kind) == string(status)
}

// Value implements driver.Valuer so the union can be written to a JSON column.
func (m DocumentMetadata) Value() (driver.Value, error) {
	if m.Kind == "" {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *DocumentMetadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = DocumentMetadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan document metadata: unsupported type %T", src)
	}
	var out DocumentMetadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan document metadata: %w", err)
	}
	*m = out
	return nil
}
