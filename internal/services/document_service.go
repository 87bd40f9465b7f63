package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/chunker"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/models"
)

var ErrInvalidDocument = errors.New("invalid document")

// CreateDocumentRequest carries one document to ingest. Exactly one of Text,
// Pages, Sections or Data should be set.
type CreateDocumentRequest struct {
	Title            string
	Category         string
	FileType         string
	OriginalFileName string
	FileSize         int64

	Text     string
	Pages    []chunker.Page
	Sections []chunker.Section
	Data     []byte
}

func (r CreateDocumentRequest) hasContent() bool {
	return r.Text != "" || len(r.Pages) > 0 || len(r.Sections) > 0 || len(r.Data) > 0
}

// DocumentStatus is the externally reported state of one document.
type DocumentStatus struct {
	DocumentID      string                `json:"documentId"`
	Status          models.DocumentStatus `json:"status"`
	Stage           models.Stage          `json:"stage,omitempty"`
	ProgressPercent int                   `json:"progressPercent"`
	ChunkCount      int                   `json:"chunkCount,omitempty"`
	Error           string                `json:"error,omitempty"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

type DocumentService struct {
	store    core.VectorStore
	objects  core.ObjectClient
	status   core.StatusStore
	ingestor ingestion_engine.Ingestor
	logger   *slog.Logger
}

// NewDocumentService wires the document lifecycle. objects and status may be
// nil: uploads are then handed to the job in memory and status comes from the
// document row alone.
func NewDocumentService(store core.VectorStore, objects core.ObjectClient, status core.StatusStore, ing ingestion_engine.Ingestor, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		store:    store,
		objects:  objects,
		status:   status,
		ingestor: ing,
		logger:   logger.With("component", "documents"),
	}
}

// Create stores the document row at processing and schedules its ingestion.
// It returns as soon as the job is queued.
func (s *DocumentService) Create(ctx context.Context, req CreateDocumentRequest) (*models.Document, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidDocument)
	}
	if !req.hasContent() {
		return nil, fmt.Errorf("%w: no text, pages, sections or file", ErrInvalidDocument)
	}
	if req.FileType == "" {
		req.FileType = "text/plain"
	}
	if req.FileSize == 0 {
		req.FileSize = contentSize(req)
	}

	docID := uuid.NewString()
	src := ingestion_engine.Source{
		Text:        req.Text,
		Pages:       req.Pages,
		Sections:    req.Sections,
		ContentType: req.FileType,
	}

	if len(req.Data) > 0 {
		if s.objects != nil {
			key := objectKey(docID, req.OriginalFileName)
			if _, err := s.objects.UploadFile(ctx, key, bytes.NewReader(req.Data), req.FileType); err != nil {
				return nil, fmt.Errorf("upload %s: %w", key, err)
			}
			src.StorageKey = key
		} else {
			src.Data = req.Data
		}
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:               docID,
		Title:            req.Title,
		Category:         strings.TrimSpace(req.Category),
		FileType:         req.FileType,
		OriginalFileName: req.OriginalFileName,
		FileSize:         req.FileSize,
		StorageKey:       src.StorageKey,
		Status:           models.StatusProcessing,
		Metadata: models.NewProcessingMetadata(models.ProcessingMetadata{
			OriginalFileName: req.OriginalFileName,
			FileType:         req.FileType,
			FileSize:         req.FileSize,
			UploadedAt:       now,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		s.removeObject(ctx, src.StorageKey)
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.ingestor.Enqueue(ctx, ingestion_engine.Job{DocumentID: docID, Source: src}); err != nil {
		meta := models.NewFailedMetadata(string(models.StageQueued), err)
		if serr := s.store.SetStatus(context.WithoutCancel(ctx), docID, models.StatusFailed, meta); serr != nil {
			s.logger.Warn("could not mark unqueued document failed", "document_id", docID, "error", serr)
		}
		return nil, fmt.Errorf("enqueue %s: %w", docID, err)
	}

	s.logger.Info("document accepted", "document_id", docID, "title", doc.Title, "file_type", doc.FileType, "size", doc.FileSize)
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.store.GetDocumentByID(ctx, id)
}

func (s *DocumentService) List(ctx context.Context, category string) ([]models.Document, error) {
	return s.store.ListDocuments(ctx, strings.TrimSpace(category))
}

// Status reports the live job record while one exists, otherwise the state
// recorded on the document row. A live record that still claims progress for
// a document the row already finished is stale and ignored.
func (s *DocumentService) Status(ctx context.Context, id string) (*DocumentStatus, error) {
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.status != nil {
		live, err := s.status.Get(ctx, id)
		switch {
		case err == nil:
			if !doc.Status.IsTerminal() || live.Stage.IsTerminal() {
				return statusFromJob(doc, live), nil
			}
		case !errors.Is(err, core.ErrJobNotFound):
			s.logger.Warn("live status unavailable", "document_id", id, "error", err)
		}
	}
	return statusFromDocument(doc), nil
}

func statusFromJob(doc *models.Document, st *models.JobStatus) *DocumentStatus {
	out := &DocumentStatus{
		DocumentID:      doc.ID,
		Status:          models.StatusProcessing,
		Stage:           st.Stage,
		ProgressPercent: st.Progress,
		ChunkCount:      st.ChunkCount,
		Error:           st.Error,
		UpdatedAt:       st.UpdatedAt,
	}
	switch st.Stage {
	case models.StageCompleted:
		out.Status = models.StatusReady
	case models.StageFailed:
		out.Status = models.StatusFailed
		out.Stage = st.FailedStage
	}
	return out
}

func statusFromDocument(doc *models.Document) *DocumentStatus {
	out := &DocumentStatus{
		DocumentID: doc.ID,
		Status:     doc.Status,
		UpdatedAt:  doc.UpdatedAt,
	}
	switch doc.Status {
	case models.StatusReady:
		out.Stage = models.StageCompleted
		out.ProgressPercent = 100
		out.ChunkCount = doc.ChunkCount
	case models.StatusFailed:
		if f := doc.Metadata.Failed; f != nil {
			out.Stage = models.Stage(f.Stage)
			out.ProgressPercent = out.Stage.Percent()
			out.Error = f.Error
		}
	default:
		out.Stage = models.StageQueued
	}
	return out
}

// Cancel stops the ingestion of a processing document. A document with no
// running job is marked failed directly.
func (s *DocumentService) Cancel(ctx context.Context, id string) error {
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", core.ErrTerminalStatus, id, doc.Status)
	}
	if s.ingestor.Cancel(id) {
		s.logger.Info("ingestion canceled", "document_id", id)
		return nil
	}
	meta := models.NewFailedMetadata(string(models.StageQueued), context.Canceled)
	return s.store.SetStatus(ctx, id, models.StatusFailed, meta)
}

// Delete cancels any running job, then removes the row, its chunks, the raw
// upload and the live status.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	s.ingestor.Cancel(id)

	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.removeObject(ctx, doc.StorageKey)
	if s.status != nil {
		if err := s.status.Delete(ctx, id); err != nil {
			s.logger.Warn("status not removed", "document_id", id, "error", err)
		}
	}
	s.logger.Info("document deleted", "document_id", id)
	return nil
}

func (s *DocumentService) removeObject(ctx context.Context, key string) {
	if key == "" || s.objects == nil {
		return
	}
	if err := s.objects.DeleteFile(ctx, key); err != nil {
		s.logger.Warn("object not removed", "key", key, "error", err)
	}
}

func contentSize(req CreateDocumentRequest) int64 {
	n := len(req.Data) + len(req.Text)
	for _, p := range req.Pages {
		n += len(p.Text)
	}
	for _, sec := range req.Sections {
		n += len(sec.Text)
	}
	return int64(n)
}

// objectKey creates a consistent S3 key layout.
func objectKey(docID, filename string) string {
	filename = path.Base(strings.TrimSpace(filename))
	if filename == "." || filename == "/" || filename == "" {
		filename = "source"
	}
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("documents", docID, filename)
}
