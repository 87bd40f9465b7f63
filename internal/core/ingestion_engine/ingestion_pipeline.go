package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/chunker"
	"github.com/markdave123-py/docindex/internal/core/embedding"
	"github.com/markdave123-py/docindex/internal/metrics"
	"github.com/markdave123-py/docindex/internal/models"
)

const finalizeTimeout = 30 * time.Second

// Source is the raw input of a job. The first non-empty field in the order
// Sections, Pages, Text, Data, StorageKey is used.
type Source struct {
	Text        string
	Pages       []chunker.Page
	Sections    []chunker.Section
	Data        []byte
	ContentType string
	StorageKey  string
}

func (s Source) empty() bool {
	return s.Text == "" && len(s.Pages) == 0 && len(s.Sections) == 0 && len(s.Data) == 0 && s.StorageKey == ""
}

// Job asks for one document to be ingested. Resume jobs start from the last
// checkpoint when one exists.
type Job struct {
	DocumentID string
	Source     Source
	Resume     bool
}

// Result describes a completed ingestion.
type Result struct {
	DocumentID string
	ChunkCount int
	Duration   time.Duration
}

// Orchestrator drives one document through extract, chunk, embed and save.
type Orchestrator struct {
	store     core.VectorStore
	extractor core.DocumentExtractor
	chunker   *chunker.Chunker
	batcher   *embedding.Batcher
	objects   core.ObjectClient
	status    core.StatusStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type OrchestratorOption func(*Orchestrator)

// WithObjectClient lets jobs read their source from object storage.
func WithObjectClient(c core.ObjectClient) OrchestratorOption {
	return func(o *Orchestrator) { o.objects = c }
}

// WithStatusStore publishes stage progress and checkpoints.
func WithStatusStore(s core.StatusStore) OrchestratorOption {
	return func(o *Orchestrator) { o.status = s }
}

// WithOrchestratorMetrics records per-stage durations on m.
func WithOrchestratorMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(store core.VectorStore, extractor core.DocumentExtractor, c *chunker.Chunker, b *embedding.Batcher, opts ...OrchestratorOption) (*Orchestrator, error) {
	if store == nil || extractor == nil || c == nil || b == nil {
		return nil, errors.New("orchestrator requires a store, an extractor, a chunker and a batcher")
	}
	o := &Orchestrator{store: store, extractor: extractor, chunker: c, batcher: b, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	return o, nil
}

// Process runs the job to a terminal state. On failure the document is
// marked failed and the returned error is a *StageError.
func (o *Orchestrator) Process(ctx context.Context, job Job) (res *Result, err error) {
	start := time.Now()
	log := o.logger.With("document_id", job.DocumentID)
	tr := newTracker(o.status, job.DocumentID, log)

	stage := models.StageExtracting
	defer func() {
		if err != nil {
			err = o.fail(ctx, tr, log, job.DocumentID, stage, err)
		}
	}()

	var (
		chunks  []chunker.Chunk
		vectors [][]float32
	)
	if job.Resume {
		if cp := o.loadCheckpoint(ctx, job.DocumentID, log); cp != nil {
			chunks = fromCheckpoint(cp.Chunks)
			if cp.Stage == models.StageEmbedding && len(cp.Vectors) == len(chunks) {
				vectors = cp.Vectors
			}
			log.Info("resuming from checkpoint", "stage", cp.Stage, "chunks", len(chunks))
		}
	}

	if len(chunks) == 0 {
		if job.Resume && job.Source.empty() {
			return nil, ErrInterrupted
		}

		tr.enter(ctx, stage)
		t := time.Now()
		var x extracted
		x, err = o.extract(ctx, job.Source)
		if err != nil {
			return nil, err
		}
		if x.empty() {
			return nil, ErrEmptyDocument
		}
		o.metrics.StageDone(string(stage), time.Since(t))

		stage = models.StageChunking
		tr.enter(ctx, stage)
		t = time.Now()
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		chunks = chunkDocument(o.chunker, x)
		if len(chunks) == 0 {
			return nil, ErrNoChunks
		}
		o.metrics.StageDone(string(stage), time.Since(t))
		o.saveCheckpoint(ctx, log, models.Checkpoint{DocumentID: job.DocumentID, Stage: stage, Chunks: toCheckpoint(chunks)})
		log.Debug("document chunked", "chunks", len(chunks))
	}

	if vectors == nil {
		stage = models.StageEmbedding
		tr.embedding(ctx, models.EmbeddingStartPercent, len(chunks))
		t := time.Now()
		vectors, err = o.batcher.EmbedBatch(ctx, chunkTexts(chunks), func(p embedding.Progress) {
			tr.embedding(ctx, embeddingPercent(p.Percentage), len(chunks))
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(chunks) {
			return nil, fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
		}
		o.metrics.StageDone(string(stage), time.Since(t))
		o.saveCheckpoint(ctx, log, models.Checkpoint{
			DocumentID: job.DocumentID, Stage: stage, Chunks: toCheckpoint(chunks), Vectors: vectors,
		})
	}

	stage = models.StageSaving
	tr.enter(ctx, stage)
	t := time.Now()
	if err = o.save(ctx, job.DocumentID, chunks, vectors); err != nil {
		return nil, err
	}

	stats, tokens := chunkStats(chunks)
	meta := models.NewReadyMetadata(models.ReadyMetadata{
		ChunkCount:           len(chunks),
		ChunkSizeStats:       stats,
		EstimatedTokenTotal:  tokens,
		ProcessingDurationMs: time.Since(start).Milliseconds(),
	})
	if err = o.store.SetStatus(ctx, job.DocumentID, models.StatusReady, meta); err != nil {
		return nil, err
	}
	o.metrics.StageDone(string(stage), time.Since(t))

	tr.complete(ctx, len(chunks))
	res = &Result{DocumentID: job.DocumentID, ChunkCount: len(chunks), Duration: time.Since(start)}
	log.Info("document ready", "chunks", res.ChunkCount, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

func (o *Orchestrator) extract(ctx context.Context, src Source) (extracted, error) {
	switch {
	case len(src.Sections) > 0:
		x := extracted{sections: make([]chunker.Section, len(src.Sections))}
		texts := make([]string, 0, len(src.Sections))
		for i, s := range src.Sections {
			x.sections[i] = chunker.Section{Title: s.Title, Text: cleanText(s.Text)}
			texts = append(texts, x.sections[i].Text)
		}
		x.text = strings.TrimSpace(strings.Join(texts, "\n\n"))
		return x, nil
	case len(src.Pages) > 0:
		x := extracted{pages: make([]chunker.Page, len(src.Pages))}
		texts := make([]string, 0, len(src.Pages))
		for i, p := range src.Pages {
			x.pages[i] = chunker.Page{Number: p.Number, Text: cleanText(p.Text)}
			texts = append(texts, x.pages[i].Text)
		}
		x.text = strings.TrimSpace(strings.Join(texts, "\n\n"))
		return x, nil
	case src.Text != "":
		return extracted{text: cleanText(src.Text)}, nil
	}

	data := src.Data
	if len(data) == 0 && src.StorageKey != "" {
		if o.objects == nil {
			return extracted{}, fmt.Errorf("no object storage configured to read %q", src.StorageKey)
		}
		var err error
		if data, err = o.objects.GetFile(ctx, src.StorageKey); err != nil {
			return extracted{}, err
		}
	}
	if len(data) == 0 {
		return extracted{}, nil
	}

	out, err := o.extractor.Extract(ctx, data, src.ContentType)
	if err != nil {
		return extracted{}, err
	}
	x := extracted{text: out.Text}
	for _, p := range out.Pages {
		x.pages = append(x.pages, chunker.Page{Number: p.Number, Text: p.Text})
	}
	return x, nil
}

// save inserts the rows unless an earlier attempt already committed them, then
// checks the stored count.
func (o *Orchestrator) save(ctx context.Context, documentID string, chunks []chunker.Chunk, vectors [][]float32) error {
	want := len(chunks)
	have, err := o.store.CountChunks(ctx, documentID)
	if err != nil {
		return err
	}
	if have == 0 {
		n, err := o.store.InsertChunks(ctx, documentID, toRows(chunks, vectors))
		if err != nil {
			return err
		}
		if n != want {
			return fmt.Errorf("%w: inserted %d of %d", ErrChunkCount, n, want)
		}
		if have, err = o.store.CountChunks(ctx, documentID); err != nil {
			return err
		}
	}
	if have != want {
		return fmt.Errorf("%w: stored %d, expected %d", ErrChunkCount, have, want)
	}
	return nil
}

// fail records the failure on the document and the tracker. Both writes
// outlive the job context. Jobs stopped by a runner shutdown are left
// untouched so they can be resumed.
func (o *Orchestrator) fail(ctx context.Context, tr *tracker, log *slog.Logger, documentID string, stage models.Stage, cause error) error {
	serr := &StageError{Stage: stage, Err: cause}
	if errors.Is(context.Cause(ctx), ErrRunnerClosed) {
		log.Info("job interrupted by shutdown", "stage", stage)
		return serr
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	meta := models.NewFailedMetadata(string(stage), cause)
	if err := o.store.SetStatus(fctx, documentID, models.StatusFailed, meta); err != nil {
		log.Warn("could not mark document failed", "error", err)
	}
	tr.fail(fctx, stage, cause)
	log.Error("ingestion failed", "stage", stage, "error", cause)
	return serr
}

func (o *Orchestrator) loadCheckpoint(ctx context.Context, documentID string, log *slog.Logger) *models.Checkpoint {
	if o.status == nil {
		return nil
	}
	cp, err := o.status.LoadCheckpoint(ctx, documentID)
	if err != nil {
		if !errors.Is(err, core.ErrCheckpointNotFound) {
			log.Warn("checkpoint unreadable", "error", err)
		}
		return nil
	}
	return cp
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, log *slog.Logger, cp models.Checkpoint) {
	if o.status == nil {
		return
	}
	if err := o.status.SaveCheckpoint(ctx, cp); err != nil {
		log.Warn("checkpoint not saved", "stage", cp.Stage, "error", err)
	}
}
