package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/metrics"
	"github.com/markdave123-py/docindex/internal/models"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64

	resumeRetryInterval = 25 * time.Millisecond
)

// Ingestor accepts ingestion jobs without blocking the caller.
type Ingestor interface {
	Enqueue(ctx context.Context, job Job) error
	Cancel(documentID string) bool
}

// RunnerConfig tunes the Runner. Zero values select the defaults.
type RunnerConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type jobHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Runner feeds a bounded job queue into an ants pool. The pool size is the
// ceiling on documents ingested at once across the process.
type Runner struct {
	orch       *Orchestrator
	pool       *ants.Pool
	jobs       chan Job
	jobTimeout time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger

	base     context.Context
	stopBase context.CancelCauseFunc

	mu     sync.Mutex
	active map[string]*jobHandle
	closed bool

	wg         sync.WaitGroup
	dispatched chan struct{}
}

var _ Ingestor = (*Runner)(nil)

func NewRunner(orch *Orchestrator, cfg RunnerConfig) (*Runner, error) {
	if orch == nil {
		return nil, errors.New("runner requires an orchestrator")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	base, stop := context.WithCancelCause(context.Background())
	r := &Runner{
		orch:       orch,
		pool:       pool,
		jobs:       make(chan Job, cfg.QueueSize),
		jobTimeout: cfg.JobTimeout,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "runner"),
		base:       base,
		stopBase:   stop,
		active:     make(map[string]*jobHandle),
		dispatched: make(chan struct{}),
	}
	go r.dispatch()
	return r, nil
}

// dispatch hands queued jobs to the pool. Submit blocks while every worker
// is busy, which leaves the remaining jobs waiting in the channel.
func (r *Runner) dispatch() {
	defer close(r.dispatched)
	for job := range r.jobs {
		if err := r.pool.Submit(func() { r.run(job) }); err != nil {
			r.logger.Error("submit failed", "document_id", job.DocumentID, "error", err)
			r.finish(job.DocumentID)
			r.wg.Done()
		}
	}
}

// Enqueue schedules job and returns immediately. A full queue is reported
// as ErrQueueFull rather than blocking the caller.
func (r *Runner) Enqueue(ctx context.Context, job Job) error {
	if job.DocumentID == "" {
		return errors.New("job without document id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	if _, ok := r.active[job.DocumentID]; ok {
		return fmt.Errorf("%w: %s", ErrJobActive, job.DocumentID)
	}

	jctx, cancel := context.WithCancel(r.base)
	r.wg.Add(1)
	select {
	case r.jobs <- job:
	default:
		r.wg.Done()
		cancel()
		return ErrQueueFull
	}
	r.active[job.DocumentID] = &jobHandle{ctx: jctx, cancel: cancel}
	r.metrics.JobQueued()

	if !job.Resume {
		newTracker(r.orch.status, job.DocumentID, r.logger).enter(ctx, models.StageQueued)
	}
	r.logger.Debug("job queued", "document_id", job.DocumentID, "resume", job.Resume)
	return nil
}

func (r *Runner) run(job Job) {
	defer r.wg.Done()
	r.metrics.JobStarted()
	defer r.metrics.JobDone()

	r.mu.Lock()
	h := r.active[job.DocumentID]
	r.mu.Unlock()
	defer r.finish(job.DocumentID)

	ctx := h.ctx
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}

	_, err := r.orch.Process(ctx, job)
	switch {
	case err == nil:
		r.metrics.JobFinished("completed")
	case errors.Is(err, context.Canceled):
		r.metrics.JobFinished("canceled")
	default:
		r.metrics.JobFinished("failed")
	}
}

func (r *Runner) finish(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.active[documentID]; ok {
		h.cancel()
		delete(r.active, documentID)
	}
}

// Cancel stops a queued or running job. The job then fails at its current
// stage. It reports whether the job was known.
func (r *Runner) Cancel(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[documentID]
	if ok {
		h.cancel()
	}
	return ok
}

// Active reports whether documentID is queued or running.
func (r *Runner) Active(documentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[documentID]
	return ok
}

// Resume re-submits jobs that were still in flight when the process last
// stopped: active entries in the status store and documents still marked
// processing in the vector store. It waits for queue space under ctx, so a
// backlog larger than the queue is resubmitted as workers free up.
func (r *Runner) Resume(ctx context.Context) (int, error) {
	store, status := r.orch.store, r.orch.status
	seen := make(map[string]bool)
	var ids []string

	if status != nil {
		active, err := status.ListActive(ctx)
		if err != nil {
			return 0, fmt.Errorf("list active jobs: %w", err)
		}
		for _, st := range active {
			seen[st.DocumentID] = true
			ids = append(ids, st.DocumentID)
		}
	}

	docs, err := store.ListDocuments(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	for _, d := range docs {
		if d.Status == models.StatusProcessing && !seen[d.ID] {
			ids = append(ids, d.ID)
		}
	}

	n := 0
	for _, id := range ids {
		doc, err := store.GetDocumentByID(ctx, id)
		if errors.Is(err, core.ErrDocumentNotFound) {
			if status != nil {
				_ = status.Delete(ctx, id)
			}
			continue
		}
		if err != nil {
			return n, err
		}
		if doc.Status.IsTerminal() {
			r.settle(ctx, doc)
			continue
		}

		job := Job{
			DocumentID: doc.ID,
			Source:     Source{StorageKey: doc.StorageKey, ContentType: doc.FileType},
			Resume:     true,
		}
		if err := r.enqueueWait(ctx, job); err != nil {
			if errors.Is(err, ErrJobActive) {
				continue
			}
			return n, err
		}
		n++
	}
	if n > 0 {
		r.logger.Info("resumed ingestion jobs", "count", n)
	}
	return n, nil
}

// enqueueWait retries Enqueue while the queue is full. Documents left over
// when ctx ends stay processing for the next Resume.
func (r *Runner) enqueueWait(ctx context.Context, job Job) error {
	t := time.NewTicker(resumeRetryInterval)
	defer t.Stop()
	for {
		err := r.Enqueue(ctx, job)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-t.C:
		}
	}
}

// settle closes a stale status entry for a document that already finished.
func (r *Runner) settle(ctx context.Context, doc *models.Document) {
	tr := newTracker(r.orch.status, doc.ID, r.logger)
	if doc.Status == models.StatusReady {
		tr.complete(ctx, doc.ChunkCount)
		return
	}
	stage := models.StageQueued
	msg := "failed"
	if f := doc.Metadata.Failed; f != nil {
		stage, msg = models.Stage(f.Stage), f.Error
	}
	tr.fail(ctx, stage, errors.New(msg))
}

// Close stops accepting jobs and waits for queued and running ones. When ctx
// ends first, running jobs are interrupted and left for Resume.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-r.dispatched
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		r.stopBase(ErrRunnerClosed)
		<-done
	}
	r.stopBase(ErrRunnerClosed)
	r.pool.Release()
	return err
}
