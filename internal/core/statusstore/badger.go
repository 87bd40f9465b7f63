// Package statusstore keeps live ingestion job state and stage checkpoints in
// BadgerDB. Every entry carries a TTL so finished jobs age out on their own.
package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

// DefaultTTL is how long job entries and checkpoints survive their last write.
const DefaultTTL = 24 * time.Hour

const (
	jobPrefix        = "job/"
	checkpointPrefix = "ckpt/"
	maxConflictRetry = 5

	// maxInMemoryValue stays under Badger's 1 MiB value ceiling for
	// in-memory databases.
	maxInMemoryValue = 1<<20 - 16<<10
)

// ErrCheckpointTooLarge is returned when a checkpoint cannot fit in an
// in-memory store even without its vectors.
var ErrCheckpointTooLarge = errors.New("checkpoint too large for in-memory status store")

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level.
func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// Store implements core.StatusStore.
type Store struct {
	db       *badger.DB
	ttl      time.Duration
	inMemory bool
	now      func() time.Time
}

var _ core.StatusStore = (*Store)(nil)

// Open opens the store in dir, or in memory when dir is empty.
func Open(dir string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create status dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "status-store")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	return &Store{db: db, ttl: ttl, inMemory: dir == "", now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RunGC reclaims value log space; call it periodically for on-disk stores.
func (s *Store) RunGC() {
	if s.inMemory {
		return
	}
	for s.db.RunValueLogGC(0.5) == nil {
	}
}

func jobKey(id string) []byte        { return []byte(jobPrefix + id) }
func checkpointKey(id string) []byte { return []byte(checkpointPrefix + id) }

func (s *Store) setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(key, b).WithTTL(s.ttl))
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetry {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// Put stores st. The stage may only move forward, a terminal job is never
// updated, and progress never goes down within a stage.
func (s *Store) Put(ctx context.Context, st models.JobStatus) error {
	if st.DocumentID == "" {
		return errors.New("job status without document id")
	}
	if st.Stage.Rank() < 0 {
		return fmt.Errorf("unknown stage %q", st.Stage)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		var prev models.JobStatus
		err := getJSON(txn, jobKey(st.DocumentID), &prev)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if st.StartedAt.IsZero() {
				st.StartedAt = s.now()
			}
		case err != nil:
			return err
		default:
			if prev.Stage.IsTerminal() {
				return fmt.Errorf("%w: %s is %s", core.ErrJobTerminal, st.DocumentID, prev.Stage)
			}
			if st.Stage.Rank() < prev.Stage.Rank() {
				return fmt.Errorf("%w: %s -> %s", core.ErrStageRegression, prev.Stage, st.Stage)
			}
			if st.Stage == prev.Stage && st.Progress < prev.Progress {
				st.Progress = prev.Progress
			}
			if !prev.StartedAt.IsZero() {
				st.StartedAt = prev.StartedAt
			}
		}
		st.UpdatedAt = s.now()
		return s.setJSON(txn, jobKey(st.DocumentID), st)
	})
}

func (s *Store) Get(_ context.Context, documentID string) (*models.JobStatus, error) {
	var st models.JobStatus
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, jobKey(documentID), &st)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ListActive returns jobs that have not reached a terminal stage, oldest first.
func (s *Store) ListActive(_ context.Context) ([]models.JobStatus, error) {
	var out []models.JobStatus
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(jobPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var st models.JobStatus
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return err
			}
			if !st.Stage.IsTerminal() {
				out = append(out, st)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Delete drops the job entry and its checkpoint. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, documentID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(jobKey(documentID)); err != nil {
			return err
		}
		return txn.Delete(checkpointKey(documentID))
	})
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	if cp.DocumentID == "" {
		return errors.New("checkpoint without document id")
	}
	cp.SavedAt = s.now()
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if s.inMemory && len(b) > maxInMemoryValue {
		// Without vectors a resume re-embeds from the saved chunks.
		cp.Vectors = nil
		if b, err = json.Marshal(cp); err != nil {
			return err
		}
		if len(b) > maxInMemoryValue {
			return fmt.Errorf("%w: %s is %d bytes", ErrCheckpointTooLarge, cp.DocumentID, len(b))
		}
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(checkpointKey(cp.DocumentID), b).WithTTL(s.ttl))
	})
}

func (s *Store) LoadCheckpoint(_ context.Context, documentID string) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, checkpointKey(documentID), &cp)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrCheckpointNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
