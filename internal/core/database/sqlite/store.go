// Package sqlite is a single-file vector store for local runs and tests.
// Embeddings are stored as little-endian float32 blobs and ranked in Go.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/markdave123-py/docindex/internal/core"
	db "github.com/markdave123-py/docindex/internal/core/database"
	"github.com/markdave123-py/docindex/internal/models"
)

//go:embed schema.sql
var schema string

const schemaVersion = 1

var dialect = db.Dialect{
	Placeholder: db.QuestionPlaceholder,
	Vector:      func(v []float32) any { return encodeVector(v) },
}

// Store implements core.VectorStore on SQLite.
type Store struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
}

var _ core.VectorStore = (*Store)(nil)

// Open opens (or creates) the database at path. ":memory:" gives a private
// in-memory database.
func Open(ctx context.Context, path string, embedDim int) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" && path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = path
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if dsn[0] != ':' {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, path: path, logger: slog.Default().With("component", "sqlite-store")}
	if err := s.migrate(ctx, embedDim); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context, embedDim int) error {
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return err
	}
	var dim int
	err := s.conn.QueryRowContext(ctx, `SELECT embed_dim FROM docindex_meta WHERE version = ?`, schemaVersion).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.conn.ExecContext(ctx, `INSERT INTO docindex_meta (version, embed_dim) VALUES (?, ?)`, schemaVersion, embedDim)
		return err
	}
	if err != nil {
		return err
	}
	if dim != embedDim {
		return fmt.Errorf("database was created for embedding dimension %d, configured %d", dim, embedDim)
	}
	return nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.conn.PingContext(ctx) }

func (s *Store) Name() string { return "sqlite" }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

const documentColumns = `id, title, category, file_type, original_file_name, file_size, storage_key,
	chunk_count, status, metadata, created_at, updated_at`

func (s *Store) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.Status == "" {
		doc.Status = models.StatusProcessing
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.UpdatedAt = doc.CreatedAt

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Category, doc.FileType, doc.OriginalFileName, doc.FileSize, doc.StorageKey,
		doc.ChunkCount, string(doc.Status), doc.Metadata, doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var (
		d                models.Document
		status           string
		created, updated int64
	)
	err := r.Scan(&d.ID, &d.Title, &d.Category, &d.FileType, &d.OriginalFileName, &d.FileSize, &d.StorageKey,
		&d.ChunkCount, &status, &d.Metadata, &created, &updated)
	if err != nil {
		return nil, err
	}
	d.Status = models.DocumentStatus(status)
	d.CreatedAt = time.Unix(0, created).UTC()
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return &d, nil
}

func (s *Store) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	d, err := scanDocument(s.conn.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return d, err
}

func (s *Store) ListDocuments(ctx context.Context, category string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if category != "" {
		q += ` WHERE category = ?`
		args = append(args, category)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status models.DocumentStatus, meta models.DocumentMetadata) error {
	if err := db.ValidateTransition(status, meta); err != nil {
		return err
	}
	res, err := s.conn.ExecContext(ctx, `
		UPDATE documents SET status = ?, metadata = ?, chunk_count = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		string(status), meta, db.ReadyChunkCount(meta), time.Now().UTC().UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.conn.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", core.ErrTerminalStatus, id, current)
}

func (s *Store) InsertChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	inserted := 0
	for _, b := range db.Batches(len(chunks), db.InsertBatchSize) {
		q, args := db.BuildChunkInsert(dialect, documentID, chunks[b[0]:b[1]], now)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert chunks [%d,%d): %w", b[0], b[1], err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chunks: %w", err)
	}
	s.logger.Debug("chunks inserted", "document_id", documentID, "count", inserted)
	return inserted, nil
}

func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

// Search scans every chunk of the ready documents in scope. It is linear in
// the corpus size.
func (s *Store) Search(ctx context.Context, vec []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	opts = opts.WithDefaults()
	var sb strings.Builder
	sb.WriteString(`
		SELECT c.content, d.title, d.id, d.category, c.chunk_index, c.page_number, c.section_title, c.embedding
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'ready'`)
	var args []any
	if opts.Category != "" {
		sb.WriteString(` AND d.category = ?`)
		args = append(args, opts.Category)
	}

	rows, err := s.conn.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	threshold := *opts.Threshold
	out := []models.SearchResult{}
	for rows.Next() {
		var (
			r       models.SearchResult
			page    sql.NullInt64
			section sql.NullString
			blob    []byte
		)
		if err := rows.Scan(&r.Content, &r.DocumentTitle, &r.DocumentID, &r.Category, &r.ChunkIndex,
			&page, &section, &blob); err != nil {
			return nil, err
		}
		r.Similarity = CosineSimilarity(vec, decodeVector(blob))
		if r.Similarity <= threshold {
			continue
		}
		if page.Valid {
			p := int(page.Int64)
			r.PageNumber = &p
		}
		if section.Valid {
			t := section.String
			r.SectionTitle = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// CosineSimilarity returns 0 when either vector has zero norm or the lengths
// differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
