package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

var pgDialect = Dialect{
	Placeholder: postgresPlaceholder,
	Vector:      func(v []float32) any { return pgvector.NewVector(v) },
}

type DatabaseClient struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ core.VectorStore = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn, err := withSSL(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, logger: slog.Default().With("component", "pgvector-store")}, nil
}

// withSSL appends verify-ca parameters when a root certificate is configured.
func withSSL(databaseURL, certPath string) (string, error) {
	if certPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(certPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", certPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *DatabaseClient) Name() string { return "postgres" }

const documentColumns = `id, title, category, file_type, original_file_name, file_size, storage_key,
	chunk_count, status, metadata, created_at, updated_at`

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.Status == "" {
		doc.Status = models.StatusProcessing
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt

	const q = `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.Title, doc.Category, doc.FileType, doc.OriginalFileName, doc.FileSize, doc.StorageKey,
		doc.ChunkCount, doc.Status, doc.Metadata, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*models.Document, error) {
	var d models.Document
	err := s.Scan(
		&d.ID, &d.Title, &d.Category, &d.FileType, &d.OriginalFileName, &d.FileSize, &d.StorageKey,
		&d.ChunkCount, &d.Status, &d.Metadata, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	if err := checkDocumentID(id); err != nil {
		return nil, err
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context, category string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if category != "" {
		q += ` WHERE category = $1`
		args = append(args, category)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, q, args...)
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

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	if err := checkDocumentID(id); err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

// SetStatus only updates rows still processing, so a terminal status is
// never overwritten even by concurrent writers.
func (c *DatabaseClient) SetStatus(ctx context.Context, id string, status models.DocumentStatus, meta models.DocumentMetadata) error {
	if err := ValidateTransition(status, meta); err != nil {
		return err
	}
	if err := checkDocumentID(id); err != nil {
		return err
	}

	const q = `
		UPDATE documents
		SET status = $2, metadata = $3, chunk_count = $4, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := c.db.ExecContext(ctx, q, id, status, meta, ReadyChunkCount(meta))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	var current models.DocumentStatus
	err = c.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", core.ErrTerminalStatus, id, current)
}

// InsertChunks writes chunks in multi-row batches inside one transaction.
func (c *DatabaseClient) InsertChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) (int, error) {
	if err := checkDocumentID(documentID); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	inserted := 0
	for _, b := range Batches(len(chunks), InsertBatchSize) {
		q, args := BuildChunkInsert(pgDialect, documentID, chunks[b[0]:b[1]], now)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("insert chunks [%d,%d): %w", b[0], b[1], err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chunks: %w", err)
	}
	c.logger.Debug("chunks inserted", "document_id", documentID, "count", inserted)
	return inserted, nil
}

func (c *DatabaseClient) CountChunks(ctx context.Context, documentID string) (int, error) {
	if err := checkDocumentID(documentID); err != nil {
		return 0, err
	}
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// buildSearchQuery ranks chunks of ready documents by cosine distance.
// similarity = 1 - (embedding <=> query). The scan is exact: the tie-break
// keys keep ranking deterministic, and an approximate index could drop
// chunks above the threshold.
func buildSearchQuery(vec []float32, threshold float64, limit int, category string) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT c.content, d.title, d.id, d.category, c.chunk_index, c.page_number, c.section_title,
		       1 - (c.embedding <=> $1) AS similarity
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = 'ready'
		  AND 1 - (c.embedding <=> $1) > $2`)
	args := []any{pgvector.NewVector(vec), threshold, limit}
	if category != "" {
		sb.WriteString(`
		  AND d.category = $4`)
		args = append(args, category)
	}
	sb.WriteString(`
		ORDER BY c.embedding <=> $1 ASC, d.id, c.chunk_index
		LIMIT $3`)
	return sb.String(), args
}

func (c *DatabaseClient) Search(ctx context.Context, vec []float32, opts models.SearchOptions) ([]models.SearchResult, error) {
	opts = opts.WithDefaults()
	q, args := buildSearchQuery(vec, *opts.Threshold, opts.Limit, opts.Category)
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	out := []models.SearchResult{}
	for rows.Next() {
		var (
			r       models.SearchResult
			page    sql.NullInt32
			section sql.NullString
		)
		if err := rows.Scan(&r.Content, &r.DocumentTitle, &r.DocumentID, &r.Category, &r.ChunkIndex,
			&page, &section, &r.Similarity); err != nil {
			return nil, err
		}
		if page.Valid {
			p := int(page.Int32)
			r.PageNumber = &p
		}
		if section.Valid {
			s := section.String
			r.SectionTitle = &s
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
