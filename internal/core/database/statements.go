package db

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

// InsertBatchSize is the number of chunk rows written per INSERT statement.
const InsertBatchSize = 100

// chunkColumns must stay in sync with the values appended in BuildChunkInsert.
var chunkColumns = []string{
	"id", "document_id", "chunk_index", "content", "page_number",
	"section_title", "embedding", "token_count", "created_at", "updated_at",
}

// Dialect captures what differs between the Postgres and SQLite stores when
// building statements.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Vector converts an embedding into a bind value for the vector column.
	Vector func(v []float32) any
}

// postgresPlaceholder binds $n parameters.
func postgresPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// QuestionPlaceholder binds positional ? parameters.
func QuestionPlaceholder(int) string { return "?" }

// BuildChunkInsert renders one multi-row INSERT for rows. Rows without an ID
// get a fresh UUID; the IDs are written back into rows.
func BuildChunkInsert(d Dialect, documentID string, rows []models.DocumentChunk, now time.Time) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO document_chunks (")
	sb.WriteString(strings.Join(chunkColumns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(chunkColumns))
	n := 0
	for i := range rows {
		r := &rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.DocumentID = documentID
		r.CreatedAt, r.UpdatedAt = now, now

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range chunkColumns {
			if c > 0 {
				sb.WriteString(", ")
			}
			n++
			sb.WriteString(d.Placeholder(n))
		}
		sb.WriteByte(')')

		args = append(args,
			r.ID, r.DocumentID, r.ChunkIndex, r.Content, nullableInt(r.PageNumber),
			nullableString(r.SectionTitle), d.Vector(r.Embedding), r.TokenCount, r.CreatedAt, r.UpdatedAt,
		)
	}
	return sb.String(), args
}

// ValidateTransition checks a requested status change before it reaches the
// database: only terminal statuses may be set and the metadata variant must
// match the status.
func ValidateTransition(status models.DocumentStatus, meta models.DocumentMetadata) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: cannot set status %q", core.ErrInvalidTransition, status)
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	if !meta.MatchesStatus(status) {
		return fmt.Errorf("%w: %s metadata for status %q", core.ErrInvalidTransition, meta.Kind, status)
	}
	return nil
}

// ReadyChunkCount is the chunk count recorded with a status change.
func ReadyChunkCount(meta models.DocumentMetadata) int {
	if meta.Ready != nil {
		return meta.Ready.ChunkCount
	}
	return 0
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// Batches splits n rows into [start,end) windows of at most size rows.
func Batches(n, size int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// checkDocumentID reports ids that cannot name a row of the uuid-keyed
// Postgres tables as not found.
func checkDocumentID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}
