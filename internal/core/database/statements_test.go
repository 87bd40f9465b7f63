package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

func TestBuildChunkInsert(t *testing.T) {
	page := 3
	rows := []models.DocumentChunk{
		{ChunkIndex: 0, Content: "a", Embedding: []float32{1}, PageNumber: &page},
		{ID: "fixed", ChunkIndex: 1, Content: "b", Embedding: []float32{2}},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	q, args := BuildChunkInsert(pgDialect, "doc-1", rows, now)

	assert.True(t, strings.HasPrefix(q, "INSERT INTO document_chunks (id, document_id, chunk_index"))
	assert.Contains(t, q, "($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)")
	assert.Contains(t, q, "($11, $12, $13, $14, $15, $16, $17, $18, $19, $20)")
	require.Len(t, args, 20)

	assert.NotEmpty(t, rows[0].ID)
	assert.Equal(t, "fixed", rows[1].ID)
	assert.Equal(t, "doc-1", rows[0].DocumentID)
	assert.Equal(t, now, rows[1].CreatedAt)

	assert.Equal(t, 3, args[4])
	assert.Nil(t, args[5])
	assert.Nil(t, args[14], "missing page number binds NULL")
}

func TestBuildChunkInsert_QuestionPlaceholders(t *testing.T) {
	d := Dialect{Placeholder: QuestionPlaceholder, Vector: func(v []float32) any { return len(v) }}
	q, args := BuildChunkInsert(d, "doc", []models.DocumentChunk{{Embedding: []float32{1, 2}}}, time.Now())
	assert.Contains(t, q, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	assert.Equal(t, 2, args[6])
}

func TestValidateTransition(t *testing.T) {
	ready := models.NewReadyMetadata(models.ReadyMetadata{ChunkCount: 2})
	failed := models.NewFailedMetadata("embedding", assert.AnError)

	assert.NoError(t, ValidateTransition(models.StatusReady, ready))
	assert.NoError(t, ValidateTransition(models.StatusFailed, failed))

	assert.ErrorIs(t, ValidateTransition(models.StatusProcessing, ready), core.ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(models.StatusReady, failed), core.ErrInvalidTransition)
	assert.ErrorIs(t, ValidateTransition(models.StatusReady, models.DocumentMetadata{Kind: models.MetadataReady}), models.ErrInvalidMetadata)
}

func TestReadyChunkCount(t *testing.T) {
	assert.Equal(t, 7, ReadyChunkCount(models.NewReadyMetadata(models.ReadyMetadata{ChunkCount: 7})))
	assert.Zero(t, ReadyChunkCount(models.NewFailedMetadata("saving", nil)))
}

func TestBatches(t *testing.T) {
	assert.Nil(t, Batches(0, 100))
	assert.Equal(t, [][2]int{{0, 100}, {100, 200}, {200, 250}}, Batches(250, 100))
	assert.Equal(t, [][2]int{{0, 3}}, Batches(3, 100))
}

func TestBuildSearchQuery(t *testing.T) {
	q, args := buildSearchQuery([]float32{1, 0}, 0.5, 10, "")
	assert.Contains(t, q, "d.status = 'ready'")
	assert.Contains(t, q, "> $2")
	assert.NotContains(t, q, "$4")
	assert.Len(t, args, 3)
	assert.Equal(t, 0.5, args[1])
	assert.Equal(t, 10, args[2])

	q, args = buildSearchQuery([]float32{1, 0}, 0.5, 10, "hr")
	assert.Contains(t, q, "d.category = $4")
	assert.Equal(t, "hr", args[3])
}

func TestWithSSL(t *testing.T) {
	dsn, err := withSSL("postgres://u:p@host/db", "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@host/db", dsn)

	_, err = withSSL("postgres://u:p@host/db", "/does/not/exist.pem")
	assert.Error(t, err)
}

func TestRenderSchema(t *testing.T) {
	script, err := renderSchema(768)
	require.NoError(t, err)
	assert.Contains(t, script, "vector(768)")
	assert.NotContains(t, script, dimPlaceholder)
	assert.NotContains(t, script, "hnsw", "search ranks with an exact scan")

	_, err = renderSchema(0)
	assert.Error(t, err)
}

func TestCheckDocumentID(t *testing.T) {
	require.NoError(t, checkDocumentID("6f1c2a8e-3b1d-4c55-9a2e-0d7c1f4b8e21"))

	for _, id := range []string{"abc", "", "6f1c2a8e-3b1d-4c55-9a2e"} {
		err := checkDocumentID(id)
		assert.ErrorIs(t, err, core.ErrDocumentNotFound, id)
	}
}
