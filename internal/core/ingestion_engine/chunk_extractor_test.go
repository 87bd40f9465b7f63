package ingestion_engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docindex/internal/core/chunker"
	"github.com/markdave123-py/docindex/internal/models"
)

func TestChunkDocument_Variants(t *testing.T) {
	c := chunker.New(chunker.WithChunkSize(100), chunker.WithOverlap(10))

	byText := chunkDocument(c, extracted{text: "plain body"})
	require.Len(t, byText, 1)
	assert.Nil(t, byText[0].PageNumber)

	byPage := chunkDocument(c, extracted{pages: []chunker.Page{{Number: 2, Text: "p2"}, {Number: 5, Text: "p5"}}})
	require.Len(t, byPage, 2)
	assert.Equal(t, 5, *byPage[1].PageNumber)
	assert.Equal(t, 1, byPage[1].Index)

	bySection := chunkDocument(c, extracted{sections: []chunker.Section{{Title: "Intro", Text: "s"}}})
	require.Len(t, bySection, 1)
	assert.Equal(t, "Intro", *bySection[0].SectionTitle)
}

func TestExtractedEmpty(t *testing.T) {
	assert.True(t, extracted{}.empty())
	assert.True(t, extracted{pages: []chunker.Page{{Number: 1}}}.empty())
	assert.False(t, extracted{sections: []chunker.Section{{Text: "x"}}}.empty())
}

func TestCheckpointRoundTrip(t *testing.T) {
	page := 4
	in := []chunker.Chunk{{Content: "a", Index: 0, CharLen: 1, TokenEstimate: 1, PageNumber: &page}}
	out := fromCheckpoint(toCheckpoint(in))
	assert.Equal(t, in[0].Content, out[0].Content)
	assert.Equal(t, in[0].PageNumber, out[0].PageNumber)
	assert.Equal(t, in[0].TokenEstimate, out[0].TokenEstimate)
}

func TestChunkStats(t *testing.T) {
	stats, tokens := chunkStats([]chunker.Chunk{
		{CharLen: 10, TokenEstimate: 3},
		{CharLen: 30, TokenEstimate: 8},
		{CharLen: 20, TokenEstimate: 5},
	})
	assert.Equal(t, models.ChunkSizeStats{Min: 10, Max: 30, Mean: 20}, stats)
	assert.Equal(t, 16, tokens)

	stats, tokens = chunkStats(nil)
	assert.Zero(t, stats)
	assert.Zero(t, tokens)
}

func TestToRows(t *testing.T) {
	rows := toRows([]chunker.Chunk{{Content: "x", Index: 3, TokenEstimate: 1}}, [][]float32{{1, 2}})
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].ChunkIndex)
	assert.Equal(t, []float32{1, 2}, rows[0].Embedding)
	assert.Equal(t, 1, rows[0].TokenCount)
}
