package ingestion_engine

import (
	"github.com/markdave123-py/docindex/internal/core/chunker"
	"github.com/markdave123-py/docindex/internal/models"
)

// extracted is the normalized output of the extracting stage. At most one of
// pages and sections is set; text is always the full document text.
type extracted struct {
	text     string
	pages    []chunker.Page
	sections []chunker.Section
}

func (x extracted) empty() bool {
	if x.text != "" {
		return false
	}
	for _, p := range x.pages {
		if p.Text != "" {
			return false
		}
	}
	for _, s := range x.sections {
		if s.Text != "" {
			return false
		}
	}
	return true
}

// chunkDocument runs the variant of the chunker that matches the source shape.
func chunkDocument(c *chunker.Chunker, x extracted) []chunker.Chunk {
	switch {
	case len(x.sections) > 0:
		return c.ChunkSections(x.sections)
	case len(x.pages) > 0:
		return c.ChunkPages(x.pages)
	default:
		return c.Chunk(x.text)
	}
}

func toCheckpoint(chunks []chunker.Chunk) []models.CheckpointChunk {
	out := make([]models.CheckpointChunk, len(chunks))
	for i, c := range chunks {
		out[i] = models.CheckpointChunk{
			Content:       c.Content,
			Index:         c.Index,
			CharLen:       c.CharLen,
			TokenEstimate: c.TokenEstimate,
			PageNumber:    c.PageNumber,
			SectionTitle:  c.SectionTitle,
		}
	}
	return out
}

func fromCheckpoint(cps []models.CheckpointChunk) []chunker.Chunk {
	out := make([]chunker.Chunk, len(cps))
	for i, c := range cps {
		out[i] = chunker.Chunk{
			Content:       c.Content,
			Index:         c.Index,
			CharLen:       c.CharLen,
			TokenEstimate: c.TokenEstimate,
			PageNumber:    c.PageNumber,
			SectionTitle:  c.SectionTitle,
		}
	}
	return out
}

// toRows pairs chunks with their vectors. len(vectors) must equal len(chunks).
func toRows(chunks []chunker.Chunk, vectors [][]float32) []models.DocumentChunk {
	rows := make([]models.DocumentChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = models.DocumentChunk{
			Content:      c.Content,
			ChunkIndex:   c.Index,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			Embedding:    vectors[i],
			TokenCount:   c.TokenEstimate,
		}
	}
	return rows
}

func chunkTexts(chunks []chunker.Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

// chunkStats summarises chunk lengths and the estimated token total.
func chunkStats(chunks []chunker.Chunk) (models.ChunkSizeStats, int) {
	if len(chunks) == 0 {
		return models.ChunkSizeStats{}, 0
	}
	stats := models.ChunkSizeStats{Min: chunks[0].CharLen, Max: chunks[0].CharLen}
	total, tokens := 0, 0
	for _, c := range chunks {
		stats.Min = min(stats.Min, c.CharLen)
		stats.Max = max(stats.Max, c.CharLen)
		total += c.CharLen
		tokens += c.TokenEstimate
	}
	stats.Mean = float64(total) / float64(len(chunks))
	return stats, tokens
}
