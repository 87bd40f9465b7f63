package core

import (
	"context"
)

// ExtractedPage is one page of extracted text. Number starts at 1.
type ExtractedPage struct {
	Number int
	Text   string
}

// ExtractedText is the result of text extraction. Pages is set when the
// source format carries page boundaries.
type ExtractedText struct {
	Text     string
	Pages    []ExtractedPage
	Metadata map[string]string
}

// DocumentExtractor converts raw file bytes into plain text.
// The contentType hint selects the parsing strategy.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractedText, error)
}
