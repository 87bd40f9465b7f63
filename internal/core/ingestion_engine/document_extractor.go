package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/chunker"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
// Plain text and markdown are passed through without conversion.
type DocconvExtractor struct {
	useReadability bool
	logger         *slog.Logger
}

func NewDocconvExtractor(useReadability bool, logger *slog.Logger) *DocconvExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocconvExtractor{useReadability: useReadability, logger: logger.With("component", "extractor")}
}

func isPlainText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "text/plain", "text/markdown", "text/x-markdown":
		return true
	}
	return false
}

// Extract converts data to text. Form feeds in the converted output mark page
// boundaries and become ExtractedText.Pages.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isPlainText(contentType) {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%s is not valid utf-8", contentType)
		}
		return &core.ExtractedText{Text: cleanText(string(data))}, nil
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		e.logger.Warn("docconv conversion failed", "content_type", contentType, "error", err)
		return nil, fmt.Errorf("docconv %s: %w", contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &core.ExtractedText{Metadata: res.Meta}
	if strings.Contains(res.Body, "\f") {
		out.Pages = splitPages(res.Body)
		parts := make([]string, 0, len(out.Pages))
		for _, p := range out.Pages {
			parts = append(parts, p.Text)
		}
		out.Text = strings.Join(parts, "\n\n")
	} else {
		out.Text = cleanText(res.Body)
	}
	e.logger.Debug("extracted text", "content_type", contentType, "chars", len(out.Text), "pages", len(out.Pages))
	return out, nil
}

// splitPages numbers pages from 1 and drops pages with no text, keeping the
// original numbering of the rest.
func splitPages(body string) []core.ExtractedPage {
	var pages []core.ExtractedPage
	for i, raw := range strings.Split(body, "\f") {
		text := cleanText(raw)
		if text == "" {
			continue
		}
		pages = append(pages, core.ExtractedPage{Number: i + 1, Text: text})
	}
	return pages
}

// cleanText strips NUL bytes and trailing whitespace on each line, then
// normalizes newlines the way the chunker expects.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return chunker.Normalize(strings.Join(lines, "\n"))
}
