// Package chunker splits normalized document text into bounded, overlapping
// chunks that break on the most natural separator available.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the default window size in characters.
const DefaultChunkSize = 1000

// DefaultOverlap is the default number of characters shared by adjacent chunks.
const DefaultOverlap = 200

// DefaultSeparators lists break points in priority order: paragraph, line,
// sentence end, clause end, word.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

// minBreakRatio is the fraction of the window a separator must lie beyond
// to be accepted as the cut point.
const minBreakRatio = 0.5

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Chunk is one window of text. Start and End are character offsets into the
// normalized source (page or section text for the page/section variants).
type Chunk struct {
	Content       string
	Index         int
	CharLen       int
	Start         int
	End           int
	TokenEstimate int
	PageNumber    *int
	SectionTitle  *string
}

// Page is one page of extracted text.
type Page struct {
	Number int
	Text   string
}

// Section is one titled section of extracted text.
type Section struct {
	Title string
	Text  string
}

// Chunker holds the window parameters. It is safe for concurrent use.
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the window size in characters. Non-positive values are ignored.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap in characters. Negative values are ignored.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator priority list.
func WithSeparators(seps []string) Option {
	return func(c *Chunker) {
		if len(seps) > 0 {
			c.separators = append([]string(nil), seps...)
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Overlap must leave room for the window to advance.
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// ChunkSize is the effective window size after defaults are applied.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap is the effective overlap, clamped below the window size.
func (c *Chunker) Overlap() int { return c.overlap }

// Normalize converts line endings to \n, collapses three or more consecutive
// newlines into a single blank line and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Chunk splits text into ordered chunks with indexes starting at zero.
func (c *Chunker) Chunk(text string) []Chunk {
	return c.split(Normalize(text), 0)
}

// ChunkPages chunks every page independently and numbers the result with a
// single continuous index, tagging each chunk with its page number.
func (c *Chunker) ChunkPages(pages []Page) []Chunk {
	var out []Chunk
	for _, p := range pages {
		page := p.Number
		for _, ch := range c.split(Normalize(p.Text), len(out)) {
			n := page
			ch.PageNumber = &n
			out = append(out, ch)
		}
	}
	return out
}

// ChunkSections chunks every section independently and numbers the result
// with a single continuous index, tagging each chunk with its section title.
func (c *Chunker) ChunkSections(sections []Section) []Chunk {
	var out []Chunk
	for _, s := range sections {
		title := s.Title
		for _, ch := range c.split(Normalize(s.Text), len(out)) {
			t := title
			ch.SectionTitle = &t
			out = append(out, ch)
		}
	}
	return out
}

// split runs the sliding window over already normalized text.
func (c *Chunker) split(text string, firstIndex int) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	chunks := make([]Chunk, 0, n/(c.chunkSize-c.overlap)+1)

	start := 0
	for {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			end = start + c.breakPoint(runes[start:end])
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, Chunk{
				Content:       content,
				Index:         firstIndex + len(chunks),
				CharLen:       utf8.RuneCountInString(content),
				Start:         start,
				End:           end,
				TokenEstimate: EstimateTokens(content),
			})
		}

		if end >= n {
			break
		}
		next := end - c.overlap
		if next < 0 {
			next = 0
		}
		if next <= start {
			// Short remainders could otherwise stall the window.
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint returns the window length to keep: just past the highest
// priority separator lying beyond minBreakRatio of the window, or the full
// window when there is none.
func (c *Chunker) breakPoint(window []rune) int {
	s := string(window)
	minOffset := float64(c.chunkSize) * minBreakRatio
	for _, sep := range c.separators {
		byteIdx := strings.LastIndex(s, sep)
		if byteIdx < 0 {
			continue
		}
		offset := utf8.RuneCountInString(s[:byteIdx])
		if float64(offset) > minOffset {
			return offset + utf8.RuneCountInString(sep)
		}
	}
	return len(window)
}

// EstimateTokens approximates the token count of s: wide CJK characters
// weigh one token each, everything else roughly four characters per token.
func EstimateTokens(s string) int {
	var wide, narrow int
	for _, r := range s {
		if isWide(r) {
			wide++
		} else {
			narrow++
		}
	}
	return wide + (narrow+3)/4
}

func isWide(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
