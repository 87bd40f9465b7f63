// Package mock provides a deterministic embedding provider for tests and
// offline runs.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// Embedder maps text to a unit vector derived from its words, so texts that
// share words have positive cosine similarity.
type Embedder struct {
	// EmbedTextsFunc replaces the default behaviour when set.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	dim       int
	mu        sync.Mutex
	callCount int
	seen      []string
}

// NewEmbedder creates a mock producing vectors of length dim.
func NewEmbedder(dim int) *Embedder {
	if dim <= 0 {
		dim = 384
	}
	return &Embedder{dim: dim}
}

func (m *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.callCount++
	m.seen = append(m.seen, texts...)
	fn := m.EmbedTextsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = Vector(text, m.dim)
	}
	return out, nil
}

// CallCount returns the number of EmbedTexts calls.
func (m *Embedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Seen returns every text passed to EmbedTexts, in call order.
func (m *Embedder) Seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

// Vector hashes each lower-cased word of text into one of dim buckets and
// normalizes the result to unit length.
func Vector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)] += 1
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}
