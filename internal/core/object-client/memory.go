package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/markdave123-py/docindex/internal/core"
)

// ErrObjectNotFound is returned by GetFile for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// MemoryClient keeps objects in process memory. It backs local runs without
// a bucket and the tests.
type MemoryClient struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ core.ObjectClient = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: make(map[string][]byte)}
}

func (m *MemoryClient) UploadFile(_ context.Context, key string, data io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = b
	m.mu.Unlock()
	return "mem://" + key, nil
}

func (m *MemoryClient) DeleteFile(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryClient) GetFile(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return append([]byte(nil), b...), nil
}

// Len reports the number of stored objects.
func (m *MemoryClient) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
