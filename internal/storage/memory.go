package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStorage keeps objects in process memory. It backs local runs without a
// bucket and the tests.
type MemoryStorage struct {
	mu        sync.RWMutex
	objects   map[string]memoryObject
	publicURL string
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStorage creates an empty in-memory store serving URLs under publicURL.
func NewMemoryStorage(publicURL string) *MemoryStorage {
	return &MemoryStorage{
		objects:   make(map[string]memoryObject),
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func (m *MemoryStorage) Upload(_ context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read upload %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return nil
}

func (m *MemoryStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("failed to download %s: not found", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStorage) GetURL(key string) string {
	return m.publicURL + "/" + key
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStorage) EnsureBucket(context.Context) error { return nil }

// ContentType returns the stored content type of key.
func (m *MemoryStorage) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[key].contentType
}

// Len returns the number of stored objects.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
