package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a BlobStore held in process memory.
// It backs the cache when the database cannot be opened, and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	payloads map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		payloads: make(map[string][]byte),
	}
}

// Get implements BlobStore.
func (m *MemoryStore) Get(_ context.Context, url string) (Entry, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[url]
	if !ok {
		return Entry{}, nil, ErrNotFound
	}
	return e, m.payloads[url], nil
}

// Put implements BlobStore.
func (m *MemoryStore) Put(_ context.Context, e Entry, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.URL] = e
	if payload == nil {
		delete(m.payloads, e.URL)
		return nil
	}
	m.payloads[e.URL] = append([]byte(nil), payload...)
	return nil
}

// Touch implements BlobStore.
func (m *MemoryStore) Touch(_ context.Context, url string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[url]
	if !ok {
		return ErrNotFound
	}
	e.LastAccessed = at
	m.entries[url] = e
	return nil
}

// List implements BlobStore.
func (m *MemoryStore) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// Delete implements BlobStore.
func (m *MemoryStore) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, url)
	delete(m.payloads, url)
	return nil
}

// Close implements BlobStore.
func (m *MemoryStore) Close() error {
	return nil
}
