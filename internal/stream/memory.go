package stream

import (
	"context"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and single-process runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	streams map[string][][]byte
	latest  map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		streams: make(map[string][][]byte),
		latest:  make(map[string][]byte),
	}
}

// Append adds an entry to the named stream.
func (b *MemoryBackend) Append(_ context.Context, stream string, entry []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(entry))
	copy(cp, entry)
	b.streams[stream] = append(b.streams[stream], cp)
	return nil
}

// SetLatest replaces the latest value for key.
func (b *MemoryBackend) SetLatest(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	b.latest[key] = cp
	return nil
}

// GetLatest returns the latest value for key, or nil.
func (b *MemoryBackend) GetLatest(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest[key], nil
}

// Entries returns the entries of the named stream in append order.
func (b *MemoryBackend) Entries(stream string) [][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.streams[stream]
}

// Close is a no-op for the memory backend.
func (b *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
