package checkpoint

import (
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and ephemeral runs. Values
// are round-tripped through JSON so callers get the same copy semantics as
// the durable store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Save stores the checkpoint, replacing any previous entry for the ID.
func (s *MemoryStore) Save(cp *Checkpoint, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cp.WorkflowID] = memoryEntry{
		payload:   payload,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Load returns the checkpoint for workflowID, or ErrNotFound.
func (s *MemoryStore) Load(workflowID string) (*Checkpoint, error) {
	s.mu.RLock()
	entry, ok := s.entries[workflowID]
	s.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	var cp Checkpoint
	if err := json.Unmarshal(entry.payload, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Delete removes the entry for workflowID.
func (s *MemoryStore) Delete(workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, workflowID)
	return nil
}

// PurgeExpired drops expired entries, returning the count.
func (s *MemoryStore) PurgeExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var purged int64
	for id, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, id)
			purged++
		}
	}
	return purged, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
