package cache

import (
	"context"
	"sync"
	"time"
)

// Entry is a serialized cached value together with its capture time and TTL.
type Entry struct {
	Payload    []byte        `json:"payload"`
	CapturedAt time.Time     `json:"captured_at"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether capturedAt + ttl lies before now.
func (e Entry) Expired(now time.Time) bool {
	return e.CapturedAt.Add(e.TTL).Before(now)
}

// Store is a concurrency-safe key/value backend. Writers are last-writer-wins.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// MemoryStore keeps entries in process memory. Expired entries are kept so they
// can serve as stale fallbacks.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ Store = (*MemoryStore)(nil)
