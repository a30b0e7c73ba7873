package agent

import (
	"sync"
	"time"
)

// DefaultMemoryTTL is how long a working-memory entry stays readable.
const DefaultMemoryTTL = 5 * time.Minute

// Memory is a small key/value cache whose entries expire after a fixed TTL.
// Expired entries are dropped the next time they are read.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	value    any
	storedAt time.Time
}

// NewMemory creates an empty working memory. A zero ttl uses DefaultMemoryTTL
// and a nil clock uses time.Now.
func NewMemory(ttl time.Duration, now func() time.Time) *Memory {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Set stores value under key, replacing any earlier entry.
func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, storedAt: m.now()}
}

// Get returns the value for key if it is younger than the TTL.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.now().Sub(e.storedAt) >= m.ttl {
		delete(m.entries, key)
		return nil, false
	}
	return e.value, true
}

// Clear removes every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
