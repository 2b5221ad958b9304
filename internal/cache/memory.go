package cache

import (
	"sync"
	"time"
)

// memoryTier is the volatile, process-local layer.
type memoryTier struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func newMemoryTier() *memoryTier {
	return &memoryTier{entries: make(map[string]Entry)}
}

// lookup returns a valid entry. Expired entries are dropped; the second
// return value reports whether one was.
func (m *memoryTier) lookup(key string, now time.Time, ttl time.Duration) (Entry, bool, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return Entry{}, false, false
	}
	if entry.Valid(now, ttl) {
		return cloneEntry(entry), true, false
	}
	m.mu.Lock()
	// Only drop the entry we judged; a concurrent store may have replaced it.
	if current, ok := m.entries[key]; ok && current.StoredAt.Equal(entry.StoredAt) {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	return Entry{}, false, true
}

func (m *memoryTier) store(key string, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cloneEntry(entry)
}

func (m *memoryTier) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *memoryTier) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
