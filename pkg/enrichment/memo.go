package enrichment

import (
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/spotter/pkg/platforms"
)

type memoEntry struct {
	entities []*platforms.Entity
	expires  time.Time
}

// searchMemo remembers live search outcomes, empty ones included, so a page
// scanned twice in a row does not query every platform again.
type searchMemo struct {
	mu      sync.RWMutex
	entries map[string]memoEntry
	ttl     time.Duration
	size    int
	now     func() time.Time
}

func newSearchMemo(size int, ttl time.Duration) *searchMemo {
	return &searchMemo{
		entries: make(map[string]memoEntry),
		ttl:     ttl,
		size:    size,
		now:     time.Now,
	}
}

func (m *searchMemo) Get(key string) ([]*platforms.Entity, bool) {
	if m.ttl <= 0 {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || m.now().After(e.expires) {
		return nil, false
	}
	return e.entities, true
}

func (m *searchMemo) Set(key string, entities []*platforms.Entity) {
	if m.ttl <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.entries) >= m.size {
		for k, e := range m.entries {
			if now.After(e.expires) {
				delete(m.entries, k)
			}
		}
	}
	// Still full: drop an arbitrary entry.
	if len(m.entries) >= m.size {
		for k := range m.entries {
			delete(m.entries, k)
			break
		}
	}
	m.entries[key] = memoEntry{entities: entities, expires: now.Add(m.ttl)}
}

func (m *searchMemo) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]memoEntry)
	m.mu.Unlock()
}
