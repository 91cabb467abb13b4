package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore mantém as entradas em um mapa protegido por mutex.
// Com maxEntries > 0, as entradas mais antigas são descartadas ao exceder o limite.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]Entry
	maxEntries int
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), maxEntries: maxEntries}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, e Entry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
	if m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.evictOldest(len(m.entries) - m.maxEntries)
	}
	return nil
}

// evictOldest deve ser chamado com m.mu travado.
func (m *MemoryStore) evictOldest(n int) {
	type kv struct {
		key string
		at  time.Time
	}
	all := make([]kv, 0, len(m.entries))
	for k, e := range m.entries {
		all = append(all, kv{k, e.StoredAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for i := 0; i < n && i < len(all); i++ {
		delete(m.entries, all[i].key)
	}
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if e.StoredAt.Before(cutoff) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}
