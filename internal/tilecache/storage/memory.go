package storage

import (
	"container/list"
	"context"
	"sync"
)

// defaultMaxEntries bounds a memory cache created without max_entries.
const defaultMaxEntries = 10000

// MemoryCache is a thread-safe LRU tile cache.
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	items      map[Key]*list.Element
	evictList  *list.List
}

type memoryItem struct {
	key  Key
	tile Tile
}

// OpenMemory is the Factory for the "memory" cache type.
func OpenMemory(_ context.Context, opts Options) (Cache, error) {
	return NewMemoryCache(opts.MaxEntries), nil
}

// NewMemoryCache creates an LRU cache holding at most maxEntries tiles.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		items:      make(map[Key]*list.Element),
		evictList:  list.New(),
	}
}

// Get returns a copy of the cached tile and marks it recently used.
func (m *MemoryCache) Get(_ context.Context, k Key) (*Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[k]
	if !ok {
		return nil, ErrNotFound
	}
	m.evictList.MoveToFront(el)
	item := el.Value.(*memoryItem)
	t := item.tile
	t.Data = append([]byte(nil), item.tile.Data...)
	return &t, nil
}

// Set stores a copy of t, evicting the least recently used tile when full.
func (m *MemoryCache) Set(_ context.Context, k Key, t *Tile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *t
	stored.Data = append([]byte(nil), t.Data...)

	if el, ok := m.items[k]; ok {
		el.Value.(*memoryItem).tile = stored
		m.evictList.MoveToFront(el)
		return nil
	}

	m.items[k] = m.evictList.PushFront(&memoryItem{key: k, tile: stored})
	for m.evictList.Len() > m.maxEntries {
		oldest := m.evictList.Back()
		m.evictList.Remove(oldest)
		delete(m.items, oldest.Value.(*memoryItem).key)
	}
	return nil
}

// Delete removes k from the cache.
func (m *MemoryCache) Delete(_ context.Context, k Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[k]; ok {
		m.evictList.Remove(el)
		delete(m.items, k)
	}
	return nil
}

// Len returns the number of cached tiles.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Close drops every cached tile.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[Key]*list.Element)
	m.evictList.Init()
	return nil
}
