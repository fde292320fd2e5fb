package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is a byte-bounded in-memory LRU driver with optional per-entry
// expiry. Safe for concurrent use.
type Memory struct {
	maxBytes int64

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	size    int64

	evictions atomic.Uint64
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero = never
}

// NewMemory returns a memory driver holding at most maxBytes of values.
// maxBytes <= 0 means unbounded.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.removeLocked(el)
		return nil, false, nil
	}

	m.order.MoveToFront(el)
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		m.size += int64(len(stored)) - int64(len(entry.value))
		entry.value = stored
		entry.expiresAt = expires
		m.order.MoveToFront(el)
	} else {
		el := m.order.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expires})
		m.entries[key] = el
		m.size += int64(len(stored))
	}

	// Evict oldest entries until the new value fits.
	for m.maxBytes > 0 && m.size > m.maxBytes {
		oldest := m.order.Back()
		if oldest == nil || oldest.Value.(*memoryEntry).key == key && m.order.Len() == 1 {
			break
		}
		m.removeLocked(oldest)
		m.evictions.Add(1)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
	m.size = 0
	return nil
}

// Evictions returns how many entries were dropped for space.
func (m *Memory) Evictions() uint64 {
	return m.evictions.Load()
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	m.order.Remove(el)
	delete(m.entries, entry.key)
	m.size -= int64(len(entry.value))
}
