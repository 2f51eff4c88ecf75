package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MemoryCache implements Service inside one process, evicting the least
// recently used entry past maxSize. Claims are only exclusive within the
// process, so it suits single-process runs and tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
	maxSize int
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most maxSize keys; zero or less
// means 1000.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (m *MemoryCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// lookup returns a live entry and marks it recently used. Caller holds mu.
func (m *MemoryCache) lookup(key string) (*memEntry, bool) {
	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memEntry)
	if e.expired(m.now()) {
		m.remove(el)
		return nil, false
	}
	m.order.MoveToFront(el)
	return e, true
}

func (m *MemoryCache) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memEntry).key)
}

// put stores data under key. Caller holds mu.
func (m *MemoryCache) put(key string, data []byte, expireAt time.Time) {
	if el, ok := m.entries[key]; ok {
		e := el.Value.(*memEntry)
		e.value, e.expireAt = data, expireAt
		m.order.MoveToFront(el)
		return
	}
	for m.order.Len() >= m.maxSize {
		m.remove(m.order.Back())
	}
	m.entries[key] = m.order.PushFront(&memEntry{key: key, value: data, expireAt: expireAt})
}

func (m *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, data, m.deadline(ttl))
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	e, ok := m.lookup(key)
	var data []byte
	if ok {
		data = e.value
	}
	m.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.entries[k]; ok {
			m.remove(el)
		}
	}
	return nil
}

func (m *MemoryCache) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.put(key, []byte(claimValue(m.now())), m.deadline(ttl))
	return true, nil
}

func (m *MemoryCache) Ping(context.Context) error { return nil }

func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryCache) Close() error { return nil }
