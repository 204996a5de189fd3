// Package cachetest provides an in-memory cache.Store for tests of code
// that consumes the cache. It is not used by the service itself.
package cachetest

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Call records one store operation.
type Call struct {
	Op  string // get | set | delete | delete_matching
	Key string
}

// MemoryStore implements cache.Store over a map. Patterns use path.Match
// glob semantics, which agree with Redis MATCH for keys without '/'; key
// segments escape '/', so every key the service builds qualifies.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]entry
	calls []Call
	down  bool
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]entry),
		now:   time.Now,
	}
}

// SetDown simulates an unavailable backend: every call becomes a no-op.
func (m *MemoryStore) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

// Advance moves the store clock forward by d.
func (m *MemoryStore) Advance(d time.Duration) {
	m.mu.Lock()
	base := m.now
	m.now = func() time.Time { return base().Add(d) }
	m.mu.Unlock()
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "get", Key: key})

	if m.down {
		return nil, false
	}
	e, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		delete(m.items, key)
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "set", Key: key})

	if m.down || ttl <= 0 {
		return false
	}
	// Copy to decouple from caller's buffer
	m.items[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(ttl),
	}
	return true
}

func (m *MemoryStore) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "delete", Key: key})

	if m.down {
		return false
	}
	delete(m.items, key)
	return true
}

func (m *MemoryStore) DeleteMatching(_ context.Context, pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "delete_matching", Key: pattern})

	if m.down {
		return 0
	}
	n := 0
	for k := range m.items {
		if ok, _ := path.Match(pattern, k); ok {
			delete(m.items, k)
			n++
		}
	}
	return n
}

// Put seeds a key directly, bypassing call recording.
func (m *MemoryStore) Put(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	m.items[key] = entry{value: append([]byte(nil), value...), expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}

// Has reports whether key is present and unexpired.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	return ok && !m.now().After(e.expiresAt)
}

// Keys returns the live keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	keys := make([]string, 0, len(m.items))
	for k, e := range m.items {
		if !now.After(e.expiresAt) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Calls returns a copy of the recorded operations.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsOf returns the keys or patterns passed to op.
func (m *MemoryStore) CallsOf(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c.Key)
		}
	}
	return out
}

// Len returns the number of items currently stored, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
