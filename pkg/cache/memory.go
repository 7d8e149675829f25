package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry holds a cached value with its expiry. Expired entries are cleaned up
// lazily on Get — no background goroutine.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-memory TTL cache. It is the default
// backend when no CACHE_URL is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory cache.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Get returns the cached value if present and not expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if s.now().After(e.expiresAt) {
		// Expired — clean up lazily. Re-check under write lock: a concurrent
		// Set may have replaced the entry with a fresh one.
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && s.now().After(current.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

// Set stores a value with the given TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	s.entries[key] = &entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// Delete removes a key.
func (s *MemoryStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// GetOrFetch implements the memoized fetch. Concurrent callers for the same
// key share a single fetch via singleflight.
func (s *MemoryStore) GetOrFetch(ctx context.Context, key string, cat Category, fetch FetchFunc) ([]byte, error) {
	if v, ok := s.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Double-check: another caller may have completed between the miss
		// and entering the flight group.
		if v, ok := s.Get(ctx, key); ok {
			return v, nil
		}
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if value != nil {
			s.Set(ctx, key, value, TTL(cat))
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
