// Package cache implements the shared in-memory TTL store. One Store
// instance is constructed per process and handed to every component that
// needs it; entries never survive the process.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/triago/triago/domain"
)

// TTLs per logical namespace. Component-declared, not runtime-configurable.
const (
	TTLTechnicianRanking = 300 * time.Second
	TTLFieldsDiscovered  = 1800 * time.Second
	TTLFieldsFallback    = 600 * time.Second
	TTLDashboard         = 180 * time.Second
	TTLTrends            = 300 * time.Second
)

// Well-known namespaces.
const (
	NamespaceRanking   = "ranking"
	NamespaceFields    = "fields"
	NamespaceDashboard = "dashboard"
	NamespaceTrends    = "trends"
)

type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Store is a namespaced in-memory cache with per-entry TTLs. Safe for
// concurrent use. Size is unbounded apart from TTL expiry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	flight  singleflight.Group

	hits   int64
	misses int64

	// now is swapped out by tests to control expiry.
	now func() time.Time
}

// NewStore creates an empty cache store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func cacheKey(namespace, key string) string {
	return namespace + ":" + key
}

// Get returns the live value under namespace/key, or found==false on a miss
// or an expired entry. Expired entries are removed lazily.
func (s *Store) Get(namespace, key string) (interface{}, bool) {
	k := cacheKey(namespace, key)

	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		// re-check under the write lock, a concurrent Set may have renewed it
		if cur, ok := s.entries[k]; ok && cur.expired(s.now()) {
			delete(s.entries, k)
		}
		s.mu.Unlock()
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&s.hits, 1)
	return e.value, true
}

// Set stores value under namespace/key for the given TTL.
func (s *Store) Set(namespace, key string, value interface{}, ttl time.Duration) {
	k := cacheKey(namespace, key)
	s.mu.Lock()
	s.entries[k] = entry{value: value, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

// Invalidate removes one entry, or the whole namespace when key is empty.
func (s *Store) Invalidate(namespace, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key != "" {
		delete(s.entries, cacheKey(namespace, key))
		return
	}
	prefix := namespace + ":"
	for k := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.entries, k)
		}
	}
}

// GetOrFetch returns the cached value or, on a miss, runs fetch and caches
// its result. Concurrent misses for the same namespace/key collapse into a
// single fetch; every waiter receives the same value or error.
func (s *Store) GetOrFetch(ctx context.Context, namespace, key string, ttl time.Duration, fetch func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if v, ok := s.Get(namespace, key); ok {
		return v, nil
	}

	k := cacheKey(namespace, key)
	v, err, _ := s.flight.Do(k, func() (interface{}, error) {
		// another flight member may have populated the entry already
		if v, ok := s.Get(namespace, key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.Set(namespace, key, v, ttl)
		return v, nil
	})
	return v, err
}

// Stats reports hit/miss counters and the current entry count, including
// entries that have expired but not yet been swept.
func (s *Store) Stats() domain.CacheStats {
	s.mu.RLock()
	size := len(s.entries)
	s.mu.RUnlock()
	return domain.CacheStats{
		Hits:   atomic.LoadInt64(&s.hits),
		Misses: atomic.LoadInt64(&s.misses),
		Size:   size,
	}
}
