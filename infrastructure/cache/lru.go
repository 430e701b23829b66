// Package cache provides the bounded, expiring in-process store used for
// reasoning results.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ahrav/go-assay/internal/ports"
)

// Defaults for the reasoning cache.
const (
	DefaultTTL  = 7 * 24 * time.Hour
	DefaultSize = 10_000
)

var _ ports.CacheStore = (*LRUStore)(nil)

type entry struct {
	value     any
	expiresAt time.Time
}

// LRUStore is a size-bounded CacheStore whose entries expire after a TTL.
// The least recently used entry is evicted when the store is full. Entries
// may be given a shorter expiration than the store TTL, never a longer one.
type LRUStore struct {
	lru     *expirable.LRU[string, entry]
	ttl     time.Duration
	now     func() time.Time
	metrics ports.MetricsCollector
}

// Option configures an LRUStore.
type Option func(*LRUStore)

// WithMetrics records hits, misses and evictions.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(s *LRUStore) { s.metrics = m }
}

// WithClock overrides the clock used for per-entry expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *LRUStore) { s.now = now }
}

// NewLRUStore creates a store holding at most size entries for at most ttl.
// Non-positive arguments fall back to DefaultSize and DefaultTTL.
func NewLRUStore(size int, ttl time.Duration, opts ...Option) *LRUStore {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &LRUStore{
		ttl:     ttl,
		now:     time.Now,
		metrics: ports.NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lru = expirable.NewLRU[string, entry](size, nil, ttl)
	return s
}

// Get implements ports.CacheStore.
func (s *LRUStore) Get(_ context.Context, key string) (any, bool, error) {
	e, ok := s.lru.Get(key)
	if ok && s.now().After(e.expiresAt) {
		s.lru.Remove(key)
		ok = false
	}
	if !ok {
		s.metrics.RecordCounter("cache_misses_total", 1, nil)
		return nil, false, nil
	}
	s.metrics.RecordCounter("cache_hits_total", 1, nil)
	return e.value, true, nil
}

// Set implements ports.CacheStore. A zero or over-long expiration uses the
// store TTL. Only entries pushed out by the size bound count as evictions.
func (s *LRUStore) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	if expiration <= 0 || expiration > s.ttl {
		expiration = s.ttl
	}
	if s.lru.Add(key, entry{value: value, expiresAt: s.now().Add(expiration)}) {
		s.metrics.RecordCounter("cache_evictions_total", 1, nil)
	}
	return nil
}

// Delete implements ports.CacheStore.
func (s *LRUStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Clear implements ports.CacheStore.
func (s *LRUStore) Clear(context.Context) error {
	s.lru.Purge()
	return nil
}

// Len returns the number of live entries.
func (s *LRUStore) Len() int { return s.lru.Len() }
