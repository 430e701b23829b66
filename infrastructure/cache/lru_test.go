package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/ports"
)

// counterRecorder tallies counters by metric name.
type counterRecorder struct {
	ports.NopMetrics
	mu     sync.Mutex
	counts map[string]float64
}

func (c *counterRecorder) RecordCounter(metric string, value float64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]float64)
	}
	c.counts[metric] += value
}

func (c *counterRecorder) count(metric string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[metric]
}

func TestLRUStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewLRUStore(10, time.Hour)

	require.NoError(t, s.Set(ctx, "k", "v", 0))

	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLRUStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := NewLRUStore(3, time.Hour)

	for i := range 3 {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), i, 0))
	}
	// Touch k0 so k1 becomes the oldest.
	_, _, _ = s.Get(ctx, "k0")
	require.NoError(t, s.Set(ctx, "k3", 3, 0))

	assert.Equal(t, 3, s.Len())
	_, ok, _ := s.Get(ctx, "k1")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "k0")
	assert.True(t, ok)
}

func TestLRUStore_PerEntryExpiration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewLRUStore(10, DefaultTTL, WithClock(func() time.Time { return now }))

	require.NoError(t, s.Set(ctx, "short", 1, time.Minute))
	require.NoError(t, s.Set(ctx, "long", 2, 30*24*time.Hour))

	now = now.Add(2 * time.Minute)
	_, ok, _ := s.Get(ctx, "short")
	assert.False(t, ok)

	// Over-long expirations are capped at the store TTL.
	now = now.Add(DefaultTTL)
	_, ok, _ = s.Get(ctx, "long")
	assert.False(t, ok)
}

func TestLRUStore_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := NewLRUStore(0, 0)

	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Set(ctx, "b", 2, 0))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "absent"))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
}

func TestLRUStore_EvictionsCountOnlyCapacity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := &counterRecorder{}
	s := NewLRUStore(2, time.Hour, WithMetrics(rec), WithClock(func() time.Time { return now }))

	// Given a delete and an expired read
	require.NoError(t, s.Set(ctx, "a", 1, 0))
	require.NoError(t, s.Set(ctx, "b", 2, time.Minute))
	require.NoError(t, s.Delete(ctx, "a"))
	now = now.Add(2 * time.Minute)
	_, ok, _ := s.Get(ctx, "b")
	require.False(t, ok)

	// Then neither counts as an eviction
	assert.Zero(t, rec.count("cache_evictions_total"))

	// When the size bound pushes out an entry
	require.NoError(t, s.Set(ctx, "c", 3, 0))
	require.NoError(t, s.Set(ctx, "d", 4, 0))
	require.NoError(t, s.Set(ctx, "e", 5, 0))

	// Then exactly that is counted
	assert.Equal(t, 1.0, rec.count("cache_evictions_total"))
	assert.Equal(t, 1.0, rec.count("cache_misses_total"))
}
