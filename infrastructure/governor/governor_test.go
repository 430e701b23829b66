package governor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/domain"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		PerMinute:        3,
		PerHour:          10,
		MinuteWindow:     time.Minute,
		HourWindow:       time.Hour,
		InputTokenPrice:  0.001,
		OutputTokenPrice: 0.002,
		DailyCeiling:     1.0,
		AlertFraction:    0.8,
	}
}

func newTestGovernor(t *testing.T, cfg Config, clock *fakeClock) *Governor {
	t.Helper()
	g, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return g
}

func TestGovernor_MinuteBucketExhaustsAndRefills(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	g := newTestGovernor(t, testConfig(), clock)

	// Given a full minute bucket of three
	for i := range 3 {
		assert.True(t, g.TryAcquire(), "call %d", i)
	}

	// Then the fourth call is denied
	assert.False(t, g.TryAcquire())

	// When one refill interval passes, exactly one more call is granted
	clock.Advance(20 * time.Second)
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
}

func TestGovernor_HourBucketLimitsAcrossMinutes(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	g := newTestGovernor(t, testConfig(), clock)

	granted := 0
	for range 10 {
		for g.TryAcquire() {
			granted++
		}
		clock.Advance(time.Minute)
	}

	// Ten from the full hour bucket plus what the hour bucket refilled over
	// the elapsed minutes (one per six minutes).
	assert.LessOrEqual(t, granted, 11)
	assert.GreaterOrEqual(t, granted, 10)
}

func TestGovernor_DenialDoesNotSpendMinuteToken(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.PerHour = 1
	g := newTestGovernor(t, cfg, clock)

	require.True(t, g.TryAcquire())
	// The hour bucket is empty; the minute bucket still has two.
	assert.False(t, g.TryAcquire())
	assert.InDelta(t, 2.0, g.minute.TokensAt(clock.Now()), 1e-9)
}

func TestGovernor_ConcurrentAcquireNeverOverGrants(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.PerMinute = 50
	cfg.PerHour = 50
	g := newTestGovernor(t, cfg, clock)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), granted.Load())
}

func TestGovernor_DailyCeilingHoldsUntilRollover(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.PerMinute = 100
	cfg.PerHour = 100
	g := newTestGovernor(t, cfg, clock)
	ctx := context.Background()

	// Given usage costing 0.6 + 0.5 = 1.1 against a 1.0 ceiling
	require.True(t, g.TryAcquire())
	e := g.RecordUsage(ctx, 200, 200, "s-1/empathy", domain.GeneratedByLLM)
	assert.InDelta(t, 0.6, e.EstimatedCost, 1e-12)
	require.True(t, g.TryAcquire())
	g.RecordUsage(ctx, 100, 200, "s-2/empathy", domain.GeneratedByLLM)

	// Then calls are refused for the rest of the day
	assert.False(t, g.TryAcquire())
	clock.Advance(time.Hour)
	assert.False(t, g.TryAcquire())

	// And granted again after midnight UTC
	clock.Advance(time.Hour)
	assert.True(t, g.TryAcquire())
	assert.Equal(t, 0.0, g.DailyCost())
}

func TestGovernor_DayBoundaryHonoursLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 13:30 UTC is 23:30 local.
	clock := newFakeClock(time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC))
	cfg := testConfig()
	cfg.Location = loc
	g := newTestGovernor(t, cfg, clock)

	g.RecordUsage(context.Background(), 1000, 0, "x", domain.GeneratedByLLM)
	assert.False(t, g.TryAcquire())

	clock.Advance(time.Hour)
	assert.True(t, g.TryAcquire())
}

func TestGovernor_TemplateFallbackIsFree(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	g := newTestGovernor(t, testConfig(), clock)

	e := g.RecordUsage(context.Background(), 0, 0, "s-1/empathy", domain.GeneratedByTemplate)

	assert.Equal(t, 0.0, e.EstimatedCost)
	assert.Equal(t, domain.GeneratedByTemplate, e.GeneratedBy)
	assert.Equal(t, clock.Now(), e.Timestamp)
	assert.Equal(t, 1, g.Ledger().Len())
}

func TestGovernor_AlertFiresOncePerDay(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	metrics := &recordingMetrics{}
	g, err := New(testConfig(), WithClock(clock.Now), WithMetrics(metrics))
	require.NoError(t, err)
	ctx := context.Background()

	g.RecordUsage(ctx, 500, 0, "a", domain.GeneratedByLLM)
	assert.Equal(t, 0, metrics.gaugeSets("governor_alert", 1))

	g.RecordUsage(ctx, 350, 0, "b", domain.GeneratedByLLM)
	g.RecordUsage(ctx, 100, 0, "c", domain.GeneratedByLLM)
	assert.Equal(t, 1, metrics.gaugeSets("governor_alert", 1))
}

func TestGovernor_SummaryAndRestore(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	store := &memLedgerStore{}
	ledger := NewLedger(WithLedgerStore(store), WithLedgerClock(clock.Now))
	g, err := New(testConfig(), WithClock(clock.Now), WithLedger(ledger))
	require.NoError(t, err)
	ctx := context.Background()

	g.RecordUsage(ctx, 100, 50, "s-1/empathy", domain.GeneratedByLLM)
	g.RecordUsage(ctx, 0, 0, "s-2/empathy", domain.GeneratedByTemplate)
	g.RecordUsage(ctx, 100, 100, "s-1/empathy", domain.GeneratedByLLM)

	sum := g.Summary(ctx, domain.DayOf(clock.Now()))
	assert.Equal(t, 3, sum.Entries)
	assert.Equal(t, 2, sum.LLMCalls)
	assert.Equal(t, 1, sum.TemplateFallbacks)
	assert.Equal(t, 200, sum.TokensIn)
	assert.InDelta(t, 0.2+0.3, sum.EstimatedCost, 1e-12)
	assert.InDelta(t, 0.5, sum.ByCaller["s-1/empathy"], 1e-12)

	// Given a restarted process sharing the store
	fresh, err := New(testConfig(), WithClock(clock.Now),
		WithLedger(NewLedger(WithLedgerStore(store), WithLedgerClock(clock.Now))))
	require.NoError(t, err)
	fresh.Restore(ctx)

	assert.InDelta(t, 0.5, fresh.DailyCost(), 1e-12)
}

func TestGovernor_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PerMinute = 0
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.AlertFraction = 1.5
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestLedger_RetentionPrunes(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	l := NewLedger(WithRetention(24*time.Hour), WithLedgerClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, domain.CostLedgerEntry{Timestamp: clock.Now(), EstimatedCost: 1}))
	clock.Advance(25 * time.Hour)
	require.NoError(t, l.Append(ctx, domain.CostLedgerEntry{Timestamp: clock.Now(), EstimatedCost: 2}))

	assert.Equal(t, 1, l.Len())
	sum := l.Summary(ctx, domain.Trailing(clock.Now(), 72*time.Hour))
	assert.Equal(t, 2.0, sum.EstimatedCost)
}

func TestLedger_StoreFailureKeepsMemoryEntry(t *testing.T) {
	store := &memLedgerStore{appendErr: errors.New("disk full"), rangeErr: errors.New("disk full")}
	l := NewLedger(WithLedgerStore(store))
	now := time.Now()

	err := l.Append(context.Background(), domain.CostLedgerEntry{Timestamp: now, EstimatedCost: 0.25})

	require.Error(t, err)
	assert.Equal(t, 1, l.Len())
	sum := l.Summary(context.Background(), domain.Trailing(now, time.Minute))
	assert.Equal(t, 0.25, sum.EstimatedCost)
}

type memLedgerStore struct {
	mu        sync.Mutex
	entries   []domain.CostLedgerEntry
	appendErr error
	rangeErr  error
}

func (s *memLedgerStore) Append(_ context.Context, e domain.CostLedgerEntry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memLedgerStore) Range(_ context.Context, from, to time.Time) ([]domain.CostLedgerEntry, error) {
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := domain.Period{From: from, To: to}
	var out []domain.CostLedgerEntry
	for _, e := range s.entries {
		if p.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return out, nil
}

type gaugeSample struct {
	name  string
	value float64
}

type recordingMetrics struct {
	mu     sync.Mutex
	gauges []gaugeSample
}

func (m *recordingMetrics) RecordLatency(string, time.Duration, map[string]string) {}
func (m *recordingMetrics) RecordCounter(string, float64, map[string]string)       {}
func (m *recordingMetrics) RecordHistogram(string, float64, map[string]string)     {}

func (m *recordingMetrics) RecordGauge(name string, v float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, gaugeSample{name, v})
}

func (m *recordingMetrics) gaugeSets(name string, v float64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.gauges {
		if g.name == name && g.value == v {
			n++
		}
	}
	return n
}
