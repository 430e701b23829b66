package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/infrastructure/cache"
	"github.com/ahrav/go-assay/infrastructure/governor"
	"github.com/ahrav/go-assay/infrastructure/llm"
	"github.com/ahrav/go-assay/internal/domain"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("listens ", n))
}

func testGovernor(t *testing.T, perMinute int) *governor.Governor {
	t.Helper()
	g, err := governor.New(governor.Config{
		PerMinute:        perMinute,
		PerHour:          100,
		InputTokenPrice:  0.001,
		OutputTokenPrice: 0.002,
		DailyCeiling:     100,
	})
	require.NoError(t, err)
	return g
}

func testRequest() Request {
	return Request{
		SubjectID:  "s-1",
		Skill:      "empathy",
		Score:      0.72,
		Confidence: 0.81,
		Present:    []domain.SourceKind{domain.SourceModel, domain.SourceTextDerived},
		Missing:    []domain.SourceKind{domain.SourceInteractionDerived, domain.SourceHumanRated},
		Evidence: []domain.EvidenceItem{
			{SourceKind: domain.SourceTextDerived, Text: "I understand how that felt.", Relevance: 0.9},
			{SourceKind: domain.SourceHumanRated, Text: "Listened carefully to concerns.", Relevance: 0.7},
		},
		Features: map[string]float64{"lexical_diversity": 0.42, "word_count": 310},
	}
}

type fixture struct {
	core *llm.MockCoreLLM
	gov  *governor.Governor
	gen  *Generator
}

func newFixture(t *testing.T, cfg Config, perMinute int) *fixture {
	t.Helper()
	core := llm.NewMockCoreLLM()
	core.Response = words(60)
	gov := testGovernor(t, perMinute)
	gen, err := NewGenerator(cache.NewLRUStore(100, cfg.CacheTTL), gov, cfg,
		WithClient(llm.NewClientFromCore(core, nil)))
	require.NoError(t, err)
	return &fixture{core: core, gov: gov, gen: gen}
}

func TestGenerate_MissCallsServiceThenHits(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 10)
	ctx := context.Background()

	// Given a cold cache
	first := f.gen.Generate(ctx, testRequest())

	// Then the service is called and its cost recorded
	assert.Equal(t, domain.GeneratedByLLM, first.GeneratedBy)
	assert.Equal(t, words(60), first.Text)
	assert.Equal(t, 30, first.TokenCount)
	assert.InDelta(t, 10*0.001+20*0.002, first.EstimatedCost, 1e-12)
	assert.NotEmpty(t, first.CacheKey)
	assert.Equal(t, 1, f.gov.Ledger().Len())

	// When the same input is explained again
	second := f.gen.Generate(ctx, testRequest())

	// Then the cached result is returned unmodified without a call
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.core.GetCallCount())
	assert.Equal(t, 1, f.gov.Ledger().Len())
}

func TestGenerate_PromptCarriesContext(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 10)

	f.gen.Generate(context.Background(), testRequest())

	p := f.core.LastPrompt
	assert.Contains(t, p, "Skill: empathy")
	assert.Contains(t, p, "Fused score: 0.72 (developing)")
	assert.Contains(t, p, "Sources missing: interaction_derived, human_rated")
	assert.Contains(t, p, "- lexical_diversity: 0.420")
	assert.Contains(t, p, `1. [text_derived] "I understand how that felt."`)
	assert.Equal(t, 400, f.core.LastOpts["max_tokens"])
	assert.Equal(t, 0.2, f.core.LastOpts["temperature"])
}

func TestGenerate_GovernorDenialFallsBack(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 1)
	require.True(t, f.gov.TryAcquire())

	res := f.gen.Generate(context.Background(), testRequest())

	assert.Equal(t, domain.GeneratedByTemplate, res.GeneratedBy)
	assert.Contains(t, res.Text, "Empathy is developing, with a fused score of 72%")
	assert.Equal(t, 0.0, res.EstimatedCost)
	assert.Equal(t, 0, f.core.GetCallCount())

	entries := f.gov.Ledger().Entries(domain.Trailing(time.Now(), time.Hour))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.GeneratedByTemplate, entries[0].GeneratedBy)
	assert.Equal(t, "s-1/empathy", entries[0].CallerContext)
}

func TestGenerate_ServiceFailureFallsBack(t *testing.T) {
	f := newFixture(t, DefaultConfig(), 10)
	f.core.Error = errors.New("connection reset")

	res := f.gen.Generate(context.Background(), testRequest())

	assert.Equal(t, domain.GeneratedByTemplate, res.GeneratedBy)
	assert.Equal(t, 1, f.core.GetCallCount())
	assert.Equal(t, 1, f.gov.Ledger().Len())
}

func TestGenerate_TimeoutFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	f := newFixture(t, cfg, 10)
	f.core.ResponseDelay = time.Second

	start := time.Now()
	res := f.gen.Generate(context.Background(), testRequest())

	assert.Equal(t, domain.GeneratedByTemplate, res.GeneratedBy)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestGenerate_NoClientFallsBack(t *testing.T) {
	gen, err := NewGenerator(cache.NewLRUStore(10, 0), testGovernor(t, 10), DefaultConfig())
	require.NoError(t, err)

	res := gen.Generate(context.Background(), testRequest())

	assert.Equal(t, domain.GeneratedByTemplate, res.GeneratedBy)
}

func TestGenerate_WordBand(t *testing.T) {
	tests := []struct {
		name      string
		perMinute int
		responses []string
		wantText  string
		wantCalls int
	}{
		{"in band accepted", 10, []string{words(60)}, words(60), 1},
		{"short regenerated", 10, []string{words(10), words(80)}, words(80), 2},
		{"long regenerated", 10, []string{words(250), words(120)}, words(120), 2},
		{"second accepted regardless", 10, []string{words(10), words(5)}, words(5), 2},
		{"regeneration denied keeps first", 1, []string{words(10), words(80)}, words(10), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), tt.perMinute)
			f.core.Responses = tt.responses

			res := f.gen.Generate(context.Background(), testRequest())

			assert.Equal(t, domain.GeneratedByLLM, res.GeneratedBy)
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantCalls, f.core.GetCallCount())
			assert.Equal(t, 30*tt.wantCalls, res.TokenCount)
			assert.Equal(t, tt.wantCalls, f.gov.Ledger().Len())
		})
	}
}

func TestGenerate_TruncatesEvidenceOverTokenLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PromptTokenLimit = 10
	f := newFixture(t, cfg, 10)

	req := testRequest()
	req.Evidence = nil
	for i := range 12 {
		req.Evidence = append(req.Evidence, domain.EvidenceItem{
			SourceKind: domain.SourceTextDerived,
			Text:       fmt.Sprintf("evidence sentence number %d", i),
			Relevance:  1 - float64(i)/20,
		})
	}

	res := f.gen.Generate(context.Background(), req)

	// Still over the limit at three items, the call proceeds anyway.
	assert.Equal(t, domain.GeneratedByLLM, res.GeneratedBy)
	assert.Contains(t, f.core.LastPrompt, "3. [text_derived]")
	assert.NotContains(t, f.core.LastPrompt, "4. [text_derived]")
}

func TestGenerate_CorruptCacheEntryIsMiss(t *testing.T) {
	store := cache.NewLRUStore(10, 0)
	core := llm.NewMockCoreLLM()
	core.Response = words(60)
	gen, err := NewGenerator(store, testGovernor(t, 10), DefaultConfig(),
		WithClient(llm.NewClientFromCore(core, nil)))
	require.NoError(t, err)

	req := testRequest()
	key := CacheKey(req.Skill, req.Score, req.Evidence)
	require.NoError(t, store.Set(context.Background(), key, "not a result", 0))

	res := gen.Generate(context.Background(), req)

	assert.Equal(t, domain.GeneratedByLLM, res.GeneratedBy)
	assert.Equal(t, 1, core.GetCallCount())
}

func TestGenerate_CacheFailureStillReturns(t *testing.T) {
	gen, err := NewGenerator(failingCache{}, testGovernor(t, 10), DefaultConfig())
	require.NoError(t, err)

	res := gen.Generate(context.Background(), testRequest())

	assert.Equal(t, domain.GeneratedByTemplate, res.GeneratedBy)
	assert.NotEmpty(t, res.Text)
}

func TestNewGenerator_Validation(t *testing.T) {
	_, err := NewGenerator(nil, testGovernor(t, 1), DefaultConfig())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	cfg := DefaultConfig()
	cfg.MaxWords = cfg.MinWords
	_, err = NewGenerator(cache.NewLRUStore(1, 0), testGovernor(t, 1), cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestCacheKey(t *testing.T) {
	ev := []domain.EvidenceItem{
		{Text: "a", Relevance: 0.9},
		{Text: "b", Relevance: 0.8},
		{Text: "c", Relevance: 0.7},
	}
	base := CacheKey("empathy", 0.712, ev)

	assert.Len(t, base, 64)
	assert.Equal(t, base, CacheKey("empathy", 0.714, ev), "score rounds to two decimals")
	assert.NotEqual(t, base, CacheKey("empathy", 0.72, ev))
	assert.NotEqual(t, base, CacheKey("communication", 0.712, ev))

	withLow := append(ev[:3:3], domain.EvidenceItem{Text: "d", Relevance: 0.1})
	assert.Equal(t, base, CacheKey("empathy", 0.712, withLow), "only the top three count")

	reordered := []domain.EvidenceItem{ev[2], ev[0], ev[1]}
	assert.Equal(t, base, CacheKey("empathy", 0.712, reordered))
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (any, bool, error) {
	return nil, false, errors.New("down")
}

func (failingCache) Set(context.Context, string, any, time.Duration) error {
	return errors.New("down")
}
func (failingCache) Delete(context.Context, string) error { return nil }
func (failingCache) Clear(context.Context) error          { return nil }
