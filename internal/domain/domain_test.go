package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp01(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.4, 0.4},
		{-0.2, 0},
		{1.3, 1},
		{math.NaN(), 0},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clamp01(tt.in), "Clamp01(%v)", tt.in)
	}
}

func TestParseSourceKind(t *testing.T) {
	k, err := ParseSourceKind("human_rated")
	require.NoError(t, err)
	assert.Equal(t, SourceHumanRated, k)

	_, err = ParseSourceKind("gut_feeling")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestFeatureSchema_Materialize(t *testing.T) {
	s := FeatureSchema{Skill: "empathy", Version: "v1", Fields: []string{"a", "b", "c"}}

	// Given partial upstream values plus one the schema does not know
	v := s.Materialize(map[string]float64{"c": 3, "a": 1, "zzz": 9})

	// Then the vector is schema-shaped with zero fill
	assert.Equal(t, []string{"a", "b", "c"}, v.Names)
	assert.Equal(t, []float64{1, 0, 3}, v.Values)
	assert.Equal(t, "v1", v.SchemaVersion)
	require.NoError(t, s.Check(v))
	assert.Equal(t, map[string]float64{"a": 1, "b": 0, "c": 3}, v.Summary())
}

func TestFeatureSchema_Check(t *testing.T) {
	s := FeatureSchema{Skill: "empathy", Version: "v2", Fields: []string{"a", "b"}}

	tests := []struct {
		name string
		v    FeatureVector
	}{
		{"too short", FeatureVector{Values: []float64{1}}},
		{"too long", FeatureVector{Values: []float64{1, 2, 3}}},
		{"reordered", FeatureVector{Names: []string{"b", "a"}, Values: []float64{1, 2}}},
		{"names mismatch values", FeatureVector{Names: []string{"a"}, Values: []float64{1, 2}}},
		{"other schema version", FeatureVector{SchemaVersion: "v1", Values: []float64{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Check(tt.v)
			assert.ErrorIs(t, err, ErrFeatureShape)
		})
	}

	assert.NoError(t, s.Check(FeatureVector{Values: []float64{1, 2}}), "unnamed vectors are checked by length")
}

func TestFusionWeights(t *testing.T) {
	w := FusionWeights{SourceModel: 0.35, SourceHumanRated: 0.2}
	require.NoError(t, w.Validate())
	assert.InDelta(t, 0.55, w.Total(), 1e-12)

	c := w.Clone()
	c[SourceModel] = 1
	assert.Equal(t, 0.35, w[SourceModel], "clone is independent")

	bad := FusionWeights{"gut_feeling": 1, SourceModel: -0.1}
	err := bad.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 2)
}

func TestWeightSet_With(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := &WeightSet{Version: 3, Skills: map[string]FusionWeights{
		"empathy":       {SourceModel: 1},
		"communication": {SourceHumanRated: 1},
	}}

	next := base.With("empathy", FusionWeights{SourceTextDerived: 1}, at)

	assert.Equal(t, int64(4), next.Version)
	assert.Equal(t, at, next.LoadedAt)
	assert.Equal(t, FusionWeights{SourceTextDerived: 1}, next.Skills["empathy"])
	assert.Equal(t, FusionWeights{SourceHumanRated: 1}, next.Skills["communication"])
	assert.Equal(t, FusionWeights{SourceModel: 1}, base.Skills["empathy"], "receiver untouched")

	var empty *WeightSet
	assert.Equal(t, int64(1), empty.With("empathy", FusionWeights{SourceModel: 1}, at).Version)
	_, ok := empty.For("empathy")
	assert.False(t, ok)
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, BandEmerging, BandFor(0.49))
	assert.Equal(t, BandDeveloping, BandFor(0.50))
	assert.Equal(t, BandDeveloping, BandFor(0.7499))
	assert.Equal(t, BandProficient, BandFor(0.75))
}

func TestPeriods(t *testing.T) {
	at := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

	day := DayOf(at)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), day.From)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), day.To)
	assert.True(t, day.Contains(day.From))
	assert.False(t, day.Contains(day.To), "periods are half-open")

	hour := HourOf(at)
	assert.Equal(t, time.Hour, hour.To.Sub(hour.From))

	week := Trailing(at, 7*24*time.Hour)
	assert.True(t, week.Contains(at))
	assert.False(t, week.Contains(at.Add(-8*24*time.Hour)))
}

func TestCostSummary_Add(t *testing.T) {
	var s CostSummary
	s.Add(CostLedgerEntry{TokensIn: 100, TokensOut: 50, EstimatedCost: 0.002, CallerContext: "s-1/empathy", GeneratedBy: GeneratedByLLM})
	s.Add(CostLedgerEntry{CallerContext: "s-1/empathy", GeneratedBy: GeneratedByTemplate})
	s.Add(CostLedgerEntry{TokensIn: 10, TokensOut: 5, EstimatedCost: 0.001, CallerContext: "s-2/empathy", GeneratedBy: GeneratedByLLM})

	assert.Equal(t, 3, s.Entries)
	assert.Equal(t, 2, s.LLMCalls)
	assert.Equal(t, 1, s.TemplateFallbacks)
	assert.Equal(t, 110, s.TokensIn)
	assert.InDelta(t, 0.003, s.EstimatedCost, 1e-12)
	assert.InDelta(t, 0.002, s.ByCaller["s-1/empathy"], 1e-12)
}
