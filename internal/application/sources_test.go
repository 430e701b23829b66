package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/infrastructure/storage/memory"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// stubInferrer scores the mean of the vector, or fails with err.
type stubInferrer struct {
	schema domain.FeatureSchema
	err    error
}

func (s *stubInferrer) Schema(skill string) (domain.FeatureSchema, bool) {
	return s.schema, skill == s.schema.Skill
}

func (s *stubInferrer) Infer(_ context.Context, skill string, v domain.FeatureVector) (domain.SourceScore, error) {
	if s.err != nil {
		return domain.SourceScore{}, s.err
	}
	var sum float64
	for _, x := range v.Values {
		sum += x
	}
	return domain.NewSourceScore(domain.SourceModel, skill, sum/float64(len(v.Values)), time.Now()), nil
}

func newStubInferrer() *stubInferrer {
	return &stubInferrer{schema: domain.FeatureSchema{Skill: "empathy", Fields: []string{"a", "b"}}}
}

func TestScoreAdapter_CollectsAllSources(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutFeatures(ctx, "s-1", "empathy", map[string]float64{"a": 0.2, "b": 0.6}))
	require.NoError(t, store.PutSourceScore(ctx, "s-1",
		domain.NewSourceScore(domain.SourceHumanRated, "empathy", 0.9, time.Now())))
	require.NoError(t, store.PutSourceScore(ctx, "s-1",
		domain.NewSourceScore(domain.SourceTextDerived, "empathy", 0.3, time.Now())))

	adapter := NewScoreAdapter(store, store, newStubInferrer(), nil, nil)
	rep, err := adapter.Collect(ctx, "s-1", "empathy")

	require.NoError(t, err)
	assert.Empty(t, rep.Failures)
	require.Len(t, rep.Scores, 3)
	assert.Equal(t, domain.SourceModel, rep.Scores[0].Kind)
	assert.InDelta(t, 0.4, rep.Scores[0].Value, 1e-9)
	assert.Equal(t, domain.SourceTextDerived, rep.Scores[1].Kind)
	assert.Equal(t, domain.SourceHumanRated, rep.Scores[2].Kind)
	assert.Equal(t, map[string]float64{"a": 0.2, "b": 0.6}, rep.Features)
}

func TestScoreAdapter_FailuresDegradeToAbsent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutFeatures(ctx, "s-1", "empathy", map[string]float64{"a": 1}))
	require.NoError(t, store.PutSourceScore(ctx, "s-1",
		domain.NewSourceScore(domain.SourceHumanRated, "empathy", 0.9, time.Now())))
	boom := errors.New("upstream unavailable")
	store.FailSource(domain.SourceModel, boom)
	store.FailSource(domain.SourceInteractionDerived, boom)

	scores, failures, err := NewScoreAdapter(store, store, newStubInferrer(), nil, nil).
		GetSourceScores(ctx, "s-1", "empathy")

	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, domain.SourceHumanRated, scores[0].Kind)
	require.Len(t, failures, 2)
	assert.Equal(t, domain.SourceModel, failures[0].Kind)
	assert.Equal(t, domain.SourceInteractionDerived, failures[1].Kind)

	var lookup *ports.SourceLookupError
	require.ErrorAs(t, failures[1].Err, &lookup)
	assert.ErrorIs(t, lookup, boom)
}

func TestScoreAdapter_FatalModelErrors(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutFeatures(ctx, "s-1", "empathy", map[string]float64{"a": 1}))

	inf := newStubInferrer()
	inf.err = domain.NewFeatureShapeError("empathy", 2, 3, "schema drift")
	_, err := NewScoreAdapter(store, store, inf, nil, nil).Collect(ctx, "s-1", "empathy")
	assert.ErrorIs(t, err, domain.ErrFeatureShape)

	// A skill the model knows nothing about is unavailable, not absent.
	require.NoError(t, store.PutFeatures(ctx, "s-1", "humour", map[string]float64{"a": 1}))
	_, err = NewScoreAdapter(store, store, newStubInferrer(), nil, nil).Collect(ctx, "s-1", "humour")
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestScoreAdapter_NoFeaturesMeansNoModelScore(t *testing.T) {
	store := memory.New()
	inf := newStubInferrer()
	inf.err = errors.New("must not be called")

	rep, err := NewScoreAdapter(store, store, inf, nil, nil).Collect(context.Background(), "s-1", "empathy")

	require.NoError(t, err)
	assert.Empty(t, rep.Scores)
	assert.Empty(t, rep.Failures)
}
