package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/domain"
)

func TestMockLLMClient_PatternsAndUsage(t *testing.T) {
	m := NewMockLLMClient("mock")
	m.AddResponse(MockResponse{Pattern: "Skill: empathy", Response: "Empathy note.", TokensOut: 3})

	text, in, out, err := m.CompleteWithUsage(context.Background(), "Skill: Empathy\nScore: 0.7", nil)
	require.NoError(t, err)
	assert.Equal(t, "Empathy note.", text)
	assert.Equal(t, 6, in)
	assert.Equal(t, 3, out)

	text, err = m.Complete(context.Background(), "Skill: leadership", nil)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(text), 60)

	m.FailWith(errors.New("down"))
	_, err = m.Complete(context.Background(), "anything", nil)
	assert.Error(t, err)
	assert.Equal(t, 3, m.CallCount())
}

func TestMockLLMClient_Concurrent(t *testing.T) {
	m := NewMockLLMClient("mock")
	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Complete(context.Background(), "prompt", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 25, m.CallCount())
}

func TestGenerateSubjects_Deterministic(t *testing.T) {
	cfg := GeneratorConfig{
		Skill:    "empathy",
		Features: []string{"empathy_markers", "help_given"},
		Markers:  []string{"understand"},
		Events:   []string{"helped_peer"},
		DropRate: 0.3,
	}

	a := GenerateSubjects(cfg, 20, 42)
	b := GenerateSubjects(cfg, 20, 42)
	assert.Equal(t, a, b)
	require.Len(t, a, 20)

	for _, s := range a {
		assert.Len(t, s.Features, 2)
		assert.NotContains(t, s.Scores, domain.SourceModel)
		assert.Len(t, s.Units, len(s.Scores))
		for _, v := range s.Scores {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 1.0)
		}
	}
}

type recordingWriter struct {
	scores, features, units int
}

func (r *recordingWriter) PutSourceScore(context.Context, string, domain.SourceScore) error {
	r.scores++
	return nil
}

func (r *recordingWriter) PutFeatures(context.Context, string, string, map[string]float64) error {
	r.features++
	return nil
}

func (r *recordingWriter) AddRawUnits(_ context.Context, _, _ string, units ...domain.RawUnit) error {
	r.units += len(units)
	return nil
}

func TestSeed(t *testing.T) {
	subjects := GenerateSubjects(GeneratorConfig{Skill: "empathy", Features: []string{"x"}}, 3, 1)
	w := &recordingWriter{}

	require.NoError(t, Seed(context.Background(), w, subjects, time.Now()))
	assert.Equal(t, 9, w.scores)
	assert.Equal(t, 3, w.features)
	assert.Equal(t, 9, w.units)
	assert.Equal(t, []string{"subject-000", "subject-001", "subject-002"}, IDs(subjects))
}
