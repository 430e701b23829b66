package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-assay/internal/domain"
)

func TestTemplates_Render(t *testing.T) {
	tmpl, err := NewTemplates(map[string]map[domain.ScoreBand]string{
		"empathy": {domain.BandProficient: "{{title .Skill}} is a clear strength ({{pct .Score}})."},
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		skill string
		score float64
		want  string
	}{
		{"skill override", "empathy", 0.9, "Empathy is a clear strength (90%)."},
		{"skill without band override uses generic", "empathy", 0.3, "Empathy is currently emerging, with a fused score of 30%."},
		{"unknown skill uses generic", "problem_solving", 0.6, "Problem solving is developing, with a fused score of 60%."},
		{"score below a band edge is floored", "empathy", 0.745, "Empathy is developing, with a fused score of 74%."},
		{"multi-byte skill name", "écoute_active", 0.3, "Écoute active is currently emerging, with a fused score of 30%."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			req.Skill = tt.skill
			req.Score = tt.score

			got := tmpl.Render(req)

			assert.Contains(t, got, tt.want)
			assert.Equal(t, got, tmpl.Render(req), "deterministic")
		})
	}
}

func TestTemplates_GenericQuotesTopEvidence(t *testing.T) {
	tmpl, err := NewTemplates(nil)
	require.NoError(t, err)

	req := testRequest()
	got := tmpl.Render(req)

	assert.Contains(t, got, `"I understand how that felt."`)
	assert.Contains(t, got, "draws on 2 sources and is missing 2 sources")

	req.Evidence = nil
	req.Missing = nil
	got = tmpl.Render(req)
	assert.NotContains(t, got, "evidence:")
	assert.NotContains(t, got, "missing")
}

func TestTemplates_InvalidOverride(t *testing.T) {
	_, err := NewTemplates(map[string]map[domain.ScoreBand]string{
		"empathy": {domain.BandEmerging: "{{.Skill"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}
