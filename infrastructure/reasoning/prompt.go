package reasoning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"text/template"

	"github.com/ahrav/go-assay/internal/domain"
)

// Request is everything the generator needs to explain one fused score.
type Request struct {
	SubjectID  string
	Skill      string
	Score      float64
	Confidence float64
	Present    []domain.SourceKind
	Missing    []domain.SourceKind
	Evidence   []domain.EvidenceItem
	Features   map[string]float64
}

// caller identifies the request in the cost ledger.
func (r Request) caller() string { return r.SubjectID + "/" + r.Skill }

// cacheKeyEvidence is how many of the most relevant evidence texts feed the
// cache key.
const cacheKeyEvidence = 3

// CacheKey derives the reasoning cache key from the skill, the score rounded
// to two decimals and the text of the top three evidence items by relevance.
// Subjects with identical inputs share an explanation.
func CacheKey(skill string, score float64, evidence []domain.EvidenceItem) string {
	top := slices.Clone(evidence)
	slices.SortStableFunc(top, func(a, b domain.EvidenceItem) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
			return 1
		default:
			return 0
		}
	})
	if len(top) > cacheKeyEvidence {
		top = top[:cacheKeyEvidence]
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%.2f", skill, math.Round(score*100)/100)
	for _, e := range top {
		h.Write([]byte{0})
		h.Write([]byte(e.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// truncationSteps are the evidence counts tried, in order, when a prompt is
// over the token limit. The last step is used even if still over.
var truncationSteps = []int{10, 5, 3}

const promptText = `You are writing a short assessment note for a reviewer.

Skill: {{.Skill}}
Subject: {{.SubjectID}}
Fused score: {{printf "%.2f" .Score}} ({{.Band}})
Confidence: {{printf "%.2f" .Confidence}}
Sources present: {{join .Present}}{{if .Missing}}
Sources missing: {{join .Missing}}{{end}}
{{- if .Features}}

Feature summary:
{{- range .Features}}
- {{.Name}}: {{printf "%.3f" .Value}}
{{- end}}
{{- end}}
{{- if .Evidence}}

Evidence:
{{- range $i, $e := .Evidence}}
{{add $i 1}}. [{{$e.SourceKind}}] "{{$e.Text}}"{{if $e.Position}} ({{$e.Position}}){{end}}
{{- end}}
{{- end}}

Explain in {{.MinWords}} to {{.MaxWords}} words why the score is {{.Band}}, citing the evidence above. Do not invent facts. Plain prose, no lists.`

var promptTemplate = template.Must(template.New("prompt").Funcs(template.FuncMap{
	"join": func(kinds []domain.SourceKind) string {
		if len(kinds) == 0 {
			return "none"
		}
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = string(k)
		}
		return strings.Join(parts, ", ")
	},
	"add": func(a, b int) int { return a + b },
}).Parse(promptText))

type feature struct {
	Name  string
	Value float64
}

type promptData struct {
	Request
	Band               domain.ScoreBand
	Features           []feature
	MinWords, MaxWords int
}

func renderPrompt(req Request, evidence []domain.EvidenceItem, minWords, maxWords int) (string, error) {
	names := slices.Sorted(maps.Keys(req.Features))
	features := make([]feature, len(names))
	for i, n := range names {
		features[i] = feature{Name: n, Value: req.Features[n]}
	}

	data := promptData{
		Request:  req,
		Band:     domain.BandFor(req.Score),
		Features: features,
		MinWords: minWords,
		MaxWords: maxWords,
	}
	data.Request.Evidence = evidence

	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), nil
}

// wordCount counts whitespace-separated words.
func wordCount(s string) int { return len(strings.Fields(s)) }
