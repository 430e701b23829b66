package reasoning

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/ahrav/go-assay/internal/domain"
)

var genericFallback = map[domain.ScoreBand]string{
	domain.BandEmerging: `{{title .Skill}} is currently emerging, with a fused score of {{pct .Score}}. ` +
		`The assessment draws on {{count .Present}}{{if .Missing}} and is missing {{count .Missing}}{{end}}. ` +
		`{{if .Top}}The clearest signal so far: "{{.Top}}". {{end}}` +
		`Further practice and observation are needed before this skill can be considered developing.`,
	domain.BandDeveloping: `{{title .Skill}} is developing, with a fused score of {{pct .Score}}. ` +
		`The assessment draws on {{count .Present}}{{if .Missing}} and is missing {{count .Missing}}{{end}}. ` +
		`{{if .Top}}Representative evidence: "{{.Top}}". {{end}}` +
		`The subject shows the skill in some situations but not yet consistently.`,
	domain.BandProficient: `{{title .Skill}} is proficient, with a fused score of {{pct .Score}}. ` +
		`The assessment draws on {{count .Present}}{{if .Missing}} and is missing {{count .Missing}}{{end}}. ` +
		`{{if .Top}}Representative evidence: "{{.Top}}". {{end}}` +
		`The subject demonstrates the skill consistently across the available sources.`,
}

var fallbackFuncs = template.FuncMap{
	"title": func(s string) string {
		s = strings.ReplaceAll(s, "_", " ")
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError {
			return s
		}
		return string(unicode.ToUpper(r)) + s[size:]
	},
	// pct floors so a score never reads as reaching the next band.
	"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", math.Floor(v*100+1e-9)) },
	"count": func(kinds []domain.SourceKind) string {
		if len(kinds) == 1 {
			return "1 source"
		}
		return fmt.Sprintf("%d sources", len(kinds))
	},
}

// Templates renders the deterministic explanations used when the completion
// service is not called or fails. Templates are keyed by skill and band;
// skills without their own template use the generic set.
type Templates struct {
	generic map[domain.ScoreBand]*template.Template
	bySkill map[string]map[domain.ScoreBand]*template.Template
}

// NewTemplates parses the generic templates plus any per-skill overrides.
// A skill may override only some bands.
func NewTemplates(overrides map[string]map[domain.ScoreBand]string) (*Templates, error) {
	t := &Templates{
		generic: make(map[domain.ScoreBand]*template.Template, len(genericFallback)),
		bySkill: make(map[string]map[domain.ScoreBand]*template.Template, len(overrides)),
	}
	for band, text := range genericFallback {
		tmpl, err := parseFallback("generic/"+string(band), text)
		if err != nil {
			return nil, err
		}
		t.generic[band] = tmpl
	}
	for skill, bands := range overrides {
		t.bySkill[skill] = make(map[domain.ScoreBand]*template.Template, len(bands))
		for band, text := range bands {
			tmpl, err := parseFallback(skill+"/"+string(band), text)
			if err != nil {
				return nil, err
			}
			t.bySkill[skill][band] = tmpl
		}
	}
	return t, nil
}

func parseFallback(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(fallbackFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: fallback template %s: %v", domain.ErrInvalidConfiguration, name, err)
	}
	return tmpl, nil
}

type fallbackData struct {
	Request
	Band domain.ScoreBand
	Top  string
}

// Render produces the explanation for req. It never fails: a template
// execution error degrades to a fixed sentence.
func (t *Templates) Render(req Request) string {
	band := domain.BandFor(req.Score)
	tmpl := t.generic[band]
	if skill, ok := t.bySkill[req.Skill]; ok {
		if st, ok := skill[band]; ok {
			tmpl = st
		}
	}

	data := fallbackData{Request: req, Band: band}
	best := -1.0
	for _, e := range req.Evidence {
		if e.Relevance > best {
			best, data.Top = e.Relevance, e.Text
		}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return fmt.Sprintf("%s: fused score %.2f (%s).", req.Skill, req.Score, band)
	}
	return sb.String()
}
