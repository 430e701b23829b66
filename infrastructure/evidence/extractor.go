// Package evidence scores raw per-source material for skill relevance and
// selects a small, diverse, duplicate-free set of supporting snippets.
package evidence

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// MaxEvidenceItems is the hard cap on returned evidence.
const MaxEvidenceItems = 5

// Extractor implements evidence extraction and ranking. It is safe for
// concurrent use.
type Extractor struct {
	profiles  map[string]SkillProfile
	fallback  SkillProfile
	selection Selection
	store     ports.EvidenceStore
	metrics   ports.MetricsCollector
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithStore sets the evidence store used by FetchSubjectContext.
func WithStore(s ports.EvidenceStore) Option {
	return func(e *Extractor) { e.store = s }
}

// WithSelection overrides the selection settings.
func WithSelection(s Selection) Option {
	return func(e *Extractor) { e.selection = s }
}

// WithDefaultProfile sets the profile used for skills without one.
func WithDefaultProfile(p SkillProfile) Option {
	return func(e *Extractor) { e.fallback = p }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(e *Extractor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an Extractor for the given per-skill profiles.
func NewExtractor(profiles map[string]SkillProfile, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		profiles:  make(map[string]SkillProfile, len(profiles)),
		fallback:  DefaultProfile(),
		selection: DefaultSelection(),
		metrics:   ports.NopMetrics{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("evidence-extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}

	for skill, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", skill, err)
		}
		e.profiles[skill] = p
	}
	if err := e.fallback.Validate(); err != nil {
		return nil, fmt.Errorf("default profile: %w", err)
	}
	if err := validate.Struct(e.selection); err != nil {
		return nil, fmt.Errorf("selection validation failed: %w", err)
	}
	return e, nil
}

// candidate is a scored unit awaiting selection.
type candidate struct {
	item domain.EvidenceItem
	norm string
}

// compiledProfile is a SkillProfile with markers and event types
// normalised once per extraction.
type compiledProfile struct {
	SkillProfile
	markers [][]string
	events  map[string]float64
}

func (e *Extractor) compile(skill string, n *normalizer) compiledProfile {
	p, ok := e.profiles[skill]
	if !ok {
		p = e.fallback
	}

	cp := compiledProfile{SkillProfile: p, events: make(map[string]float64, len(p.EventWeights))}
	for _, m := range p.Markers {
		if words := n.Words(m); len(words) > 0 {
			cp.markers = append(cp.markers, words)
		}
	}
	for ev, w := range p.EventWeights {
		cp.events[n.Normalize(ev)] = w
	}
	return cp
}

// Extract scores every unit in sc and returns at most MaxEvidenceItems
// items ordered by relevance. Absent sources contribute nothing and an empty
// context yields an empty, non-nil list.
func (e *Extractor) Extract(ctx context.Context, skill string, sc domain.SubjectContext) []domain.EvidenceItem {
	_, span := e.tracer.Start(ctx, "EvidenceExtractor.Extract",
		trace.WithAttributes(
			attribute.String("skill", skill),
			attribute.String("subject_id", sc.SubjectID),
		),
	)
	defer span.End()

	start := time.Now()
	n := newNormalizer()
	profile := e.compile(skill, n)

	var cands []candidate
	for _, kind := range domain.EvidenceSourceKinds {
		for _, u := range sc.Units[kind] {
			if strings.TrimSpace(u.Text) == "" {
				continue
			}
			words := n.Words(u.Text)
			rel := domain.Clamp01(profile.relevance(kind, u, words, n))
			if rel <= e.selection.MinRelevance {
				continue
			}
			cands = append(cands, candidate{
				item: domain.EvidenceItem{
					SourceKind:    kind,
					Text:          u.Text,
					ContextBefore: u.ContextBefore,
					ContextAfter:  u.ContextAfter,
					Position:      u.Position,
					Relevance:     rel,
				},
				norm: strings.Join(words, " "),
			})
		}
	}

	items := selectItems(cands, e.selection)

	labels := map[string]string{"skill": skill}
	e.metrics.RecordHistogram("evidence_candidates", float64(len(cands)), labels)
	e.metrics.RecordHistogram("evidence_selected", float64(len(items)), labels)
	e.metrics.RecordLatency("evidence_extract", time.Since(start), labels)
	span.SetAttributes(
		attribute.Int("evidence.candidates", len(cands)),
		attribute.Int("evidence.selected", len(items)),
	)
	e.logger.Debug("evidence extracted",
		"subject_id", sc.SubjectID, "skill", skill,
		"candidates", len(cands), "selected", len(items))

	return items
}

func (p compiledProfile) relevance(kind domain.SourceKind, u domain.RawUnit, words []string, n *normalizer) float64 {
	switch kind {
	case domain.SourceTextDerived:
		if len(words) == 0 {
			return 0
		}
		hits := countHits(words, p.markers)
		return min(1, float64(hits)/(float64(len(words))*p.TargetDensity))
	case domain.SourceInteractionDerived:
		return p.events[n.Normalize(u.EventType)]
	case domain.SourceHumanRated:
		return p.FeedbackBase + p.FeedbackBonus*float64(countHits(words, p.markers))
	default:
		return 0
	}
}

// countHits counts whole-word occurrences of every marker phrase.
func countHits(words []string, markers [][]string) int {
	hits := 0
	for _, m := range markers {
		for i := 0; i+len(m) <= len(words); i++ {
			if slices.Equal(words[i:i+len(m)], m) {
				hits++
			}
		}
	}
	return hits
}

// selectItems ranks, deduplicates and picks the final evidence set.
//
// Candidates are sorted by relevance (stable, so ties keep source order).
// A candidate whose normalised text equals or nearly equals a better one
// is dropped. The best item of each source is taken first while space
// remains, then the rest are filled by relevance.
func selectItems(cands []candidate, sel Selection) []domain.EvidenceItem {
	limit := min(sel.MaxItems, MaxEvidenceItems)
	if limit <= 0 {
		limit = MaxEvidenceItems
	}

	slices.SortStableFunc(cands, func(a, b candidate) int {
		return cmp.Compare(b.item.Relevance, a.item.Relevance)
	})

	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		dup := false
		for _, k := range kept {
			if nearDuplicate(c.norm, k.norm, sel.NearDuplicateSimilarity) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}

	picked := make([]int, 0, limit)
	chosen := make([]bool, len(kept))
	seen := make(map[domain.SourceKind]bool, len(domain.EvidenceSourceKinds))
	for i, c := range kept {
		if len(picked) == limit {
			break
		}
		if !seen[c.item.SourceKind] {
			seen[c.item.SourceKind] = true
			chosen[i] = true
			picked = append(picked, i)
		}
	}
	for i := range kept {
		if len(picked) == limit {
			break
		}
		if !chosen[i] {
			picked = append(picked, i)
		}
	}

	// kept is already in relevance order, so index order is the final order.
	slices.Sort(picked)
	out := make([]domain.EvidenceItem, len(picked))
	for i, idx := range picked {
		out[i] = kept[idx].item
	}
	return out
}

// FetchSubjectContext gathers raw evidence units for every evidence source
// concurrently. A failing source is logged and left out.
func (e *Extractor) FetchSubjectContext(ctx context.Context, subjectID, skill string) domain.SubjectContext {
	sc := domain.SubjectContext{
		SubjectID: subjectID,
		Units:     make(map[domain.SourceKind][]domain.RawUnit, len(domain.EvidenceSourceKinds)),
	}
	if e.store == nil {
		return sc
	}

	results := make([][]domain.RawUnit, len(domain.EvidenceSourceKinds))
	var g errgroup.Group
	for i, kind := range domain.EvidenceSourceKinds {
		g.Go(func() error {
			units, err := e.store.GetRawEvidenceCandidates(ctx, subjectID, skill, kind)
			if err != nil {
				lookupErr := ports.NewSourceLookupError(kind, "GetRawEvidenceCandidates", err)
				e.logger.Warn("evidence source unavailable",
					"subject_id", subjectID, "skill", skill, "source", kind, "error", lookupErr)
				e.metrics.RecordCounter("evidence_source_failures_total", 1,
					map[string]string{"source": kind.String()})
				return nil
			}
			results[i] = units
			return nil
		})
	}
	_ = g.Wait()

	for i, kind := range domain.EvidenceSourceKinds {
		if len(results[i]) > 0 {
			sc.Units[kind] = results[i]
		}
	}
	return sc
}
