// Package application wires the fusion pipeline together. The Engine turns
// one (subject, skill) unit into a persisted FusedAssessment: it collects
// source scores, fuses them, extracts evidence, generates an explanation
// and supersedes the previous assessment.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-assay/infrastructure/reasoning"
	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// EvidenceSource gathers and ranks evidence for a subject.
type EvidenceSource interface {
	FetchSubjectContext(ctx context.Context, subjectID, skill string) domain.SubjectContext
	Extract(ctx context.Context, skill string, sc domain.SubjectContext) []domain.EvidenceItem
}

// Explainer produces the reasoning text for an assessment. It never fails.
type Explainer interface {
	Generate(ctx context.Context, req reasoning.Request) domain.ReasoningResult
}

// CostReporter summarises recorded completion spend.
type CostReporter interface {
	Summary(ctx context.Context, p domain.Period) domain.CostSummary
}

// BatchResult is the outcome of one unit in a batch. Exactly one of
// Assessment and Err is set.
type BatchResult struct {
	SubjectID  string                  `json:"subject_id"`
	Skill      string                  `json:"skill"`
	Assessment *domain.FusedAssessment `json:"assessment,omitempty"`
	Err        error                   `json:"-"`
}

// Engine is the entry point for fusion runs.
type Engine struct {
	sources   *ScoreAdapter
	fuser     domain.Fuser
	evidence  EvidenceSource
	explainer Explainer
	costs     CostReporter
	repo      ports.AssessmentRepository
	weights   *WeightRegistry
	loader    ports.ConfigLoader
	units     unitLocks

	concurrency int
	metrics     ports.MetricsCollector
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRepository persists assessments. Without one, assessments are
// returned but not stored.
func WithRepository(r ports.AssessmentRepository) EngineOption {
	return func(e *Engine) { e.repo = r }
}

// WithConfigLoader sets the loader ReloadWeights reads from.
func WithConfigLoader(l ports.ConfigLoader) EngineOption {
	return func(e *Engine) { e.loader = l }
}

// WithCostReporter sets the source of cost summaries.
func WithCostReporter(c CostReporter) EngineOption {
	return func(e *Engine) { e.costs = c }
}

// WithBatchConcurrency caps concurrent units in a batch.
func WithBatchConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m ports.MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithEngineClock overrides time.Now for CreatedAt.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine assembles an Engine from its components.
func NewEngine(
	sources *ScoreAdapter,
	fuser domain.Fuser,
	evidence EvidenceSource,
	explainer Explainer,
	weights *WeightRegistry,
	opts ...EngineOption,
) (*Engine, error) {
	if sources == nil || fuser == nil || evidence == nil || explainer == nil || weights == nil {
		return nil, fmt.Errorf("%w: engine requires sources, fuser, evidence, explainer and weights",
			domain.ErrInvalidConfiguration)
	}
	e := &Engine{
		sources:     sources,
		fuser:       fuser,
		evidence:    evidence,
		explainer:   explainer,
		weights:     weights,
		concurrency: 8,
		metrics:     ports.NopMetrics{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("fusion-engine"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// FuseAndExplain runs the full pipeline for one subject and skill and
// returns the persisted assessment. Source failures and completion failures
// are absorbed; unknown skills, fatal model errors, a fusion with no
// sources and storage failures are returned.
func (e *Engine) FuseAndExplain(ctx context.Context, subjectID, skill string) (*domain.FusedAssessment, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.FuseAndExplain",
		trace.WithAttributes(
			attribute.String("subject_id", subjectID),
			attribute.String("skill", skill),
		),
	)
	defer span.End()

	start := time.Now()
	a, err := e.fuseAndExplain(ctx, subjectID, skill)

	outcome := "success"
	if err != nil {
		outcome = outcomeFor(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("fusion failed", "subject_id", subjectID, "skill", skill, "error", err)
	} else {
		span.SetAttributes(
			attribute.String("assessment_id", a.ID),
			attribute.Float64("fused_score", a.FusedScore),
			attribute.String("generated_by", string(a.Reasoning.GeneratedBy)),
		)
	}
	e.metrics.RecordCounter("fusion_total", 1, map[string]string{"skill": skill, "outcome": outcome})
	e.metrics.RecordLatency("fusion", time.Since(start), map[string]string{"skill": skill})
	return a, err
}

func (e *Engine) fuseAndExplain(ctx context.Context, subjectID, skill string) (*domain.FusedAssessment, error) {
	// Weights are fixed here; a concurrent update applies to later runs.
	snap, ok := e.weights.Snapshot(skill)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSkill, skill)
	}

	rep, err := e.sources.Collect(ctx, subjectID, skill)
	if err != nil {
		return nil, err
	}

	fused, err := e.fuser.Fuse(skill, rep.Scores, snap.Weights)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordHistogram("fusion_missing_sources", float64(len(fused.Missing)),
		map[string]string{"skill": skill})

	sc := e.evidence.FetchSubjectContext(ctx, subjectID, skill)
	items := e.evidence.Extract(ctx, skill, sc)

	result := e.explainer.Generate(ctx, reasoning.Request{
		SubjectID:  subjectID,
		Skill:      skill,
		Score:      fused.Score,
		Confidence: fused.Confidence,
		Present:    fused.Present,
		Missing:    fused.Missing,
		Evidence:   items,
		Features:   rep.Features,
	})

	a := &domain.FusedAssessment{
		SubjectID:           subjectID,
		Skill:               skill,
		FusedScore:          fused.Score,
		Confidence:          fused.Confidence,
		ContributingSources: contributing(rep.Scores, fused.Present),
		MissingSources:      fused.Missing,
		WeightsUsed:         snap,
		Evidence:            items,
		Reasoning:           result,
		CreatedAt:           e.now(),
	}
	if err := e.persist(ctx, a); err != nil {
		return nil, err
	}

	e.logger.Info("assessment fused",
		"subject_id", subjectID,
		"skill", skill,
		"assessment_id", a.ID,
		"fused_score", a.FusedScore,
		"confidence", a.Confidence,
		"missing", len(a.MissingSources),
		"generated_by", a.Reasoning.GeneratedBy,
	)
	return a, nil
}

// persist saves a and supersedes the assessment it replaces. Runs for the
// same subject and skill persist one at a time so each new assessment
// supersedes exactly the one before it.
func (e *Engine) persist(ctx context.Context, a *domain.FusedAssessment) error {
	if e.repo == nil {
		return nil
	}
	unlock := e.units.lock(a.SubjectID + "\x00" + a.Skill)
	defer unlock()

	prev, err := e.repo.Latest(ctx, a.SubjectID, a.Skill)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load previous assessment: %w", err)
	}

	id, err := e.repo.Save(ctx, a)
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	a.ID = id

	if prev != nil {
		if err := e.repo.Supersede(ctx, prev.ID, id); err != nil {
			return fmt.Errorf("supersede assessment %s: %w", prev.ID, err)
		}
	}
	return nil
}

// unitLocks hands out one mutex per key. Entries are dropped once no caller
// holds or waits on them.
type unitLocks struct {
	mu    sync.Mutex
	locks map[string]*unitLock
}

type unitLock struct {
	sync.Mutex
	refs int
}

func (u *unitLocks) lock(key string) (unlock func()) {
	u.mu.Lock()
	if u.locks == nil {
		u.locks = make(map[string]*unitLock)
	}
	l, ok := u.locks[key]
	if !ok {
		l = &unitLock{}
		u.locks[key] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(u.locks, key)
		}
		u.mu.Unlock()
	}
}

// contributing returns the scores whose kind took part in the fusion, in
// canonical order.
func contributing(scores []domain.SourceScore, present []domain.SourceKind) []domain.SourceScore {
	latest := make(map[domain.SourceKind]domain.SourceScore, len(scores))
	for _, s := range scores {
		if cur, ok := latest[s.Kind]; !ok || s.AsOf.After(cur.AsOf) {
			latest[s.Kind] = s
		}
	}
	out := make([]domain.SourceScore, 0, len(present))
	for _, k := range present {
		if s, ok := latest[k]; ok {
			out = append(out, s)
		}
	}
	return out
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoSources):
		return "no_sources"
	case errors.Is(err, domain.ErrFeatureShape):
		return "feature_shape"
	case errors.Is(err, domain.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, domain.ErrUnknownSkill):
		return "unknown_skill"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// BatchFuseAndExplain runs every (subject, skill) pair concurrently, up to
// the configured limit. Results are ordered subject by subject, skills in
// the order given; an empty skills list means every configured skill. One
// unit's failure never affects another.
func (e *Engine) BatchFuseAndExplain(ctx context.Context, subjectIDs, skills []string) []BatchResult {
	if len(skills) == 0 {
		skills = e.Skills()
	}

	results := make([]BatchResult, 0, len(subjectIDs)*len(skills))
	for _, subject := range subjectIDs {
		for _, skill := range skills {
			results = append(results, BatchResult{SubjectID: subject, Skill: skill})
		}
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range results {
		g.Go(func() error {
			r := &results[i]
			if err := ctx.Err(); err != nil {
				r.Err = err
				return nil
			}
			r.Assessment, r.Err = e.FuseAndExplain(ctx, r.SubjectID, r.Skill)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	e.logger.Info("batch complete", "units", len(results), "failed", failed)
	return results
}

// Skills returns the skills that currently have weights, sorted.
func (e *Engine) Skills() []string {
	return slices.Sorted(maps.Keys(e.weights.Current().Skills))
}

// Weights returns the published weight set.
func (e *Engine) Weights() *domain.WeightSet { return e.weights.Current() }

// UpdateWeights replaces one skill's weights and returns the new version.
func (e *Engine) UpdateWeights(skill string, weights domain.FusionWeights) (int64, error) {
	v, err := e.weights.Update(skill, weights)
	if err != nil {
		return 0, err
	}
	e.logger.Info("weights updated", "skill", skill, "version", v)
	return v, nil
}

// ReloadWeights re-reads the configuration and publishes its weights.
// Nothing else in the configuration is applied.
func (e *Engine) ReloadWeights(ctx context.Context) (int64, error) {
	if e.loader == nil {
		return 0, fmt.Errorf("%w: no config loader", ports.ErrConfigNotFound)
	}
	cfg := &Config{}
	if err := e.loader.Load(ctx, cfg); err != nil {
		return 0, err
	}
	return e.ApplyWeights(cfg)
}

// ApplyWeights publishes the weights from cfg.
func (e *Engine) ApplyWeights(cfg *Config) (int64, error) {
	v, err := e.weights.Replace(cfg.WeightSet(0, e.now()))
	if err != nil {
		return 0, err
	}
	e.logger.Info("weights reloaded", "skills", len(cfg.Skills), "version", v)
	return v, nil
}

// CostSummary aggregates completion spend over p.
func (e *Engine) CostSummary(ctx context.Context, p domain.Period) domain.CostSummary {
	if e.costs == nil {
		return domain.CostSummary{From: p.From, To: p.To, ByCaller: map[string]float64{}}
	}
	return e.costs.Summary(ctx, p)
}

// Assessment returns a stored assessment by ID.
func (e *Engine) Assessment(ctx context.Context, id string) (*domain.FusedAssessment, error) {
	if e.repo == nil {
		return nil, fmt.Errorf("assessment %s: %w", id, domain.ErrNotFound)
	}
	return e.repo.Get(ctx, id)
}

// LatestAssessment returns the current assessment for a subject and skill.
func (e *Engine) LatestAssessment(ctx context.Context, subjectID, skill string) (*domain.FusedAssessment, error) {
	if e.repo == nil {
		return nil, fmt.Errorf("assessment %s/%s: %w", subjectID, skill, domain.ErrNotFound)
	}
	return e.repo.Latest(ctx, subjectID, skill)
}
