// Package inference turns fixed-length feature vectors into model-source
// scores using versioned, pre-trained per-skill scoring functions.
//
// Each skill's scoring function is loaded once per process and shared
// read-only by all concurrent inferences. Reloading is an explicit
// operation; the engine never polls artifact files.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// modelSlot holds the load outcome for one skill. A failed load is kept
// until the next explicit reload.
type modelSlot struct {
	once   sync.Once
	scorer Scorer
	err    error
	done   atomic.Bool // set after scorer and err are written
}

func (s *modelSlot) load(fn func() (Scorer, error)) (Scorer, error) {
	s.once.Do(func() {
		s.scorer, s.err = fn()
		s.done.Store(true)
	})
	return s.scorer, s.err
}

// Engine is the inference engine.
type Engine struct {
	loader  Loader
	schemas map[string]domain.FeatureSchema
	metrics ports.MetricsCollector
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu    sync.Mutex
	slots map[string]*modelSlot
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics sink for latency and outcome samples.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for SourceScore.AsOf.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an inference engine over the given loader and feature
// schemas, keyed by skill.
func NewEngine(loader Loader, schemas []domain.FeatureSchema, opts ...Option) *Engine {
	e := &Engine{
		loader:  loader,
		schemas: make(map[string]domain.FeatureSchema, len(schemas)),
		metrics: ports.NopMetrics{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("inference-engine"),
		now:     time.Now,
		slots:   make(map[string]*modelSlot),
	}
	for _, s := range schemas {
		e.schemas[s.Skill] = s
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the feature schema for skill.
func (e *Engine) Schema(skill string) (domain.FeatureSchema, bool) {
	s, ok := e.schemas[skill]
	return s, ok
}

// Infer scores a feature vector for skill. The vector must match the
// skill's schema exactly; mismatches fail with a FeatureShapeError before
// any model is touched. The returned score is clamped to [0,1].
func (e *Engine) Infer(ctx context.Context, skill string, v domain.FeatureVector) (domain.SourceScore, error) {
	_, span := e.tracer.Start(ctx, "InferenceEngine.Infer",
		trace.WithAttributes(
			attribute.String("skill", skill),
			attribute.Int("features.len", len(v.Values)),
		),
	)
	defer span.End()

	start := time.Now()
	score, err := e.infer(skill, v)
	e.record(skill, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.SourceScore{}, err
	}
	span.SetAttributes(attribute.Float64("score", score.Value))
	return score, nil
}

func (e *Engine) infer(skill string, v domain.FeatureVector) (domain.SourceScore, error) {
	schema, ok := e.schemas[skill]
	if !ok {
		return domain.SourceScore{}, domain.NewModelUnavailableError(skill,
			fmt.Errorf("%w: no feature schema", domain.ErrUnknownSkill))
	}
	if err := schema.Check(v); err != nil {
		return domain.SourceScore{}, err
	}

	scorer, err := e.scorer(skill)
	if err != nil {
		return domain.SourceScore{}, err
	}

	raw := scorer.Score(v.Values)
	return domain.NewSourceScore(domain.SourceModel, skill, raw, e.now()), nil
}

// scorer returns the loaded scoring function for skill, loading it on first
// use.
func (e *Engine) scorer(skill string) (Scorer, error) {
	e.mu.Lock()
	slot, ok := e.slots[skill]
	if !ok {
		slot = &modelSlot{}
		e.slots[skill] = slot
	}
	e.mu.Unlock()

	return slot.load(func() (Scorer, error) { return e.load(skill) })
}

func (e *Engine) load(skill string) (Scorer, error) {
	scorer, err := e.loader.Load(skill)
	if err != nil {
		e.logger.Error("model load failed", "skill", skill, "error", err)
		return nil, domain.NewModelUnavailableError(skill, err)
	}

	if schema, ok := e.schemas[skill]; ok && !slices.Equal(scorer.Features(), schema.Fields) {
		err := fmt.Errorf("artifact features do not match schema %q", schema.Version)
		e.logger.Error("model schema mismatch", "skill", skill, "version", scorer.Version())
		return nil, domain.NewModelUnavailableError(skill, err)
	}

	e.logger.Info("model loaded", "skill", skill, "version", scorer.Version())
	return scorer, nil
}

// Reload replaces the scoring function for skill with a freshly loaded one.
// In-flight inferences finish on the previous function.
func (e *Engine) Reload(skill string) error {
	slot := &modelSlot{}
	_, err := slot.load(func() (Scorer, error) { return e.load(skill) })

	e.mu.Lock()
	e.slots[skill] = slot
	e.mu.Unlock()

	return err
}

// ReloadAll reloads every skill with a schema and returns the first error
// encountered. Every skill is attempted.
func (e *Engine) ReloadAll() error {
	var first error
	for skill := range e.schemas {
		if err := e.Reload(skill); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Loaded reports the version of the currently loaded model for skill. A
// load still in progress reports false.
func (e *Engine) Loaded(skill string) (string, bool) {
	e.mu.Lock()
	slot, ok := e.slots[skill]
	e.mu.Unlock()
	if !ok || !slot.done.Load() || slot.scorer == nil {
		return "", false
	}
	return slot.scorer.Version(), true
}

func (e *Engine) record(skill string, elapsed time.Duration, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrFeatureShape):
		outcome = "feature_shape_error"
	case errors.Is(err, domain.ErrModelUnavailable):
		outcome = "model_unavailable"
	default:
		outcome = "error"
	}
	labels := map[string]string{"unit": "inference", "skill": skill, "outcome": outcome}
	e.metrics.RecordHistogram("inference_latency_seconds", elapsed.Seconds(), labels)
	e.metrics.RecordCounter("inference_total", 1, labels)
}
