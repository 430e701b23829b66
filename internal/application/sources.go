package application

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// Inferrer scores feature vectors for the model source.
type Inferrer interface {
	Infer(ctx context.Context, skill string, v domain.FeatureVector) (domain.SourceScore, error)
	Schema(skill string) (domain.FeatureSchema, bool)
}

// SourceFailure records a source that could not be read and was treated as
// absent.
type SourceFailure struct {
	Kind domain.SourceKind
	Err  error
}

// SourceReport is everything gathered from the sources for one subject and
// skill.
type SourceReport struct {
	Scores   []domain.SourceScore
	Failures []SourceFailure

	// Features are the named model inputs, kept for the explanation prompt.
	Features map[string]float64
}

// ScoreAdapter collects the four source scores for a subject. The model
// score comes from feature lookup plus inference; the other three come from
// the score provider. All four run concurrently.
type ScoreAdapter struct {
	provider ports.ScoreProvider
	features ports.FeatureStore
	model    Inferrer
	metrics  ports.MetricsCollector
	logger   *slog.Logger
}

// NewScoreAdapter creates a ScoreAdapter. A nil features store or model
// leaves the model source permanently absent.
func NewScoreAdapter(
	provider ports.ScoreProvider,
	features ports.FeatureStore,
	model Inferrer,
	metrics ports.MetricsCollector,
	logger *slog.Logger,
) *ScoreAdapter {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreAdapter{provider: provider, features: features, model: model, metrics: metrics, logger: logger}
}

// GetSourceScores returns the scores that are available and the sources
// that failed. Lookup failures never fail the call; only a fatal model
// error (a feature shape mismatch or an unavailable model) does.
func (a *ScoreAdapter) GetSourceScores(
	ctx context.Context,
	subjectID, skill string,
) ([]domain.SourceScore, []SourceFailure, error) {
	rep, err := a.Collect(ctx, subjectID, skill)
	if err != nil {
		return nil, nil, err
	}
	return rep.Scores, rep.Failures, nil
}

type sourceResult struct {
	score    domain.SourceScore
	ok       bool
	err      error
	features map[string]float64
}

// Collect gathers a SourceReport. Scores are returned in canonical source
// order.
func (a *ScoreAdapter) Collect(ctx context.Context, subjectID, skill string) (SourceReport, error) {
	results := make([]sourceResult, len(domain.AllSourceKinds))

	var g errgroup.Group
	for i, kind := range domain.AllSourceKinds {
		g.Go(func() error {
			if kind == domain.SourceModel {
				results[i] = a.modelScore(ctx, subjectID, skill)
			} else {
				results[i] = a.providerScore(ctx, subjectID, skill, kind)
			}
			return nil
		})
	}
	_ = g.Wait()

	var rep SourceReport
	for i, kind := range domain.AllSourceKinds {
		r := results[i]
		if kind == domain.SourceModel {
			rep.Features = r.features
			if domain.IsFatal(r.err) {
				return SourceReport{}, r.err
			}
		}
		if r.err != nil {
			a.logger.Warn("source unavailable; treating as absent",
				"subject_id", subjectID, "skill", skill, "source", kind, "error", r.err)
			a.metrics.RecordCounter("source_failures_total", 1, map[string]string{"source": kind.String()})
			rep.Failures = append(rep.Failures, SourceFailure{Kind: kind, Err: r.err})
			continue
		}
		if r.ok {
			rep.Scores = append(rep.Scores, r.score)
		}
	}
	return rep, nil
}

func (a *ScoreAdapter) providerScore(ctx context.Context, subjectID, skill string, kind domain.SourceKind) sourceResult {
	if a.provider == nil {
		return sourceResult{}
	}
	s, ok, err := a.provider.GetSourceScore(ctx, subjectID, skill, kind)
	if err != nil {
		return sourceResult{err: ports.NewSourceLookupError(kind, "GetSourceScore", err)}
	}
	if ok && s.Kind != kind {
		return sourceResult{err: ports.NewSourceLookupError(kind, "GetSourceScore",
			fmt.Errorf("provider returned a %s score", s.Kind))}
	}
	if ok {
		s = domain.NewSourceScore(kind, skill, s.Value, s.AsOf)
	}
	return sourceResult{score: s, ok: ok}
}

func (a *ScoreAdapter) modelScore(ctx context.Context, subjectID, skill string) sourceResult {
	if a.features == nil || a.model == nil {
		return sourceResult{}
	}
	schema, ok := a.model.Schema(skill)
	if !ok {
		return sourceResult{err: domain.NewModelUnavailableError(skill,
			fmt.Errorf("%w: no feature schema", domain.ErrUnknownSkill))}
	}

	values, err := a.features.GetFeatureVector(ctx, subjectID, skill)
	if err != nil {
		return sourceResult{err: ports.NewSourceLookupError(domain.SourceModel, "GetFeatureVector", err)}
	}
	if len(values) == 0 {
		return sourceResult{}
	}

	vec := schema.Materialize(values)
	s, err := a.model.Infer(ctx, skill, vec)
	if err != nil {
		return sourceResult{err: err, features: vec.Summary()}
	}
	return sourceResult{score: s, ok: true, features: vec.Summary()}
}
