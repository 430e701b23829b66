// Package fusion combines independently computed per-source scores into a
// single fused score with a confidence derived from inter-source agreement.
package fusion

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ahrav/go-assay/internal/domain"
)

const (
	// SingleSourceConfidenceCap bounds confidence when only one source is
	// present. Agreement cannot be measured with a single source.
	SingleSourceConfidenceCap = 0.60

	// disagreementFactor scales the standard deviation of source values
	// into a confidence penalty.
	disagreementFactor = 2.0
)

var _ domain.Fuser = (*WeightedFuser)(nil)

// WeightedFuser implements domain.Fuser with a renormalised weighted mean.
// It holds no state and is safe for concurrent use.
type WeightedFuser struct{}

// NewWeightedFuser returns a WeightedFuser.
func NewWeightedFuser() *WeightedFuser { return &WeightedFuser{} }

// Fuse combines the available scores using the weights for their source
// kinds.
//
// Weights are filtered to the kinds present in scores; kinds with zero
// weight count as absent. The remaining weights are renormalised to sum to
// one and applied to the clamped values. Confidence is 1-2*std over the raw
// (unweighted) values when two or more sources are present, and
// min(0.60, 1-std) when only one is.
//
// When several scores share a kind, the one with the latest AsOf wins.
func (f *WeightedFuser) Fuse(
	skill string,
	scores []domain.SourceScore,
	weights domain.FusionWeights,
) (domain.FusionResult, error) {
	latest := latestByKind(scores)

	present := make([]domain.SourceKind, 0, len(latest))
	var total float64
	for _, kind := range domain.AllSourceKinds {
		if _, ok := latest[kind]; !ok {
			continue
		}
		w := weights[kind]
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			continue
		}
		present = append(present, kind)
		total += w
	}

	if len(present) == 0 || total <= 0 {
		return domain.FusionResult{}, domain.NewNoSourcesError(skill, len(scores))
	}

	applied := make(domain.FusionWeights, len(present))
	values := make([]float64, len(present))
	var fused float64
	for i, kind := range present {
		w := weights[kind] / total
		v := domain.Clamp01(latest[kind].Value)
		applied[kind] = w
		values[i] = v
		fused += w * v
	}

	return domain.FusionResult{
		Score:      domain.Clamp01(fused),
		Confidence: Confidence(values),
		Present:    present,
		Missing:    missingKinds(present),
		Weights:    applied,
	}, nil
}

// Confidence derives an agreement measure from raw source values. It uses
// the population standard deviation of the unweighted values.
func Confidence(values []float64) float64 {
	switch len(values) {
	case 0:
		return 0
	case 1:
		// The deviation of a single value is zero, so this is the cap.
		return math.Min(SingleSourceConfidenceCap, 1-stat.PopStdDev(values, nil))
	default:
		std := stat.PopStdDev(values, nil)
		return domain.Clamp01(1 - disagreementFactor*std)
	}
}

func latestByKind(scores []domain.SourceScore) map[domain.SourceKind]domain.SourceScore {
	out := make(map[domain.SourceKind]domain.SourceScore, len(scores))
	for _, s := range scores {
		if !s.Kind.Valid() {
			continue
		}
		prev, ok := out[s.Kind]
		if !ok || s.AsOf.After(prev.AsOf) {
			out[s.Kind] = s
		}
	}
	return out
}

func missingKinds(present []domain.SourceKind) []domain.SourceKind {
	have := make(map[domain.SourceKind]struct{}, len(present))
	for _, k := range present {
		have[k] = struct{}{}
	}
	missing := make([]domain.SourceKind, 0, len(domain.AllSourceKinds)-len(present))
	for _, k := range domain.AllSourceKinds {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
