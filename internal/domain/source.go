// Package domain holds the core types of the fusion engine: source scores,
// feature vectors, fusion weights, evidence, reasoning results and the fused
// assessment that ties them together. The package has no dependencies on
// infrastructure and is safe to import from every layer.
package domain

import (
	"fmt"
	"math"
	"time"
)

// SourceKind identifies one of the independent score providers that feed
// the fusion engine.
type SourceKind string

// Supported source kinds.
const (
	// SourceModel is the score inferred by the pre-trained statistical model.
	SourceModel SourceKind = "model"
	// SourceTextDerived is the score computed from free-text analysis.
	SourceTextDerived SourceKind = "text_derived"
	// SourceInteractionDerived is the score computed from interaction logs.
	SourceInteractionDerived SourceKind = "interaction_derived"
	// SourceHumanRated is the score assigned by a human rater.
	SourceHumanRated SourceKind = "human_rated"
)

// AllSourceKinds lists every source kind in canonical order. The order is
// used wherever output must be deterministic (missing-source lists, logs).
var AllSourceKinds = []SourceKind{
	SourceModel,
	SourceTextDerived,
	SourceInteractionDerived,
	SourceHumanRated,
}

// EvidenceSourceKinds lists the sources that carry raw evidence material.
// The model source produces a number, not snippets.
var EvidenceSourceKinds = []SourceKind{
	SourceTextDerived,
	SourceInteractionDerived,
	SourceHumanRated,
}

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceModel, SourceTextDerived, SourceInteractionDerived, SourceHumanRated:
		return true
	default:
		return false
	}
}

// String returns the wire name of the source kind.
func (k SourceKind) String() string { return string(k) }

// ParseSourceKind converts a wire name into a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown source kind %q", ErrInvalidConfiguration, s)
	}
	return k, nil
}

// SourceScore is a single provider's score for one subject and skill.
// Values are immutable once created; consumers clamp rather than reject
// out-of-range values.
type SourceScore struct {
	// Kind identifies which provider produced the score.
	Kind SourceKind `json:"source_kind"`

	// Skill is the skill the score refers to.
	Skill string `json:"skill"`

	// Value is the score, expected in [0,1].
	Value float64 `json:"value"`

	// AsOf records when the provider computed the score.
	AsOf time.Time `json:"as_of"`
}

// NewSourceScore builds a SourceScore with the value clamped to [0,1].
func NewSourceScore(kind SourceKind, skill string, value float64, asOf time.Time) SourceScore {
	return SourceScore{Kind: kind, Skill: skill, Value: Clamp01(value), AsOf: asOf}
}

// Clamp01 restricts v to [0,1]. NaN maps to 0 so a malformed upstream value
// can never poison an aggregate.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
