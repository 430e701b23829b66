package domain

import (
	"fmt"
	"maps"
	"time"
)

// FusionWeights maps each source kind to a non-negative weight for one
// skill. Weights need not sum to one; the fusion engine renormalises over
// the sources actually present.
type FusionWeights map[SourceKind]float64

// Clone returns an independent copy of the weights.
func (w FusionWeights) Clone() FusionWeights {
	if w == nil {
		return nil
	}
	return maps.Clone(w)
}

// Validate checks that every key is a known source kind and every weight is
// non-negative.
func (w FusionWeights) Validate() error {
	verr := NewValidationError("fusion weights")
	for kind, weight := range w {
		if !kind.Valid() {
			verr.AddError(fmt.Sprintf("unknown source kind %q", kind))
		}
		if weight < 0 {
			verr.AddError(fmt.Sprintf("negative weight %.4f for %s", weight, kind))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// Total returns the sum of all weights.
func (w FusionWeights) Total() float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// WeightSet is the versioned weight configuration. A WeightSet is never
// mutated after it is published; updates build a new set with a higher
// version and swap it in atomically.
type WeightSet struct {
	// Version increases by one with every update or reload.
	Version int64 `json:"version"`

	// Skills holds the weights for each configured skill.
	Skills map[string]FusionWeights `json:"skills"`

	// LoadedAt records when this version was published.
	LoadedAt time.Time `json:"loaded_at"`
}

// For returns a copy of the weights for skill and whether the skill is
// configured.
func (s *WeightSet) For(skill string) (FusionWeights, bool) {
	if s == nil {
		return nil, false
	}
	w, ok := s.Skills[skill]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// With returns a new WeightSet with skill's weights replaced. The receiver
// is left untouched.
func (s *WeightSet) With(skill string, weights FusionWeights, at time.Time) *WeightSet {
	next := &WeightSet{
		Skills:   make(map[string]FusionWeights),
		LoadedAt: at,
	}
	if s != nil {
		next.Version = s.Version + 1
		for k, v := range s.Skills {
			next.Skills[k] = v.Clone()
		}
	} else {
		next.Version = 1
	}
	next.Skills[skill] = weights.Clone()
	return next
}

// WeightSnapshot is the exact weight configuration used by one fusion run,
// stored alongside the assessment so it never depends on the current
// configuration after the fact.
type WeightSnapshot struct {
	Version int64         `json:"version"`
	Weights FusionWeights `json:"weights"`
}
