package evidence

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// SkillProfile drives the per-source relevance heuristics for one skill.
type SkillProfile struct {
	// Markers are words or short phrases that signal the skill in text.
	// Matching is case-insensitive on whole words.
	Markers []string `yaml:"markers" json:"markers" validate:"dive,required"`

	// TargetDensity is the marker-per-word rate that earns full text
	// relevance.
	TargetDensity float64 `yaml:"target_density" json:"target_density" validate:"gt=0,lte=1"`

	// EventWeights maps interaction event types to their relevance.
	EventWeights map[string]float64 `yaml:"event_weights" json:"event_weights" validate:"dive,keys,required,endkeys,min=0,max=1"`

	// FeedbackBase is the relevance every human feedback note starts at.
	FeedbackBase float64 `yaml:"feedback_base" json:"feedback_base" validate:"min=0,max=1"`

	// FeedbackBonus is added to a feedback note per marker hit.
	FeedbackBonus float64 `yaml:"feedback_bonus" json:"feedback_bonus" validate:"min=0,max=1"`
}

// DefaultProfile is applied to skills with no profile of their own. Its
// empty marker list leaves text segments irrelevant, while feedback notes
// are still included on their base relevance.
func DefaultProfile() SkillProfile {
	return SkillProfile{
		TargetDensity: 0.05,
		FeedbackBase:  0.6,
		FeedbackBonus: 0.1,
	}
}

// Validate checks the profile's tag constraints.
func (p SkillProfile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("skill profile validation failed: %w", err)
	}
	return nil
}

// Selection tunes candidate filtering and selection.
type Selection struct {
	// MaxItems caps the returned evidence list.
	MaxItems int `yaml:"max_items" json:"max_items" validate:"min=1,max=5"`

	// MinRelevance excludes units scoring at or below it.
	MinRelevance float64 `yaml:"min_relevance" json:"min_relevance" validate:"min=0,max=1"`

	// NearDuplicateSimilarity is the normalised Levenshtein similarity at or
	// above which two snippets are treated as one.
	NearDuplicateSimilarity float64 `yaml:"near_duplicate_similarity" json:"near_duplicate_similarity" validate:"gt=0,lte=1"`
}

// DefaultSelection returns the standard selection settings.
func DefaultSelection() Selection {
	return Selection{
		MaxItems:                5,
		MinRelevance:            0,
		NearDuplicateSimilarity: 0.9,
	}
}
