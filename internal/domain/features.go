package domain

import "fmt"

// FeatureSchema fixes the length and field order of the feature vector
// expected by a skill's scoring function. Schemas are versioned so an
// artifact trained against one layout is never fed another.
type FeatureSchema struct {
	// Skill is the skill this schema belongs to.
	Skill string `json:"skill" yaml:"skill"`

	// Version identifies the field layout.
	Version string `json:"version" yaml:"version"`

	// Fields is the ordered list of feature names.
	Fields []string `json:"fields" yaml:"fields"`
}

// Len returns the number of slots in the schema.
func (s FeatureSchema) Len() int { return len(s.Fields) }

// Materialize builds a FeatureVector in schema order from named values.
// Fields with no upstream value are set to zero, never omitted. Names that
// the schema does not know are ignored.
func (s FeatureSchema) Materialize(values map[string]float64) FeatureVector {
	names := make([]string, len(s.Fields))
	copy(names, s.Fields)

	vals := make([]float64, len(s.Fields))
	for i, name := range s.Fields {
		vals[i] = values[name]
	}

	return FeatureVector{
		Skill:         s.Skill,
		SchemaVersion: s.Version,
		Names:         names,
		Values:        vals,
	}
}

// Check verifies that v has exactly the schema's shape. Any difference in
// length, field order or schema version is a FeatureShapeError.
func (s FeatureSchema) Check(v FeatureVector) error {
	if len(v.Values) != len(s.Fields) {
		return NewFeatureShapeError(s.Skill, len(s.Fields), len(v.Values),
			"vector length does not match schema")
	}
	if len(v.Names) != 0 && len(v.Names) != len(v.Values) {
		return NewFeatureShapeError(s.Skill, len(s.Fields), len(v.Values),
			fmt.Sprintf("vector has %d names for %d values", len(v.Names), len(v.Values)))
	}
	for i, name := range v.Names {
		if name != s.Fields[i] {
			return NewFeatureShapeError(s.Skill, len(s.Fields), len(v.Values),
				fmt.Sprintf("field %d is %q, expected %q", i, name, s.Fields[i]))
		}
	}
	if v.SchemaVersion != "" && s.Version != "" && v.SchemaVersion != s.Version {
		return NewFeatureShapeError(s.Skill, len(s.Fields), len(v.Values),
			fmt.Sprintf("schema version %q, expected %q", v.SchemaVersion, s.Version))
	}
	return nil
}

// FeatureVector is a fixed-length ordered sequence of named numeric features
// built fresh for each inference call.
type FeatureVector struct {
	Skill         string    `json:"skill"`
	SchemaVersion string    `json:"schema_version,omitempty"`
	Names         []string  `json:"names,omitempty"`
	Values        []float64 `json:"values"`
}

// Summary returns the named values as a map, used for prompt feature
// summaries. Unnamed vectors produce an empty map.
func (v FeatureVector) Summary() map[string]float64 {
	out := make(map[string]float64, len(v.Names))
	for i, name := range v.Names {
		if i < len(v.Values) {
			out[name] = v.Values[i]
		}
	}
	return out
}

// DefaultFeatureFields is the 26-slot layout used when a skill does not
// declare its own schema: linguistic markers, interaction markers and
// cross-term features, in that order.
var DefaultFeatureFields = []string{
	// Linguistic markers.
	"word_count",
	"avg_sentence_length",
	"lexical_diversity",
	"first_person_ratio",
	"second_person_ratio",
	"question_ratio",
	"hedging_ratio",
	"positive_sentiment",
	"negative_sentiment",
	"empathy_markers",
	"collaboration_markers",
	"reflection_markers",
	// Interaction markers.
	"session_count",
	"avg_session_minutes",
	"messages_sent",
	"replies_received",
	"help_given",
	"help_requested",
	"tasks_completed",
	"revision_count",
	"response_latency",
	"peer_feedback_count",
	// Cross-term features.
	"empathy_x_replies",
	"collaboration_x_help",
	"reflection_x_revisions",
	"sentiment_x_sessions",
}
