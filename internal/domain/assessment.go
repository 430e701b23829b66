package domain

import "time"

// FusionResult is the outcome of combining the available source scores for
// one skill.
type FusionResult struct {
	// Score is the weighted, renormalised fused score in [0,1].
	Score float64 `json:"fused_score"`

	// Confidence measures inter-source agreement in [0,1].
	Confidence float64 `json:"confidence"`

	// Present lists the source kinds that contributed, in canonical order.
	Present []SourceKind `json:"present"`

	// Missing lists the source kinds that did not contribute, in canonical
	// order.
	Missing []SourceKind `json:"missing"`

	// Weights holds the renormalised weights actually applied.
	Weights FusionWeights `json:"weights"`
}

// Fuser combines per-source scores into one fused score and confidence.
// Implementations must be safe for concurrent use and must fail with a
// NoSourcesError when no positively weighted source is present.
type Fuser interface {
	Fuse(skill string, scores []SourceScore, weights FusionWeights) (FusionResult, error)
}

// EvidenceItem is a ranked snippet supporting an assessment, attributed to
// one source.
type EvidenceItem struct {
	SourceKind    SourceKind `json:"source_kind"`
	Text          string     `json:"text"`
	ContextBefore string     `json:"context_before,omitempty"`
	ContextAfter  string     `json:"context_after,omitempty"`
	// Position is a timestamp or ordinal locating the snippet in its source.
	Position  string  `json:"position,omitempty"`
	Relevance float64 `json:"relevance"`
}

// RawUnit is one candidate unit of raw evidence material: a text segment,
// a logged interaction event or a free-text feedback note.
type RawUnit struct {
	Kind          SourceKind `json:"source_kind"`
	Text          string     `json:"text"`
	ContextBefore string     `json:"context_before,omitempty"`
	ContextAfter  string     `json:"context_after,omitempty"`
	Position      string     `json:"position,omitempty"`

	// EventType is set for interaction-log units.
	EventType string `json:"event_type,omitempty"`
}

// SubjectContext bundles the raw evidence material available for one
// subject and skill. Absent sources simply have no entry.
type SubjectContext struct {
	SubjectID string
	Units     map[SourceKind][]RawUnit
}

// GeneratedBy records how a reasoning text was produced.
type GeneratedBy string

const (
	// GeneratedByLLM marks text produced by the external completion service.
	GeneratedByLLM GeneratedBy = "llm"
	// GeneratedByTemplate marks text produced by a deterministic fallback
	// template.
	GeneratedByTemplate GeneratedBy = "template"
)

// ReasoningResult is the natural-language explanation attached to an
// assessment.
type ReasoningResult struct {
	Text          string      `json:"text"`
	GeneratedBy   GeneratedBy `json:"generated_by"`
	TokenCount    int         `json:"token_count"`
	EstimatedCost float64     `json:"estimated_cost"`
	GeneratedAt   time.Time   `json:"generated_at"`
	CacheKey      string      `json:"cache_key,omitempty"`
}

// ScoreBand buckets a fused score for fallback template selection.
type ScoreBand string

// Score bands.
const (
	BandEmerging   ScoreBand = "emerging"
	BandDeveloping ScoreBand = "developing"
	BandProficient ScoreBand = "proficient"
)

// BandFor returns the band for score: emerging below 0.50, developing up to
// 0.75, proficient from 0.75.
func BandFor(score float64) ScoreBand {
	switch {
	case score < 0.50:
		return BandEmerging
	case score < 0.75:
		return BandDeveloping
	default:
		return BandProficient
	}
}

// FusedAssessment is the persisted result of one fusion run. It is never
// mutated after creation except for SupersededBy, which the storage layer
// sets when a later run replaces it.
type FusedAssessment struct {
	ID                  string          `json:"id"`
	SubjectID           string          `json:"subject_id"`
	Skill               string          `json:"skill"`
	FusedScore          float64         `json:"fused_score"`
	Confidence          float64         `json:"confidence"`
	ContributingSources []SourceScore   `json:"contributing_sources"`
	MissingSources      []SourceKind    `json:"missing_sources"`
	WeightsUsed         WeightSnapshot  `json:"weights_used"`
	Evidence            []EvidenceItem  `json:"evidence"`
	Reasoning           ReasoningResult `json:"reasoning"`
	CreatedAt           time.Time       `json:"created_at"`
	SupersededBy        string          `json:"superseded_by,omitempty"`
}

// MissingCount returns how many sources were absent from the fusion.
func (a *FusedAssessment) MissingCount() int { return len(a.MissingSources) }
