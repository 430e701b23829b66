// Package ports defines the interfaces that form the contract between the
// engine and its collaborators: upstream score and evidence stores, the
// persistence layer, the external completion service, caching, metrics and
// configuration. These interfaces keep the engine testable and let each
// collaborator be swapped without touching fusion logic.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
)

// ScoreProvider fetches the raw score one upstream source holds for a
// subject and skill. Implementations return ok=false when the source simply
// has no score yet; an error means the lookup itself failed.
type ScoreProvider interface {
	GetSourceScore(
		ctx context.Context,
		subjectID, skill string,
		kind domain.SourceKind,
	) (score domain.SourceScore, ok bool, err error)
}

// FeatureStore provides the numeric features the inference engine scores.
// The returned vector may carry fewer named values than the schema; the
// caller materialises it against the skill schema.
type FeatureStore interface {
	GetFeatureVector(ctx context.Context, subjectID, skill string) (map[string]float64, error)
}

// EvidenceStore provides raw evidence material per source.
type EvidenceStore interface {
	GetRawEvidenceCandidates(
		ctx context.Context,
		subjectID, skill string,
		kind domain.SourceKind,
	) ([]domain.RawUnit, error)
}

// AssessmentRepository persists fused assessments. Assessments are never
// updated in place: a newer run is saved and the old one is pointed at it.
type AssessmentRepository interface {
	// Save stores a new assessment and returns its ID.
	Save(ctx context.Context, a *domain.FusedAssessment) (string, error)

	// Supersede marks oldID as replaced by newID.
	Supersede(ctx context.Context, oldID, newID string) error

	// Latest returns the current (not superseded) assessment for a subject
	// and skill, or domain.ErrNotFound.
	Latest(ctx context.Context, subjectID, skill string) (*domain.FusedAssessment, error)

	// Get returns an assessment by ID, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.FusedAssessment, error)
}

// LedgerStore persists cost ledger entries beyond process lifetime.
type LedgerStore interface {
	// Append adds an entry. Entries are never modified.
	Append(ctx context.Context, e domain.CostLedgerEntry) error

	// Range returns the entries with Timestamp in [from, to).
	Range(ctx context.Context, from, to time.Time) ([]domain.CostLedgerEntry, error)
}

// LLMClient defines the interface for interacting with the external text
// completion service.
type LLMClient interface {
	// Complete sends a completion request and returns the generated text.
	//
	// The options map carries provider settings. Common options include:
	//   - "temperature": float64 (0.0-1.0)
	//   - "max_tokens": int
	//   - "model": string (specific model version)
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// CompleteWithUsage is Complete plus the input and output token counts
	// reported by the provider, used for cost accounting.
	CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error)

	// EstimateTokens calculates the approximate token count for a given text.
	EstimateTokens(text string) (int, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// CacheStore defines the interface for caching reasoning results.
// Implementations could use Redis, Memcached, or in-memory storage.
type CacheStore interface {
	// Get retrieves a cached value by key.
	// Returns the value and true if found, or nil and false if not found.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores a value in the cache with an expiration time.
	// A zero duration means the store's default expiration.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Delete removes a value from the cache.
	// Returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// MetricsCollector defines the interface for collecting operational metrics.
// It is the engine's observability sink; implementations integrate with
// Prometheus or a no-op collector in tests.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}

// ConfigLoader defines the interface for loading configuration.
type ConfigLoader interface {
	// Load reads configuration from the underlying source into config,
	// which must be a pointer to a struct.
	Load(ctx context.Context, config any) error

	// Watch monitors the source and calls callback with the freshly loaded
	// configuration after each change. The returned function stops watching.
	// Watch never applies configuration itself; callers decide what a change
	// means (the engine exposes an explicit reload for that).
	Watch(ctx context.Context, config any, callback func(any)) (stop func(), err error)
}

// NopMetrics is a MetricsCollector that discards everything.
type NopMetrics struct{}

// RecordLatency implements MetricsCollector.
func (NopMetrics) RecordLatency(string, time.Duration, map[string]string) {}

// RecordCounter implements MetricsCollector.
func (NopMetrics) RecordCounter(string, float64, map[string]string) {}

// RecordGauge implements MetricsCollector.
func (NopMetrics) RecordGauge(string, float64, map[string]string) {}

// RecordHistogram implements MetricsCollector.
func (NopMetrics) RecordHistogram(string, float64, map[string]string) {}

var _ MetricsCollector = NopMetrics{}
