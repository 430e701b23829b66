// Package reasoning writes the natural-language explanation attached to a
// fused assessment. Each request moves through an explicit state machine:
//
//	PENDING → CACHE_CHECK → HIT → DONE
//	                      → MISS → CALLING_SERVICE → SUCCESS → DONE
//	                                               → FAILURE → FALLBACK → DONE
//
// Generate never fails. When the cache misses and the completion service is
// unavailable, over budget or slow, a deterministic template is used instead.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// State is a step of the generation state machine.
type State string

// Generation states.
const (
	StatePending        State = "PENDING"
	StateCacheCheck     State = "CACHE_CHECK"
	StateCallingService State = "CALLING_SERVICE"
	StateFallback       State = "FALLBACK"
	StateDone           State = "DONE"
)

// Fallback reasons reported in logs and metrics.
const (
	reasonNoClient       = "no_client"
	reasonGovernorDenied = "governor_denied"
	reasonPrompt         = "prompt_error"
	reasonServiceError   = "service_error"
	reasonTimeout        = "timeout"
	reasonEmpty          = "empty_response"
)

// Governor grants completion calls and records their cost.
type Governor interface {
	TryAcquire() bool
	RecordUsage(ctx context.Context, tokensIn, tokensOut int, caller string, by domain.GeneratedBy) domain.CostLedgerEntry
}

// Config tunes generation.
type Config struct {
	// Timeout bounds each completion call.
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
	// MaxTokens caps the completion length.
	MaxTokens int `yaml:"max_tokens" validate:"gt=0"`
	// Temperature is kept low for stable output.
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	// PromptTokenLimit triggers evidence truncation.
	PromptTokenLimit int `yaml:"prompt_token_limit" validate:"gt=0"`
	// MinWords and MaxWords bound an acceptable explanation.
	MinWords int `yaml:"min_words" validate:"gt=0"`
	MaxWords int `yaml:"max_words" validate:"gtfield=MinWords"`
	// CacheTTL is how long results are reused.
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gt=0"`
	// SystemPrompt is sent ahead of the prompt where the provider supports it.
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          20 * time.Second,
		MaxTokens:        400,
		Temperature:      0.2,
		PromptTokenLimit: 1500,
		MinWords:         50,
		MaxWords:         200,
		CacheTTL:         7 * 24 * time.Hour,
		SystemPrompt:     "You explain skill assessments to reviewers. Be factual, specific and brief.",
	}
}

// Generator produces ReasoningResults.
type Generator struct {
	client    ports.LLMClient
	cache     ports.CacheStore
	governor  Governor
	templates *Templates
	cfg       Config

	metrics ports.MetricsCollector
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClient sets the completion service. Without one every request falls
// back to templates.
func WithClient(c ports.LLMClient) Option { return func(g *Generator) { g.client = c } }

// WithTemplates replaces the generic-only fallback templates.
func WithTemplates(t *Templates) Option { return func(g *Generator) { g.templates = t } }

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.MetricsCollector) Option { return func(g *Generator) { g.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Generator) { g.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// NewGenerator builds a Generator. The cache and governor are required.
func NewGenerator(cache ports.CacheStore, governor Governor, cfg Config, opts ...Option) (*Generator, error) {
	if cache == nil || governor == nil {
		return nil, fmt.Errorf("%w: reasoning requires a cache and a governor", domain.ErrInvalidConfiguration)
	}
	if cfg.MaxWords <= cfg.MinWords {
		return nil, fmt.Errorf("%w: max_words must exceed min_words", domain.ErrInvalidConfiguration)
	}

	g := &Generator{
		cache:    cache,
		governor: governor,
		cfg:      cfg,
		metrics:  ports.NopMetrics{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("reasoning"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.templates == nil {
		t, err := NewTemplates(nil)
		if err != nil {
			return nil, err
		}
		g.templates = t
	}
	return g, nil
}

// run carries one request through the state machine.
type run struct {
	req    Request
	key    string
	state  State
	reason string
	result domain.ReasoningResult
	logger *slog.Logger
	span   trace.Span
}

// Generate returns the explanation for req. It never returns an error.
func (g *Generator) Generate(ctx context.Context, req Request) domain.ReasoningResult {
	start := g.now()
	ctx, span := g.tracer.Start(ctx, "ReasoningGenerator.Generate",
		trace.WithAttributes(
			attribute.String("subject_id", req.SubjectID),
			attribute.String("skill", req.Skill),
		))
	defer span.End()

	r := &run{
		req:    req,
		state:  StatePending,
		logger: g.logger.With("subject_id", req.SubjectID, "skill", req.Skill),
		span:   span,
	}

	for r.state != StateDone {
		switch r.state {
		case StatePending:
			r.key = CacheKey(req.Skill, req.Score, req.Evidence)
			r.logger = r.logger.With("cache_key", r.key)
			g.transition(r, StateCacheCheck)

		case StateCacheCheck:
			if cached, ok := g.lookup(ctx, r); ok {
				r.result = cached
				g.finish(r, "cache_hit", start)
				g.transition(r, StateDone)
				continue
			}
			g.transition(r, StateCallingService)

		case StateCallingService:
			if g.callService(ctx, r) {
				g.store(ctx, r)
				g.finish(r, "llm", start)
				g.transition(r, StateDone)
				continue
			}
			g.transition(r, StateFallback)

		case StateFallback:
			g.fallback(ctx, r)
			g.store(ctx, r)
			g.finish(r, "fallback", start)
			g.transition(r, StateDone)
		}
	}

	span.SetAttributes(attribute.String("generated_by", string(r.result.GeneratedBy)))
	return r.result
}

func (g *Generator) transition(r *run, next State) {
	attrs := []any{"from", r.state, "to", next}
	if r.reason != "" && next == StateFallback {
		attrs = append(attrs, "reason", r.reason)
	}
	r.logger.Debug("reasoning state transition", attrs...)
	r.span.AddEvent(string(next), trace.WithAttributes(attribute.String("from", string(r.state))))
	r.state = next
}

func (g *Generator) lookup(ctx context.Context, r *run) (domain.ReasoningResult, bool) {
	v, ok, err := g.cache.Get(ctx, r.key)
	if err != nil {
		r.logger.Warn("reasoning cache read failed", "error", ports.NewCacheError(r.key, "get", err))
		return domain.ReasoningResult{}, false
	}
	if !ok {
		return domain.ReasoningResult{}, false
	}
	res, ok := v.(domain.ReasoningResult)
	if !ok {
		r.logger.Warn("reasoning cache entry has unexpected type",
			"error", ports.NewCacheError(r.key, "get", ports.ErrCacheCorrupted))
		_ = g.cache.Delete(ctx, r.key)
		return domain.ReasoningResult{}, false
	}
	return res, true
}

func (g *Generator) store(ctx context.Context, r *run) {
	if err := g.cache.Set(ctx, r.key, r.result, g.cfg.CacheTTL); err != nil {
		r.logger.Warn("reasoning cache write failed", "error", ports.NewCacheError(r.key, "set", err))
	}
}

// callService performs the CALLING_SERVICE state. It reports false, with
// r.reason set, when the run must fall back.
func (g *Generator) callService(ctx context.Context, r *run) bool {
	if g.client == nil {
		r.reason = reasonNoClient
		return false
	}

	prompt, err := g.buildPrompt(r.req)
	if err != nil {
		r.logger.Error("failed to build reasoning prompt", "error", err)
		r.reason = reasonPrompt
		return false
	}

	if !g.governor.TryAcquire() {
		r.reason = reasonGovernorDenied
		return false
	}

	text, cost, tokens, err := g.complete(ctx, r, prompt)
	if err != nil {
		r.reason = failureReason(err)
		r.logger.Warn("completion call failed", "error", err)
		return false
	}

	if n := wordCount(text); n < g.cfg.MinWords || n > g.cfg.MaxWords {
		r.logger.Debug("completion outside word band, regenerating",
			"words", n, "min", g.cfg.MinWords, "max", g.cfg.MaxWords)
		if g.governor.TryAcquire() {
			second, c2, t2, err := g.complete(ctx, r, prompt)
			cost += c2
			tokens += t2
			if err != nil {
				r.logger.Warn("regeneration failed, keeping first output", "error", err)
			} else {
				text = second
			}
		} else {
			r.logger.Debug("regeneration denied by governor, keeping first output")
		}
	}

	r.result = domain.ReasoningResult{
		Text:          text,
		GeneratedBy:   domain.GeneratedByLLM,
		TokenCount:    tokens,
		EstimatedCost: cost,
		GeneratedAt:   g.now(),
		CacheKey:      r.key,
	}
	return true
}

// complete makes one bounded service call and records its usage.
func (g *Generator) complete(ctx context.Context, r *run, prompt string) (string, float64, int, error) {
	cctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	text, in, out, err := g.client.CompleteWithUsage(cctx, prompt, map[string]any{
		"max_tokens":  g.cfg.MaxTokens,
		"temperature": g.cfg.Temperature,
		"system":      g.cfg.SystemPrompt,
	})
	if err == nil && text == "" {
		err = ports.ErrInvalidResponse
	}
	if err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ports.ErrTimeout) {
			err = fmt.Errorf("%w: %w", ports.ErrTimeout, err)
		}
		return "", 0, 0, ports.NewLLMError(g.client.GetModel(), "complete", err)
	}

	entry := g.governor.RecordUsage(ctx, in, out, r.req.caller(), domain.GeneratedByLLM)
	return text, entry.EstimatedCost, in + out, nil
}

func (g *Generator) buildPrompt(req Request) (string, error) {
	prompt, err := renderPrompt(req, req.Evidence, g.cfg.MinWords, g.cfg.MaxWords)
	if err != nil {
		return "", err
	}
	for _, limit := range truncationSteps {
		if g.tokens(prompt) <= g.cfg.PromptTokenLimit {
			return prompt, nil
		}
		if len(req.Evidence) <= limit {
			continue
		}
		if prompt, err = renderPrompt(req, req.Evidence[:limit], g.cfg.MinWords, g.cfg.MaxWords); err != nil {
			return "", err
		}
	}
	return prompt, nil
}

func (g *Generator) tokens(prompt string) int {
	n, err := g.client.EstimateTokens(prompt)
	if err != nil {
		return 0
	}
	return n
}

func (g *Generator) fallback(ctx context.Context, r *run) {
	entry := g.governor.RecordUsage(ctx, 0, 0, r.req.caller(), domain.GeneratedByTemplate)
	r.result = domain.ReasoningResult{
		Text:          g.templates.Render(r.req),
		GeneratedBy:   domain.GeneratedByTemplate,
		EstimatedCost: entry.EstimatedCost,
		GeneratedAt:   g.now(),
		CacheKey:      r.key,
	}
}

func (g *Generator) finish(r *run, outcome string, start time.Time) {
	labels := map[string]string{"outcome": outcome}
	if outcome == "fallback" {
		labels["reason"] = r.reason
	}
	g.metrics.RecordCounter("reasoning_total", 1, labels)
	g.metrics.RecordLatency("reasoning_generate", g.now().Sub(start), map[string]string{"outcome": outcome})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ports.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, ports.ErrInvalidResponse):
		return reasonEmpty
	default:
		return reasonServiceError
	}
}
