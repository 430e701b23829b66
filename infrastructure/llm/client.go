// Package llm is the client for the external text-completion service used to
// write assessment reasoning. Providers (OpenAI, Anthropic, Google) sit
// behind the CoreLLM interface and cross-cutting concerns are layered on as
// middleware: a single retry with backoff, a per-call timeout, a circuit
// breaker, metrics and tracing.
//
// Basic usage:
//
//	client, err := llm.NewClient("openai", llm.ClientConfig{
//	    APIKey: os.Getenv("OPENAI_API_KEY"),
//	    Model:  "gpt-4o-mini",
//	    Middleware: []llm.Middleware{
//	        llm.TracingMiddleware("reasoning"),
//	        llm.MetricsMiddleware(collector, "openai"),
//	        llm.CircuitBreakerMiddleware(5, 30*time.Second),
//	        llm.RetryMiddleware(1, 500*time.Millisecond, 2*time.Second),
//	        llm.TimeoutMiddleware(20*time.Second),
//	    },
//	})
//	text, in, out, err := client.CompleteWithUsage(ctx, prompt, map[string]any{"max_tokens": 400})
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ahrav/go-assay/internal/ports"
)

var _ ports.LLMClient = (*Client)(nil)

// CoreLLM is the minimal contract a provider implements. Middleware wraps
// CoreLLM values, so every layer has the same shape.
type CoreLLM interface {
	// DoRequest sends prompt and returns the completion with the input and
	// output token counts.
	DoRequest(
		ctx context.Context,
		prompt string,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the model requests are sent to.
	GetModel() string
}

// TokenEstimator approximates token counts before a request is made.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// APIKey authenticates against the provider.
	APIKey string

	// Model is the provider model identifier.
	Model string

	// BaseURL overrides the provider endpoint. Empty uses the default.
	BaseURL string

	// Timeout bounds the provider's HTTP client. Zero leaves it unbounded;
	// per-call deadlines belong in TimeoutMiddleware.
	Timeout time.Duration

	// TokenEstimator counts prompt tokens. Nil uses a character estimator.
	TokenEstimator TokenEstimator

	// Middleware is applied so the first entry is the outermost layer.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM with additional behaviour.
type Middleware func(CoreLLM) CoreLLM

// Client implements ports.LLMClient over a middleware-wrapped CoreLLM.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

// NewClient builds a Client for a registered provider.
func NewClient(provider string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	factory, ok := lookupProvider(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	return NewClientFromCore(core, config.TokenEstimator, config.Middleware...), nil
}

// NewClientFromCore wraps an existing CoreLLM. It is how tests and embedded
// providers obtain a Client.
func NewClientFromCore(core CoreLLM, estimator TokenEstimator, mw ...Middleware) *Client {
	for i := len(mw) - 1; i >= 0; i-- {
		core = mw[i](core)
	}
	if estimator == nil {
		estimator = NewCharacterBasedTokenEstimator(DefaultCharsPerToken)
	}
	return &Client{core: core, estimator: estimator}
}

// Complete returns the completion text only.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, _, err := c.CompleteWithUsage(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage returns the completion with input and output token
// counts for cost accounting.
func (c *Client) CompleteWithUsage(
	ctx context.Context,
	prompt string,
	options map[string]any,
) (string, int, int, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// EstimateTokens implements ports.LLMClient.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel implements ports.LLMClient.
func (c *Client) GetModel() string { return c.core.GetModel() }

// ProviderFactory creates a provider from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = map[string]ProviderFactory{}
)

// RegisterProviderFactory makes a provider available to NewClient.
func RegisterProviderFactory(name string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[name] = factory
}

// Providers lists the registered provider names in sorted order.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(providerFactories))
	for name := range providerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupProvider(name string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[name]
	return f, ok
}
