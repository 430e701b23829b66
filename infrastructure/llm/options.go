package llm

import (
	"fmt"
	"net/url"
	"time"
)

// Parameter bounds shared by providers.
const (
	DefaultMaxTokens = 512
	MinTemperature   = 0.0
	MaxTemperature   = 2.0
	MinTimeout       = 1 * time.Second
	MaxTimeout       = 10 * time.Minute
)

// RequestOptions is the provider-neutral form of a request's option map.
type RequestOptions struct {
	// MaxTokens bounds the completion length.
	MaxTokens int
	// Model overrides the provider's configured model.
	Model string
	// Temperature is nil when the provider default should apply.
	Temperature *float64
	// TopP is nil when the provider default should apply.
	TopP *float64
	// System carries instructions sent ahead of the prompt.
	System string
	// Extra holds unrecognised options.
	Extra map[string]any
}

// ParseRequestOptions extracts the standard keys ("max_tokens", "model",
// "temperature", "top_p", "system") from opts. Missing or invalid values
// fall back to defaults; anything else lands in Extra.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: extractInt(opts, "max_tokens", DefaultMaxTokens, isPositiveInt),
		Model:     extractString(opts, "model", defaultModel, isNonEmptyString),
		System:    extractString(opts, "system", "", nil),
		Extra:     make(map[string]any),
	}

	if temp, ok := extractFloat(opts, "temperature", isValidTemperature); ok {
		options.Temperature = &temp
	}
	if topP, ok := extractFloat(opts, "top_p", isUnitInterval); ok {
		options.TopP = &topP
	}

	for k, v := range opts {
		switch k {
		case "max_tokens", "model", "system", "temperature", "top_p":
		default:
			options.Extra[k] = v
		}
	}
	return options
}

func extractInt(opts map[string]any, key string, def int, valid func(int) bool) int {
	v, ok := opts[key]
	if !ok {
		return def
	}
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		n = int(x)
	case float64:
		if x != float64(int(x)) {
			return def
		}
		n = int(x)
	default:
		return def
	}
	if valid != nil && !valid(n) {
		return def
	}
	return n
}

func extractString(opts map[string]any, key, def string, valid func(string) bool) string {
	s, ok := opts[key].(string)
	if !ok || (valid != nil && !valid(s)) {
		return def
	}
	return s
}

func extractFloat(opts map[string]any, key string, valid func(float64) bool) (float64, bool) {
	var f float64
	switch x := opts[key].(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	default:
		return 0, false
	}
	if valid != nil && !valid(f) {
		return 0, false
	}
	return f, true
}

func isPositiveInt(v int) bool         { return v > 0 }
func isNonEmptyString(v string) bool   { return v != "" }
func isValidTemperature(v float64) bool { return v >= MinTemperature && v <= MaxTemperature }
func isUnitInterval(v float64) bool     { return v >= 0 && v <= 1 }

// ValidateBaseURL checks that baseURL is an absolute http(s) URL. An empty
// string is valid and means the provider default.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL must include a host")
	}
	return u.String(), nil
}

// ValidateTimeout clamps timeout to [MinTimeout, MaxTimeout]. Non-positive
// values return zero, meaning no client-level timeout.
func ValidateTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return 0
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	default:
		return timeout
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// baseProvider carries the configured model for providers.
type baseProvider struct {
	model string
}

// GetModel implements CoreLLM.
func (b *baseProvider) GetModel() string { return b.model }

// countOr returns actual when the provider reported it, otherwise an
// estimate from text.
func countOr(actual int64, text string) int {
	if actual > 0 {
		return int(actual)
	}
	return NewCharacterBasedTokenEstimator(DefaultCharsPerToken).EstimateTokens(text)
}
