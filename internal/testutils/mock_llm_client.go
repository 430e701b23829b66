package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ahrav/go-assay/internal/ports"
)

// MockLLMClient implements ports.LLMClient with deterministic explanations
// chosen by prompt pattern. It records every prompt and is safe for
// concurrent use.
type MockLLMClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	fallback  MockResponse
	err       error
	prompts   []string
}

// MockResponse is returned for prompts containing Pattern.
type MockResponse struct {
	// Pattern is matched case-insensitively as a substring.
	Pattern   string
	Response  string
	TokensOut int
}

// NewMockLLMClient returns a client whose default answer is a plausible
// explanation inside the default 50 to 200 word band.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{
		model: model,
		fallback: MockResponse{
			Response:  Explanation("The subject", 60),
			TokensOut: 80,
		},
	}
}

// Explanation builds a deterministic explanation of exactly words words
// that starts with lead.
func Explanation(lead string, words int) string {
	parts := strings.Fields(lead)
	filler := []string{"shows", "the", "skill", "across", "the", "available", "sources", "with", "consistent", "evidence"}
	for i := 0; len(parts) < words; i++ {
		parts = append(parts, filler[i%len(filler)])
	}
	return strings.Join(parts[:words], " ") + "."
}

// AddResponse registers a pattern. Earlier patterns win.
func (m *MockLLMClient) AddResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
}

// FailWith makes every call return err. A nil err restores success.
func (m *MockLLMClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Complete implements ports.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	text, _, _, err := m.CompleteWithUsage(ctx, prompt, options)
	return text, err
}

// CompleteWithUsage implements ports.LLMClient.
func (m *MockLLMClient) CompleteWithUsage(ctx context.Context, prompt string, _ map[string]any) (string, int, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	if prompt == "" {
		return "", 0, 0, fmt.Errorf("prompt cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", 0, 0, m.err
	}

	r := m.match(prompt)
	in, _ := m.EstimateTokens(prompt)
	return r.Response, in, r.TokensOut, nil
}

func (m *MockLLMClient) match(prompt string) MockResponse {
	lower := strings.ToLower(prompt)
	for _, r := range m.responses {
		if strings.Contains(lower, strings.ToLower(r.Pattern)) {
			return r
		}
	}
	return m.fallback
}

// EstimateTokens implements ports.LLMClient at about four characters per
// token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return max(len(text)/4, 1), nil
}

// GetModel implements ports.LLMClient.
func (m *MockLLMClient) GetModel() string { return m.model }

// Prompts returns a copy of the prompts received so far.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// CallCount returns the number of completion calls.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

var _ ports.LLMClient = (*MockLLMClient)(nil)
