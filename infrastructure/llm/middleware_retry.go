package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// retryLLM retries transient failures with exponential backoff and jitter.
type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware retries requests that fail with a retryable error (see
// IsRetryable) up to maxRetries extra times. Permanent failures, an open
// circuit and caller cancellation are returned immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: max(maxRetries, 0),
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// DoRequest implements CoreLLM.
func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		response, tokensIn, tokensOut, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil || attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return "", 0, 0, fmt.Errorf("retry aborted: %w", lastErr)
		case <-time.After(r.delay(attempt)):
		}
	}

	if r.maxRetries == 0 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("request failed after retries: %w", lastErr)
}

func (r *retryLLM) delay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 30)
	d := r.baseDelay << uint(attempt) // #nosec G115 -- bounded above
	// ±25% jitter
	d = d - d/4 + time.Duration(rand.Float64()*float64(d)/2) // #nosec G404
	if r.maxDelay > 0 && d > r.maxDelay {
		d = r.maxDelay
	}
	return d
}

// GetModel implements CoreLLM.
func (r *retryLLM) GetModel() string { return r.next.GetModel() }
