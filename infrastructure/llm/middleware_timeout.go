package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-assay/internal/ports"
)

type timeoutLLM struct {
	next    CoreLLM
	timeout time.Duration
}

// TimeoutMiddleware bounds each request. A request cut off by this deadline
// fails with an error matching ports.ErrTimeout. Place it inside
// RetryMiddleware so every attempt gets a fresh deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &timeoutLLM{next: next, timeout: timeout}
	}
}

// DoRequest implements CoreLLM.
func (t *timeoutLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if t.timeout <= 0 {
		return t.next.DoRequest(ctx, prompt, opts)
	}

	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	response, tokensIn, tokensOut, err := t.next.DoRequest(tctx, prompt, opts)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ports.ErrTimeout) {
		err = fmt.Errorf("%w after %s: %w", ports.ErrTimeout, t.timeout, err)
	}
	return response, tokensIn, tokensOut, err
}

// GetModel implements CoreLLM.
func (t *timeoutLLM) GetModel() string { return t.next.GetModel() }
