package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Provider so every call first waits on a token bucket.
// It forwards Complete when the wrapped provider implements Completer.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with the given burst. A burst
// below one is raised to one.
func NewRateLimited(p Provider, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Unwrap returns the wrapped provider.
func (r *RateLimited) Unwrap() Provider { return r.inner }

func (r *RateLimited) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.inner.Chat(ctx, req)
}

func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.inner.Embed(ctx, texts)
}

func (r *RateLimited) Complete(ctx context.Context, req CompletionRequest) (*ChatResponse, error) {
	c, ok := r.inner.(Completer)
	if !ok {
		return nil, fmt.Errorf("llm: %T does not support prefixed completion", r.inner)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return c.Complete(ctx, req)
}

// AsCompleter reports whether p can serve prefixed completions, looking
// through a RateLimited wrapper.
func AsCompleter(p Provider) (Completer, bool) {
	if r, ok := p.(*RateLimited); ok {
		if _, ok := r.inner.(Completer); !ok {
			return nil, false
		}
		return r, true
	}
	c, ok := p.(Completer)
	return c, ok
}
