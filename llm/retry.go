package llm

import (
	"errors"
	"net/http"
	"strconv"
	"time"
)

// retryPolicy is exponential backoff with a slower floor for rate limits.
type retryPolicy struct {
	attempts  int           // retries after the first try
	base      time.Duration // first backoff, doubled per attempt
	rateLimit time.Duration // first backoff after a 429
	max       time.Duration
}

var defaultRetry = retryPolicy{
	attempts:  6,
	base:      2 * time.Second,
	rateLimit: 5 * time.Second,
	max:       2 * time.Minute,
}

// delay returns the wait before retry number attempt (1-based) after err.
// A Retry-After header longer than the computed backoff wins.
func (p retryPolicy) delay(attempt int, err error) time.Duration {
	step := p.base
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		step = p.rateLimit
		if secs, convErr := strconv.Atoi(apiErr.RetryAfter); convErr == nil && secs > 0 {
			if ra := time.Duration(secs) * time.Second; ra > step<<(attempt-1) {
				return p.clamp(ra)
			}
		}
	}
	return p.clamp(step << (attempt - 1))
}

func (p retryPolicy) clamp(d time.Duration) time.Duration {
	if p.max > 0 && d > p.max {
		return p.max
	}
	return d
}
