package platform

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig defines retry behavior for adapter calls
type RetryConfig struct {
	MaxRetries     int           // attempts after the first call
	InitialBackoff time.Duration // backoff before the first retry
	MaxBackoff     time.Duration // backoff cap
	BackoffFactor  float64       // exponential multiplier
	Jitter         float64       // random jitter factor (0-1)
}

// DefaultRetryConfig returns production-ready retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.1,
	}
}

// Retrier retries adapter operations while they fail with TransientError.
// Permanent, not-found and fatal errors return immediately; the error
// taxonomy decides, not status codes.
type Retrier struct {
	config *RetryConfig
}

// NewRetrier creates a new retrier with the given config
func NewRetrier(config *RetryConfig) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &Retrier{config: config}
}

// CalculateBackoff calculates the backoff for a given attempt, honoring a
// server-provided Retry-After when present
func (r *Retrier) CalculateBackoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > r.config.MaxBackoff {
			return r.config.MaxBackoff
		}
		return retryAfter
	}

	backoff := float64(r.config.InitialBackoff) * math.Pow(r.config.BackoffFactor, float64(attempt))
	if r.config.Jitter > 0 {
		backoff += backoff * r.config.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Do executes fn, retrying transient failures with exponential backoff.
// The last error is returned unchanged so callers can classify it.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt >= r.config.MaxRetries {
			return lastErr
		}

		backoff := r.CalculateBackoff(attempt, RetryAfterOf(lastErr))
		select {
		case <-ctx.Done():
			return Transient("retry wait", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// ParseRetryAfter extracts the Retry-After duration from an HTTP response
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}
	return 0
}
