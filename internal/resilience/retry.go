package resilience

import (
	"errors"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig bounds one retry loop around a provider call.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryConfig is the fallback when a caller passes nil.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Retry runs fn up to MaxAttempts times, sleeping with exponential backoff
// between attempts. isRetryable classifies failures; a nil classifier retries
// everything. The last failure is returned once attempts are exhausted, and a
// non-retryable failure returns immediately.
func Retry(fn func() error, config *RetryConfig, isRetryable func(error) bool) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(config.delay(attempt - 1))
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// delay computes the sleep before retry number attempt+1: exponential growth
// from InitialBackoff, capped at MaxBackoff, with up to 25% random jitter so
// concurrent sessions do not hammer a recovering provider in lockstep.
func (c *RetryConfig) delay(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 0; i < attempt && d < c.MaxBackoff; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
	}
	if d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	if c.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	return d
}

// RetryableError marks an error that is worth retrying, such as a 429 or a
// 5xx from a provider. Clients wrap at the point the status is known.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an error as retryable.
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether any error in the chain is a RetryableError.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// retryableFragments are message fragments of transport-level failures that
// usually clear on their own: broken connections, timeouts, throttling.
var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"transport is closing",
	"unavailable",
	"network is unreachable",
	"no route to host",
	"deadline exceeded",
	"timeout",
	"i/o timeout",
	"resource exhausted",
	"too many connections",
	"rate limit",
}

// IsRetryableNetworkError classifies an unmarked error by its message. Used
// for failures surfacing from lower layers that carry no marker type.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
