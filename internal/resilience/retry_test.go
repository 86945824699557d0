package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("ran %d attempts, want 1", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	failure := errors.New("still down")
	attempts := 0
	err := Retry(func() error {
		attempts++
		return failure
	}, config, nil)

	if !errors.Is(err, failure) {
		t.Fatalf("got %v, want the last failure", err)
	}
	if attempts != 3 {
		t.Fatalf("ran %d attempts, want 3", attempts)
	}
}

func TestRetryRecoversMidRun(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	attempts := 0
	err := Retry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, config, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("ran %d attempts, want 3", attempts)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}

	fatal := errors.New("bad request")
	attempts := 0
	err := Retry(func() error {
		attempts++
		return fatal
	}, config, IsRetryable)

	if !errors.Is(err, fatal) {
		t.Fatalf("got %v, want the non-retryable failure", err)
	}
	if attempts != 1 {
		t.Fatalf("ran %d attempts for a non-retryable failure, want 1", attempts)
	}
}

func TestRetryNilConfigUsesDefaults(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return nil
	}, nil, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("ran %d attempts, want 1", attempts)
	}
}

func TestRetryDelayGrowsAndCaps(t *testing.T) {
	config := &RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := config.delay(tc.attempt); got != tc.want {
			t.Fatalf("delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetryDelayJitterStaysBounded(t *testing.T) {
	config := &RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := config.delay(0)
		if d < base || d > base+base/4 {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, base, base+base/4)
		}
	}
}

func TestRetryableErrorMarking(t *testing.T) {
	base := errors.New("status 503")
	marked := NewRetryableError(base)

	if !IsRetryable(marked) {
		t.Fatal("marked error not recognized as retryable")
	}
	if !errors.Is(marked, base) {
		t.Fatal("marker hides the wrapped error")
	}
	if IsRetryable(base) {
		t.Fatal("unmarked error recognized as retryable")
	}
	if NewRetryableError(nil) != nil {
		t.Fatal("wrapping nil should stay nil")
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	retryable := []string{
		"dial tcp: connection refused",
		"read: connection reset by peer",
		"context deadline exceeded",
		"rate limit exceeded",
		"i/o timeout",
	}
	for _, msg := range retryable {
		if !IsRetryableNetworkError(errors.New(msg)) {
			t.Fatalf("%q should classify as retryable", msg)
		}
	}

	if IsRetryableNetworkError(errors.New("invalid api key")) {
		t.Fatal("credential failure classified as retryable")
	}
	if IsRetryableNetworkError(nil) {
		t.Fatal("nil error classified as retryable")
	}
}
