package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy decides whether a failed attempt is retried and how long to
// back off before the next one.
type Policy interface {
	// ShouldRetry reports whether attempt (zero-based) should be retried
	// and the delay to apply before it.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
}

// ExponentialBackoff retries with exponentially growing delays.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates an exponential backoff policy with
// jitter enabled.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxAttempts,
		Jitter:          true,
	}
}

// ShouldRetry implements Policy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts || !isRetryable(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// NextDelay calculates the delay before the given attempt.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}
	if e.Jitter {
		// ±15% spread keeps synchronized retriers apart.
		delay += (rand.Float64() - 0.5) * 0.3 * delay
	}
	return time.Duration(delay)
}

// FixedDelay retries with a constant delay.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a fixed delay policy.
func NewFixedDelay(delay time.Duration, maxAttempts int) *FixedDelay {
	return &FixedDelay{Delay: delay, MaxAttempts: maxAttempts}
}

// ShouldRetry implements Policy.
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts || !isRetryable(err) {
		return false, 0
	}
	return true, f.Delay
}

// Retry runs fn until it succeeds, the policy gives up, or ctx is done.
// The last error from fn is returned when the policy gives up.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		retry, delay := policy.ShouldRetry(attempt, err)
		if !retry {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RetryableError marks an error as retryable or permanent for the
// policies in this package.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (r RetryableError) Error() string { return r.Err.Error() }

// IsRetryable reports whether the wrapped error should be retried.
func (r RetryableError) IsRetryable() bool { return r.Retryable }

func (r RetryableError) Unwrap() error { return r.Err }

// isRetryable treats unknown errors as retryable; only errors that
// explicitly declare themselves permanent stop the loop early.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r, ok := err.(interface{ IsRetryable() bool }); ok {
		return r.IsRetryable()
	}
	return true
}
