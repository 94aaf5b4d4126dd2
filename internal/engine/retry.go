package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/bookforge/pkg/schema"
)

// Backoff strategies understood by ComputeBackoff.
const (
	BackoffNone        = "none"
	BackoffConstant    = "constant"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// RetryPolicy bounds how often and how patiently an operation is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     string
	// Retryable decides whether a failed attempt may be repeated. Nil means IsRetryableError.
	Retryable func(error) bool
}

// DefaultCompletionPolicy is the policy used for text-completion calls:
// three attempts, waiting base × attempt number between them.
func DefaultCompletionPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Backoff:     BackoffLinear,
	}
}

// IsRetryableError classifies whether an error should be retried.
// Retryable by default: network errors, timeouts, transient backend and too-short replies.
// Non-retryable: cancellation, typed PipelineErrors with non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Context cancelled means the job is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var pe *schema.PipelineError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
		"rate limit",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Unknown errors are retried; the attempt budget bounds the damage.
	return true
}

// ComputeBackoff returns the delay to wait after the given 1-based attempt failed.
func ComputeBackoff(policy RetryPolicy, attempt int) time.Duration {
	if policy.BaseDelay <= 0 || attempt < 1 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		delay = policy.BaseDelay << uint(attempt-1)
	case BackoffLinear:
		delay = policy.BaseDelay * time.Duration(attempt)
	default: // none, constant
		delay = policy.BaseDelay
	}

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// WaitForBackoff sleeps for delay or returns early with the context's error.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryHook observes a failed attempt that is about to be retried.
type RetryHook func(attempt int, err error, delay time.Duration)

// Retry calls fn until it succeeds, a non-retryable error occurs, or
// MaxAttempts calls have failed. Only the last failure is surfaced, wrapped
// in a RETRY_EXHAUSTED error when the budget ran out.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error, onRetry RetryHook) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		delay := ComputeBackoff(policy, attempt)
		if onRetry != nil {
			onRetry(attempt, lastErr, delay)
		}
		if err := WaitForBackoff(ctx, delay); err != nil {
			return err
		}
	}

	return schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"gave up after %d attempts: %s", attempts, lastErr.Error()).
		WithCause(lastErr).
		WithDetails(map[string]any{"attempts": attempts})
}
