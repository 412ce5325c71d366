// Package retry implements the bounded exponential-backoff retry policy
// used by the live-trade pipeline's quote, build and confirmation steps.
// Transaction submission is not retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Config bounds one retry sequence.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxBackoff     time.Duration
}

// Quote is the retry policy for the quote step: up to 3 attempts, base 1s, factor 2.
func Quote() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Second, BackoffFactor: 2, MaxBackoff: 8 * time.Second}
}

// Build is the retry policy for the swap-build step: the same policy as Quote.
func Build() Config {
	return Quote()
}

// Confirmation is the per-signature confirmation retry budget: base 1s,
// factor 1.5, cap 30s, default max 10 attempts.
func Confirmation(maxAttempts int) Config {
	return Config{MaxAttempts: maxAttempts, InitialBackoff: time.Second, BackoffFactor: 1.5, MaxBackoff: 30 * time.Second}
}

// NonRetryableError marks an error as non-retryable (4xx, malformed body,
// decode failure): WithRetry aborts immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string { return e.Err.Error() }
func (e *NonRetryableError) Unwrap() error { return e.Err }

// Permanent wraps err so WithRetry treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// Operation is a unit of work WithRetry executes, possibly several times.
type Operation func(ctx context.Context, attempt int) error

// WithRetry runs operation under the given Config, retrying transient
// failures with exponential backoff. It never retries an error wrapped by
// Permanent.
func WithRetry(ctx context.Context, cfg Config, op Operation) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var nonRetryable *NonRetryableError
		if errors.As(err, &nonRetryable) {
			return nonRetryable.Err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("exhausted %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// IsRetryable classifies a transport error: network/timeout/5xx are
// transient, everything else (4xx, decode failures) is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection refused", "connection reset", "timeout", "temporary failure", "too many requests", "5xx", "eof"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
