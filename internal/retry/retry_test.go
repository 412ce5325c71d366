package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), Quote(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffFactor: 1, MaxBackoff: time.Millisecond}
	calls := 0
	err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Millisecond, BackoffFactor: 1, MaxBackoff: time.Millisecond}
	calls := 0
	err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(errors.New("400 bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "bad request")
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffFactor: 1, MaxBackoff: time.Millisecond}
	calls := 0
	err := WithRetry(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, Quote(), func(ctx context.Context, attempt int) error {
		return nil
	})
	require.Error(t, err)
}
