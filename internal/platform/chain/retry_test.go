package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestRetryWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(), func() error {
		calls++
		if calls < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoffStopsOnDefinitiveError(t *testing.T) {
	calls := 0
	definitive := errors.New("execution reverted")
	err := retryWithBackoff(context.Background(), fastRetry(), func() error {
		calls++
		return definitive
	})
	assert.ErrorIs(t, err, definitive)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoffExhaustsBudget(t *testing.T) {
	calls := 0
	err := retryWithBackoff(context.Background(), fastRetry(), func() error {
		calls++
		return errors.New("i/o timeout")
	})
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryWithBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryWithBackoff(ctx, fastRetry(), func() error {
		return errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.True(t, isRetryable(errors.New("unexpected EOF")))
	assert.True(t, isRetryable(errors.New("429 Too Many Requests")))
	assert.False(t, isRetryable(errors.New("invalid argument")))
}
