// internal/common/camunda/client_test.go
package camunda

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plan-generator/internal/common/config"
	"plan-generator/internal/common/logger"
)

func fastRetry(n int) *RetryConfig {
	return &RetryConfig{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(5), logger.NewTestLogger(t), "connect", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("rpc error: code = Unavailable desc = connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	cause := errors.New("deadline exceeded")
	err := Retry(context.Background(), fastRetry(4), logger.NewNoOpLogger(), "connect", func(context.Context) error {
		attempts++
		return cause
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connect failed after 4 attempts")
	assert.Equal(t, 4, attempts)
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(5), logger.NewNoOpLogger(), "connect", func(context.Context) error {
		attempts++
		return errors.New("permission denied")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := &RetryConfig{MaxRetries: 3, BaseDelay: time.Hour}
	err := Retry(ctx, rc, logger.NewNoOpLogger(), "connect", func(context.Context) error {
		return errors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"dial tcp: connection refused", true},
		{"rpc error: code = Unavailable", true},
		{"context deadline exceeded", true},
		{"i/o timeout", true},
		{"write: broken pipe", true},
		{"NOT_FOUND: process not deployed", false},
		{"unauthorized", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(errors.New(tt.msg)))
		})
	}
}

func TestStartWorker_Disabled(t *testing.T) {
	w := StartWorker(nil, config.GeneratePlanWorker, config.WorkerConfig{Enabled: false}, nil, logger.NewTestLogger(t))
	assert.Nil(t, w)
}
