package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/orchestral-ai/orchestral/types"
)

func transientErr() error {
	return types.NewError(types.ErrTimeout, "upstream timeout").WithRetryable(true)
}

func TestBackoffRetryer_Success(t *testing.T) {
	logger := zap.NewNop()
	policy := &Policy{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	logger := zap.NewNop()
	policy := &Policy{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		if callCount < 3 {
			return transientErr() // 前两次失败
		}
		return nil // 第三次成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_MaxRetriesExceeded(t *testing.T) {
	logger := zap.NewNop()
	policy := &Policy{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return transientErr()
	})

	assert.Error(t, err)
	assert.Equal(t, 3, callCount, "初次执行 + 两次重试")
}

func TestBackoffRetryer_NonRetryableError(t *testing.T) {
	retryer := NewBackoffRetryer(&Policy{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
	}, zap.NewNop())

	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return types.NewError(types.ErrInvalidRequest, "bad config")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount, "不可重试错误不应再次调用")
}

func TestBackoffRetryer_CodeFilter(t *testing.T) {
	retryer := NewBackoffRetryer(&Policy{
		MaxRetries:     3,
		InitialDelay:   5 * time.Millisecond,
		RetryableCodes: []types.ErrorCode{types.ErrRateLimit},
	}, zap.NewNop())

	// 错误码不在白名单里，即使标记了 Retryable 也不重试
	callCount := 0
	err := retryer.Do(context.Background(), func() error {
		callCount++
		return types.NewError(types.ErrProviderError, "500").WithRetryable(true)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_ContextCancelled(t *testing.T) {
	retryer := NewBackoffRetryer(&Policy{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		cancel() // 在延迟等待期间取消
		return transientErr()
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_FixedDelay(t *testing.T) {
	var delays []time.Duration
	retryer := NewBackoffRetryer(&Policy{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   1.0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}, zap.NewNop())

	_ = retryer.Do(context.Background(), func() error {
		return transientErr()
	})

	assert.Len(t, delays, 3)
	for _, d := range delays {
		assert.Equal(t, 10*time.Millisecond, d, "Multiplier 1.0 应保持固定延迟")
	}
}

func TestBackoffRetryer_DoWithResult(t *testing.T) {
	retryer := NewBackoffRetryer(&Policy{
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
	}, zap.NewNop())

	callCount := 0
	result, err := retryer.DoWithResult(context.Background(), func() (any, error) {
		callCount++
		if callCount < 2 {
			return nil, transientErr()
		}
		return "ok", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
}
