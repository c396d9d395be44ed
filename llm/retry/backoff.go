// Package retry provides the retry policy shared by every workflow step:
// bounded attempts with fixed or exponential delay, optional jitter, and
// error-code based filtering of what is worth retrying.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/orchestral-ai/orchestral/types"
)

// Policy 定义重试策略配置
// 遵循 KISS 原则：简单但功能完整的重试策略
type Policy struct {
	MaxRetries     int               // 最大重试次数（0 表示不重试）
	InitialDelay   time.Duration     // 初始延迟时间
	MaxDelay       time.Duration     // 最大延迟时间
	Multiplier     float64           // 延迟倍增因子（1.0 为固定延迟）
	Jitter         bool              // 是否添加随机抖动（防止雪崩）
	RetryableCodes []types.ErrorCode // 可重试的错误码（为空则按 Error.Retryable 判断）

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns the policy used when a workflow config does not
// specify one: three attempts, fixed one-second delay, transient codes only.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   1.0,
		RetryableCodes: []types.ErrorCode{
			types.ErrTimeout,
			types.ErrRateLimit,
		},
	}
}

// Retryer 重试器接口，提供统一的重试能力
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于退避的重试器实现
type backoffRetryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewBackoffRetryer 创建重试器
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 1.0
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：退避延迟 + 随机抖动 + 错误码过滤
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn()

		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.Retryable(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return nil, lastErr
		}

		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay 计算延迟时间：退避 + 可选的随机抖动
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 随机抖动（±25%），防止多个客户端同时重试导致的雪崩效应
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// Retryable 检查错误是否可重试
// 配置了 RetryableCodes 时按错误码过滤，否则按结构化错误的 Retryable 标记
func (r *backoffRetryer) Retryable(err error) bool {
	if err == nil {
		return false
	}

	if len(r.policy.RetryableCodes) == 0 {
		return types.IsRetryable(err)
	}

	code := types.GetErrorCode(err)
	for _, c := range r.policy.RetryableCodes {
		if code == c {
			return true
		}
	}
	return false
}
