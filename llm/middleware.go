package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orchestral-ai/orchestral/types"
)

// RateLimitedInvoker 限流 Invoker 包装器
// 装饰器模式：增强底层 Invoker 而不修改其代码
// 并行拓扑会同时发起多路调用，限流器把突发请求摊平，避免触发上游限流
type RateLimitedInvoker struct {
	inner   Invoker
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimitedInvoker wraps inner with a token-bucket limiter allowing
// rps requests per second with the given burst.
func NewRateLimitedInvoker(inner Invoker, rps float64, burst int, logger *zap.Logger) *RateLimitedInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedInvoker{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(zap.String("component", "rate_limited_invoker")),
	}
}

// Invoke waits for a limiter token, then delegates to the inner invoker.
// A cancelled wait surfaces as a rate-limit error so the retry policy can
// classify it.
func (r *RateLimitedInvoker) Invoke(ctx context.Context, agent types.AgentDefinition, input string, opts *InvokeOptions) (*Response, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, types.NewError(types.ErrRateLimit, "rate limiter wait aborted").
			WithRetryable(true).
			WithCause(err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		r.logger.Debug("throttled invocation",
			zap.String("agent_id", agent.ID),
			zap.Duration("waited", waited),
		)
	}
	return r.inner.Invoke(ctx, agent, input, opts)
}

func (r *RateLimitedInvoker) Name() string { return r.inner.Name() }

// LoggingInvoker 日志 Invoker 包装器，记录每次调用的延迟与结果
type LoggingInvoker struct {
	inner  Invoker
	logger *zap.Logger
}

// NewLoggingInvoker wraps inner so that every invocation is logged with its
// agent id, duration, and outcome.
func NewLoggingInvoker(inner Invoker, logger *zap.Logger) *LoggingInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingInvoker{
		inner:  inner,
		logger: logger.With(zap.String("component", "invoker")),
	}
}

func (l *LoggingInvoker) Invoke(ctx context.Context, agent types.AgentDefinition, input string, opts *InvokeOptions) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Invoke(ctx, agent, input, opts)
	if err != nil {
		l.logger.Warn("invocation failed",
			zap.String("agent_id", agent.ID),
			zap.Duration("duration", time.Since(start)),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err),
		)
		return nil, err
	}
	l.logger.Debug("invocation completed",
		zap.String("agent_id", agent.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("output_len", len(resp.Text)),
	)
	return resp, nil
}

func (l *LoggingInvoker) Name() string { return l.inner.Name() }
