package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orchestral-ai/orchestral/types"
)

func echoInvoker() Invoker {
	return InvokerFunc(func(ctx context.Context, agent types.AgentDefinition, input string, opts *InvokeOptions) (*Response, error) {
		return &Response{Text: agent.ID + ":" + input, FinishReason: FinishStop}, nil
	})
}

func TestRateLimitedInvoker_Passthrough(t *testing.T) {
	inv := NewRateLimitedInvoker(echoInvoker(), 100, 10, zap.NewNop())

	resp, err := inv.Invoke(context.Background(), types.AgentDefinition{ID: "a"}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "a:hi", resp.Text)
}

func TestRateLimitedInvoker_CancelledWait(t *testing.T) {
	// Zero-rate limiter never hands out a token once the burst is spent.
	inv := NewRateLimitedInvoker(echoInvoker(), 0, 0, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := inv.Invoke(ctx, types.AgentDefinition{ID: "a"}, "hi", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrRateLimit, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestLoggingInvoker_PropagatesError(t *testing.T) {
	boom := types.NewError(types.ErrProviderError, "upstream down")
	inner := InvokerFunc(func(ctx context.Context, agent types.AgentDefinition, input string, opts *InvokeOptions) (*Response, error) {
		return nil, boom
	})

	inv := NewLoggingInvoker(inner, zap.NewNop())
	_, err := inv.Invoke(context.Background(), types.AgentDefinition{ID: "a"}, "hi", nil)
	assert.True(t, errors.Is(err, boom))
}

func TestLoggingInvoker_Passthrough(t *testing.T) {
	inv := NewLoggingInvoker(echoInvoker(), zap.NewNop())
	resp, err := inv.Invoke(context.Background(), types.AgentDefinition{ID: "b"}, "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "b:x", resp.Text)
}
