// Package llm defines the invoker contract the workflow engine drives.
// The engine treats an agent invocation as a black-box text transform:
// (system prompt, input) in, generated text out. The actual network call
// to a provider lives behind the Invoker interface.
package llm

import (
	"context"

	"github.com/orchestral-ai/orchestral/types"
)

// FinishReason 标识一次补全结束的原因
type FinishReason string

const (
	FinishStop          FinishReason = "stop"           // 模型正常结束
	FinishLength        FinishReason = "length"         // 达到 token 上限
	FinishContentFilter FinishReason = "content_filter" // 命中内容安全
)

// Response is the final result of one agent invocation.
type Response struct {
	// Text is the full generated text.
	Text string `json:"text"`
	// FinishReason reports why generation stopped.
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	// Provider names the backing provider, when known.
	Provider string `json:"provider,omitempty"`
	// Model names the model that produced the text, when known.
	Model string `json:"model,omitempty"`
}

// DeltaFunc receives incremental text deltas while an invocation streams.
// Implementations must be fast; the invoker may call it from its network
// goroutine.
type DeltaFunc func(delta string)

// InvokeOptions carries per-call options.
type InvokeOptions struct {
	// Context is free-form auxiliary context the caller threads through to
	// the provider (conversation summary, tool state, etc.).
	Context map[string]any
	// OnDelta, when non-nil, requests streaming: the invoker forwards
	// incremental deltas before returning the final Response.
	OnDelta DeltaFunc
}

// Invoker turns an agent definition plus input text into generated text.
//
// Implementations must surface failures as *types.Error with one of the
// invocation codes (ErrTimeout, ErrRateLimit, ErrProviderError,
// ErrInvalidRequest) so the engine's retry policy can classify them; a bare
// error is treated as non-retryable.
type Invoker interface {
	// Invoke executes one agent call. It blocks until the provider returns
	// the final text or fails, honoring ctx cancellation and deadline.
	Invoke(ctx context.Context, agent types.AgentDefinition, input string, opts *InvokeOptions) (*Response, error)

	// Name returns the invoker's identifier, used in logs and metrics.
	Name() string
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(ctx context.Context, agent types.AgentDefinition, input string, opts *InvokeOptions) (*Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, agent types.AgentDefinition, input string, opts *InvokeOptions) (*Response, error) {
	return f(ctx, agent, input, opts)
}

func (f InvokerFunc) Name() string { return "func" }
