package types

import "context"

// AgentRole 标记 Agent 在工作流中承担的角色
// 这是一个可扩展的字符串类型，调用方可以定义自己的角色
type AgentRole string

// 预定义的常见角色（可选使用）
const (
	RoleWorker      AgentRole = "worker"      // 普通工作节点
	RoleRouter      AgentRole = "router"      // 分类路由
	RoleSynthesizer AgentRole = "synthesizer" // 并行结果综合
	RoleGenerator   AgentRole = "generator"   // 初稿生成
	RoleEvaluator   AgentRole = "evaluator"   // 质量评估
	RoleOptimizer   AgentRole = "optimizer"   // 根据反馈改写
)

// ModelConfig selects the provider, model, and sampling parameters for one
// agent. The zero value means "use the invoker's defaults".
type ModelConfig struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// AgentDefinition is the identity and prompt configuration of one logical
// agent. Definitions are immutable once a workflow starts: executors copy
// what they need at construction time and never write back.
type AgentDefinition struct {
	// ID uniquely identifies the agent inside one workflow config.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable display name.
	Name string `json:"name" yaml:"name"`
	// Role tags the agent's function in the topology.
	Role AgentRole `json:"role,omitempty" yaml:"role,omitempty"`
	// SystemPrompt is the agent's system instruction.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	// Model optionally overrides provider/model/sampling for this agent.
	Model *ModelConfig `json:"model,omitempty" yaml:"model,omitempty"`
	// MaxSteps bounds internal multi-step reasoning, when the invoker
	// supports it. Zero means no budget.
	MaxSteps int `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
}

// Validate checks the minimal invariants of a definition.
func (d *AgentDefinition) Validate() error {
	if d.ID == "" {
		return NewError(ErrInvalidRequest, "agent definition requires an id")
	}
	if d.SystemPrompt == "" {
		return NewError(ErrInvalidRequest, "agent "+d.ID+" requires a system prompt")
	}
	return nil
}

// Executor is the minimal agent execution interface shared by all agent
// variants. Domain-specific interfaces extend this contract.
type Executor interface {
	// ID returns the agent's unique identifier.
	ID() string
	// Execute runs the agent with the given input and returns the result.
	Execute(ctx context.Context, input any) (any, error)
}

// Named is an optional interface for agents that have a display name.
type Named interface {
	// Name returns the agent's human-readable display name.
	Name() string
}
