// =============================================================================
// 📦 工作流定义的 YAML 形态
// =============================================================================
// workflow.Config 里带函数的字段（自定义聚合器、解析器、变换钩子）无法
// 从 YAML 表达，时长字段也需要 "45s" 这类人类可读写法，所以配置文件用
// 这里的镜像结构描述工作流，再由 Build 转换成 workflow.Config。
// =============================================================================
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orchestral-ai/orchestral/types"
	"github.com/orchestral-ai/orchestral/workflow"
)

// Duration 支持 "30s"、"5m" 写法的时长
type Duration time.Duration

// UnmarshalYAML 实现 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 转换为 time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WorkflowConfig 工作流定义的配置文件形态
type WorkflowConfig struct {
	Name     string                  `yaml:"name"`
	Topology string                  `yaml:"topology"`
	Agents   []types.AgentDefinition `yaml:"agents"`

	Retry       *RetryConfig `yaml:"retry"`
	StepTimeout Duration     `yaml:"step_timeout"`
	Timeout     Duration     `yaml:"timeout"`

	Sequential *SequentialConfig       `yaml:"sequential"`
	Parallel   *ParallelConfig         `yaml:"parallel"`
	Routing    *workflow.RoutingConfig `yaml:"routing"`
	Evaluator  *EvaluatorConfig        `yaml:"evaluator"`
}

// RetryConfig 重试策略的配置文件形态
type RetryConfig struct {
	MaxRetries     int               `yaml:"max_retries"`
	RetryDelay     Duration          `yaml:"retry_delay"`
	Backoff        bool              `yaml:"backoff"`
	MaxDelay       Duration          `yaml:"max_delay"`
	RetryableCodes []types.ErrorCode `yaml:"retryable_codes"`
}

// SequentialConfig 顺序链的配置文件形态
type SequentialConfig struct {
	IncludePreviousContext bool `yaml:"include_previous_context"`
}

// ParallelConfig 并行扇出的配置文件形态
type ParallelConfig struct {
	Aggregation    string   `yaml:"aggregation"`
	Separator      string   `yaml:"separator"`
	RequireMin     int      `yaml:"require_min"`
	MaxWait        Duration `yaml:"max_wait"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	SynthesizerID  string   `yaml:"synthesizer_id"`
}

// EvaluatorConfig 评估优化循环的配置文件形态
type EvaluatorConfig struct {
	GeneratorID    string  `yaml:"generator_id"`
	EvaluatorID    string  `yaml:"evaluator_id"`
	OptimizerID    string  `yaml:"optimizer_id"`
	Threshold      float64 `yaml:"threshold"`
	MaxIterations  int     `yaml:"max_iterations"`
	MinImprovement float64 `yaml:"min_improvement"`
	FailPolicy     string  `yaml:"fail_policy"`
}

// Build 转换为 workflow.Config
// 函数型能力（自定义聚合器、解析器、变换钩子）需要调用方在返回值上补充
func (w *WorkflowConfig) Build() (workflow.Config, error) {
	cfg := workflow.Config{
		Name:        w.Name,
		Topology:    workflow.Topology(w.Topology),
		Agents:      w.Agents,
		StepTimeout: w.StepTimeout.Std(),
		Timeout:     w.Timeout.Std(),
	}

	if w.Retry != nil {
		cfg.Retry = &workflow.RetryConfig{
			MaxRetries:     w.Retry.MaxRetries,
			RetryDelay:     w.Retry.RetryDelay.Std(),
			Backoff:        w.Retry.Backoff,
			MaxDelay:       w.Retry.MaxDelay.Std(),
			RetryableCodes: w.Retry.RetryableCodes,
		}
	}
	if w.Sequential != nil {
		cfg.Sequential = &workflow.SequentialConfig{
			IncludePreviousContext: w.Sequential.IncludePreviousContext,
		}
	}
	if w.Parallel != nil {
		cfg.Parallel = &workflow.ParallelConfig{
			Aggregation:    workflow.AggregationStrategy(w.Parallel.Aggregation),
			Separator:      w.Parallel.Separator,
			RequireMin:     w.Parallel.RequireMin,
			MaxWait:        w.Parallel.MaxWait.Std(),
			MaxConcurrency: w.Parallel.MaxConcurrency,
			SynthesizerID:  w.Parallel.SynthesizerID,
		}
	}
	if w.Routing != nil {
		routing := *w.Routing
		cfg.Routing = &routing
	}
	if w.Evaluator != nil {
		cfg.Evaluator = &workflow.EvaluatorConfig{
			GeneratorID:    w.Evaluator.GeneratorID,
			EvaluatorID:    w.Evaluator.EvaluatorID,
			OptimizerID:    w.Evaluator.OptimizerID,
			Threshold:      w.Evaluator.Threshold,
			MaxIterations:  w.Evaluator.MaxIterations,
			MinImprovement: w.Evaluator.MinImprovement,
			FailPolicy:     workflow.FailPolicy(w.Evaluator.FailPolicy),
		}
	}

	if err := cfg.Validate(); err != nil {
		return workflow.Config{}, err
	}
	return cfg, nil
}
