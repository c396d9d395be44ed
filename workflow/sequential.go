package workflow

import (
	"context"
	"strings"

	"github.com/orchestral-ai/orchestral/llm"
)

// SequentialExecutor 顺序链执行器
// 按固定顺序运行 Agent，把每个 Agent 的输出作为下一个的输入
type SequentialExecutor struct {
	*baseExecutor
}

// NewSequentialExecutor 创建顺序链执行器
func NewSequentialExecutor(cfg Config, invoker llm.Invoker, opts ...Option) (*SequentialExecutor, error) {
	base, err := newBaseExecutor(TopologySequential, cfg, invoker, opts...)
	if err != nil {
		return nil, err
	}
	return &SequentialExecutor{baseExecutor: base}, nil
}

// Execute implements Executor.
func (e *SequentialExecutor) Execute(ctx context.Context, opts ExecuteOptions) (*ExecutionResult, error) {
	return e.execute(ctx, opts, e.run)
}

// run 按顺序执行每个 Agent；任何步骤失败（重试耗尽后）对整个运行都是致命的
func (e *SequentialExecutor) run(rc *runContext) (string, error) {
	sc := e.cfg.Sequential
	if sc == nil {
		sc = &SequentialConfig{}
	}

	var outputs []string
	final := ""
	for i, agent := range e.cfg.Agents {
		if err := e.checkInterrupt(rc); err != nil {
			return "", err
		}

		input := rc.opts.Input
		if i > 0 {
			if sc.IncludePreviousContext {
				input = strings.Join(outputs, "\n\n")
			} else {
				input = outputs[i-1]
			}
		}

		step, err := e.runStep(rc, agent, input)
		if err != nil {
			return "", err
		}

		out := step.Output
		if sc.TransformOutput != nil {
			out = sc.TransformOutput(out, i)
		}
		outputs = append(outputs, out)
		final = out
		e.setCurrentStep(i)

		// 提前结束：最后产生的输出作为最终结果，状态仍为 completed
		if sc.ShouldStop != nil && sc.ShouldStop(out, i) {
			e.logger.Debug("chain stopped early")
			break
		}
	}
	return final, nil
}
