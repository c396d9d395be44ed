// Package orchestral provides a top-level convenience entry point for
// building workflow executors with minimal boilerplate.
//
// Usage:
//
//	import "github.com/orchestral-ai/orchestral"
//
//	exec, err := orchestral.New(cfg, invoker)
//	exec, err := orchestral.New(cfg, invoker, orchestral.WithLogger(logger))
//
// This is a thin wrapper around the workflow package's per-topology
// constructors; both produce identical results. Use this package when the
// topology is decided by configuration rather than at the call site.
package orchestral

import (
	"fmt"

	"github.com/orchestral-ai/orchestral/llm"
	"github.com/orchestral-ai/orchestral/types"
	"github.com/orchestral-ai/orchestral/workflow"
)

// Option configures the executor created by [New].
type Option = workflow.Option

// New creates the executor matching cfg.Topology.
func New(cfg workflow.Config, invoker llm.Invoker, opts ...Option) (workflow.Executor, error) {
	switch cfg.Topology {
	case workflow.TopologySequential:
		return workflow.NewSequentialExecutor(cfg, invoker, opts...)
	case workflow.TopologyParallel:
		return workflow.NewParallelExecutor(cfg, invoker, opts...)
	case workflow.TopologyRouting:
		return workflow.NewRoutingExecutor(cfg, invoker, opts...)
	case workflow.TopologyEvaluatorOptimizer:
		return workflow.NewEvaluatorOptimizerExecutor(cfg, invoker, opts...)
	default:
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown topology %q", cfg.Topology))
	}
}

// Re-export the executor options so callers never need to import workflow/.

// WithLogger sets a custom zap logger.
var WithLogger = workflow.WithLogger

// WithConversationStore sets the conversation log sink.
var WithConversationStore = workflow.WithConversationStore

// WithMetricsNamespace enables Prometheus metrics under the namespace.
var WithMetricsNamespace = workflow.WithMetricsNamespace
