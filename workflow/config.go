package workflow

import (
	"fmt"
	"time"

	"github.com/orchestral-ai/orchestral/llm/retry"
	"github.com/orchestral-ai/orchestral/types"
)

// Topology 工作流执行拓扑
type Topology string

const (
	// TopologySequential 顺序链：前一个 Agent 的输出作为下一个的输入
	TopologySequential Topology = "sequential"
	// TopologyParallel 并行扇出：同一输入发给 N 个 Agent，再聚合结果
	TopologyParallel Topology = "parallel"
	// TopologyRouting 分类路由：Router Agent 分类后分派给专门的 Agent
	TopologyRouting Topology = "routing"
	// TopologyEvaluatorOptimizer 生成-评估-优化循环
	TopologyEvaluatorOptimizer Topology = "evaluator-optimizer"
)

// RetryConfig is the per-workflow retry policy applied by the step wrapper.
type RetryConfig struct {
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the delay before each retry. Fixed by default.
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Backoff compounds the delay (doubling, capped at MaxDelay) instead
	// of keeping it fixed.
	Backoff bool `yaml:"backoff"`
	// MaxDelay caps the compound delay. Zero uses the retry package default.
	MaxDelay time.Duration `yaml:"max_delay"`
	// RetryableCodes restricts which error codes are retried. Empty means
	// the transient defaults (TIMEOUT, RATE_LIMIT).
	RetryableCodes []types.ErrorCode `yaml:"retryable_codes"`
}

// policy converts the config into a retry.Policy.
func (rc *RetryConfig) policy() *retry.Policy {
	p := retry.DefaultPolicy()
	if rc == nil {
		return p
	}
	p.MaxRetries = rc.MaxRetries
	if rc.RetryDelay > 0 {
		p.InitialDelay = rc.RetryDelay
	}
	if rc.Backoff {
		p.Multiplier = 2.0
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay
	}
	if len(rc.RetryableCodes) > 0 {
		p.RetryableCodes = append([]types.ErrorCode(nil), rc.RetryableCodes...)
	}
	return p
}

// TransformFunc rewrites a step output before it is piped onward.
// Implementations must be pure: same input, same output, no side effects.
type TransformFunc func(output string, index int) string

// StopFunc decides whether a sequential chain ends early after a step.
type StopFunc func(output string, index int) bool

// SequentialConfig configures the sequential topology.
type SequentialConfig struct {
	// IncludePreviousContext feeds each agent the concatenation of all
	// prior outputs instead of only the immediately preceding one.
	IncludePreviousContext bool `yaml:"include_previous_context"`
	// TransformOutput optionally rewrites each output before piping.
	TransformOutput TransformFunc `yaml:"-"`
	// ShouldStop optionally ends the chain early with the last produced
	// output as the final result.
	ShouldStop StopFunc `yaml:"-"`
}

// AggregationStrategy selects how parallel branch outputs are combined.
type AggregationStrategy string

const (
	// AggregateConcatenate joins successful outputs with a separator, in
	// agent declaration order.
	AggregateConcatenate AggregationStrategy = "concatenate"
	// AggregateVote groups normalized-equal outputs and returns the
	// majority; ties break by declaration order.
	AggregateVote AggregationStrategy = "vote"
	// AggregateFirst returns the first successful output; remaining
	// branches keep running fire-and-forget.
	AggregateFirst AggregationStrategy = "first"
	// AggregateCustom delegates to the caller-supplied Aggregator.
	AggregateCustom AggregationStrategy = "custom"
)

// AggregatorFunc combines successful branch outputs (declaration order)
// into the final output. steps carries the per-branch records for
// aggregators that need timings or agent identity. Must be pure.
type AggregatorFunc func(outputs []string, steps []Step) (string, error)

// ParallelConfig configures the parallel topology.
type ParallelConfig struct {
	// Aggregation selects the combination strategy. Default concatenate.
	Aggregation AggregationStrategy `yaml:"aggregation"`
	// Separator joins outputs for AggregateConcatenate. Default "\n\n".
	Separator string `yaml:"separator"`
	// Aggregator is required for AggregateCustom.
	Aggregator AggregatorFunc `yaml:"-"`
	// RequireMin is the quorum of branches that must succeed. Zero means
	// all branches must succeed.
	RequireMin int `yaml:"require_min"`
	// MaxWait bounds how long the executor waits for branches to settle.
	// Zero waits for all of them.
	MaxWait time.Duration `yaml:"max_wait"`
	// MaxConcurrency bounds in-flight branch invocations. Zero means
	// unbounded.
	MaxConcurrency int `yaml:"max_concurrency"`
	// SynthesizerID optionally names an agent (from Config.Agents) that
	// receives the aggregated text and produces the final result. The
	// synthesizer is excluded from the fan-out.
	SynthesizerID string `yaml:"synthesizer_id"`
}

// RouteDefinition declares one route of the routing topology.
type RouteDefinition struct {
	// ID is the route identifier, matched against classifier output.
	ID string `yaml:"id"`
	// AgentID names the specialized agent the route dispatches to.
	AgentID string `yaml:"agent_id"`
	// Triggers are additional keywords/phrases that select this route.
	Triggers []string `yaml:"triggers"`
	// Priority ranks simultaneously matching routes; highest wins, ties
	// keep the first-declared route.
	Priority int `yaml:"priority"`
}

// RoutingConfig configures the routing topology.
type RoutingConfig struct {
	// RouterID names the classifier agent (from Config.Agents).
	RouterID string `yaml:"router_id"`
	// Routes is the ordered route table.
	Routes []RouteDefinition `yaml:"routes"`
	// FallbackID names the agent used when no route matches. Optional;
	// without it an unmatched classification fails the run.
	FallbackID string `yaml:"fallback_id"`
	// WithExplanation appends the classifier's rationale to the
	// delegate's input as additional context.
	WithExplanation bool `yaml:"with_explanation"`
}

// FailPolicy decides the outcome when the evaluator-optimizer loop fails
// mid-iteration.
type FailPolicy string

const (
	// FailStrict fails the whole run on any mid-loop failure.
	FailStrict FailPolicy = "strict"
	// FailBestEffort returns the last evaluated candidate when at least
	// one evaluation completed before the failure.
	FailBestEffort FailPolicy = "best-effort"
)

// EvaluatorConfig configures the evaluator-optimizer topology.
type EvaluatorConfig struct {
	// GeneratorID, EvaluatorID, OptimizerID name the three loop agents
	// (from Config.Agents).
	GeneratorID string `yaml:"generator_id"`
	EvaluatorID string `yaml:"evaluator_id"`
	OptimizerID string `yaml:"optimizer_id"`
	// Threshold is the accepting score (0-100).
	Threshold float64 `yaml:"threshold"`
	// MaxIterations caps the loop; the last candidate is accepted when
	// reached regardless of score. Default 3.
	MaxIterations int `yaml:"max_iterations"`
	// MinImprovement accepts the candidate when the score gain over the
	// previous iteration falls below it (diminishing returns). Zero
	// disables the check.
	MinImprovement float64 `yaml:"min_improvement"`
	// FailPolicy selects strict or best-effort mid-loop failure handling.
	// Default strict.
	FailPolicy FailPolicy `yaml:"fail_policy"`
	// Parser parses the evaluator's raw output. Default regex extraction
	// of SCORE:/FEEDBACK: markers.
	Parser EvaluationParser `yaml:"-"`
}

// Config is the immutable execution plan of one workflow. Create it once
// and never mutate it after constructing an executor from it.
type Config struct {
	// Name labels the workflow in logs and metrics.
	Name string `yaml:"name"`
	// Topology selects the execution strategy.
	Topology Topology `yaml:"topology"`
	// Agents is the ordered (or keyed, for routing) agent set.
	Agents []types.AgentDefinition `yaml:"agents"`
	// Retry is the step retry policy. Nil uses the transient defaults.
	Retry *RetryConfig `yaml:"retry"`
	// StepTimeout bounds a single agent call plus its retries. Zero
	// disables the per-step deadline.
	StepTimeout time.Duration `yaml:"step_timeout"`
	// Timeout bounds total elapsed time across all steps. Zero disables
	// the workflow deadline.
	Timeout time.Duration `yaml:"timeout"`

	// Exactly the section matching Topology may be set.
	Sequential *SequentialConfig `yaml:"sequential"`
	Parallel   *ParallelConfig   `yaml:"parallel"`
	Routing    *RoutingConfig    `yaml:"routing"`
	Evaluator  *EvaluatorConfig  `yaml:"evaluator"`
}

// agent returns the definition with the given id.
func (c *Config) agent(id string) (types.AgentDefinition, bool) {
	for _, d := range c.Agents {
		if d.ID == id {
			return d, true
		}
	}
	return types.AgentDefinition{}, false
}

// Validate checks the config's structural invariants. Executors call it
// at construction; a failure is programmer error.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return types.NewError(types.ErrInvalidRequest, "workflow requires at least one agent")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i := range c.Agents {
		d := &c.Agents[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := seen[d.ID]; dup {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("duplicate agent id %q", d.ID))
		}
		seen[d.ID] = struct{}{}
	}

	switch c.Topology {
	case TopologySequential:
		return nil
	case TopologyParallel:
		return c.validateParallel()
	case TopologyRouting:
		return c.validateRouting()
	case TopologyEvaluatorOptimizer:
		return c.validateEvaluator()
	default:
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown topology %q", c.Topology))
	}
}

func (c *Config) validateParallel() error {
	pc := c.Parallel
	if pc == nil {
		return nil // all defaults
	}
	switch pc.Aggregation {
	case "", AggregateConcatenate, AggregateVote, AggregateFirst:
	case AggregateCustom:
		if pc.Aggregator == nil {
			return types.NewError(types.ErrInvalidRequest, "custom aggregation requires an Aggregator")
		}
	default:
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown aggregation strategy %q", pc.Aggregation))
	}
	if pc.SynthesizerID != "" {
		if _, ok := c.agent(pc.SynthesizerID); !ok {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("synthesizer agent %q not defined", pc.SynthesizerID))
		}
	}
	branches := len(c.Agents)
	if pc.SynthesizerID != "" {
		branches--
	}
	if branches == 0 {
		return types.NewError(types.ErrInvalidRequest, "parallel workflow requires at least one branch agent")
	}
	if pc.RequireMin > branches {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("require_min %d exceeds branch count %d", pc.RequireMin, branches))
	}
	return nil
}

func (c *Config) validateRouting() error {
	rc := c.Routing
	if rc == nil {
		return types.NewError(types.ErrInvalidRequest, "routing workflow requires a routing section")
	}
	if _, ok := c.agent(rc.RouterID); !ok {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("router agent %q not defined", rc.RouterID))
	}
	if len(rc.Routes) == 0 {
		return types.NewError(types.ErrInvalidRequest, "routing workflow requires at least one route")
	}
	routeIDs := make(map[string]struct{}, len(rc.Routes))
	for _, r := range rc.Routes {
		if r.ID == "" {
			return types.NewError(types.ErrInvalidRequest, "route requires an id")
		}
		if _, dup := routeIDs[r.ID]; dup {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("duplicate route id %q", r.ID))
		}
		routeIDs[r.ID] = struct{}{}
		if _, ok := c.agent(r.AgentID); !ok {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("route %q references undefined agent %q", r.ID, r.AgentID))
		}
	}
	if rc.FallbackID != "" {
		if _, ok := c.agent(rc.FallbackID); !ok {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("fallback agent %q not defined", rc.FallbackID))
		}
	}
	return nil
}

func (c *Config) validateEvaluator() error {
	ec := c.Evaluator
	if ec == nil {
		return types.NewError(types.ErrInvalidRequest, "evaluator-optimizer workflow requires an evaluator section")
	}
	for _, id := range []string{ec.GeneratorID, ec.EvaluatorID, ec.OptimizerID} {
		if _, ok := c.agent(id); !ok {
			return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("loop agent %q not defined", id))
		}
	}
	if ec.Threshold < 0 || ec.Threshold > 100 {
		return types.NewError(types.ErrInvalidRequest, "threshold must be within 0-100")
	}
	switch ec.FailPolicy {
	case "", FailStrict, FailBestEffort:
	default:
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown fail policy %q", ec.FailPolicy))
	}
	return nil
}
