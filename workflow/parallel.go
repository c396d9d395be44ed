package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/orchestral-ai/orchestral/llm"
	"github.com/orchestral-ai/orchestral/types"
)

// ParallelExecutor 并行扇出执行器
// 将同一输入并发发给 N 个独立配置的 Agent，再聚合它们的输出
type ParallelExecutor struct {
	*baseExecutor
	pc ParallelConfig
}

// NewParallelExecutor 创建并行执行器
func NewParallelExecutor(cfg Config, invoker llm.Invoker, opts ...Option) (*ParallelExecutor, error) {
	base, err := newBaseExecutor(TopologyParallel, cfg, invoker, opts...)
	if err != nil {
		return nil, err
	}
	pc := ParallelConfig{}
	if cfg.Parallel != nil {
		pc = *cfg.Parallel
	}
	if pc.Aggregation == "" {
		pc.Aggregation = AggregateConcatenate
	}
	if pc.Separator == "" {
		pc.Separator = "\n\n"
	}
	return &ParallelExecutor{baseExecutor: base, pc: pc}, nil
}

// Execute implements Executor.
func (e *ParallelExecutor) Execute(ctx context.Context, opts ExecuteOptions) (*ExecutionResult, error) {
	result, err := e.execute(ctx, opts, e.run)
	if err == nil {
		e.mc.RecordParallelRun(string(result.Status), len(e.branches()))
	}
	return result, err
}

// branches returns the fan-out agents: everything except the synthesizer.
func (e *ParallelExecutor) branches() []types.AgentDefinition {
	if e.pc.SynthesizerID == "" {
		return e.cfg.Agents
	}
	out := make([]types.AgentDefinition, 0, len(e.cfg.Agents)-1)
	for _, d := range e.cfg.Agents {
		if d.ID != e.pc.SynthesizerID {
			out = append(out, d)
		}
	}
	return out
}

type branchResult struct {
	index int
	step  Step
	err   error
}

// run fans out, waits for settlement (or MaxWait, or an early-exit
// condition), aggregates in declaration order, and optionally runs the
// synthesizer stage.
func (e *ParallelExecutor) run(rc *runContext) (string, error) {
	if err := e.checkInterrupt(rc); err != nil {
		return "", err
	}

	branches := e.branches()
	n := len(branches)
	required := e.pc.RequireMin
	if required <= 0 {
		required = n
	}

	var sem *semaphore.Weighted
	if e.pc.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(e.pc.MaxConcurrency))
	}

	results := make(chan branchResult, n)
	for i, agent := range branches {
		go func(idx int, agent types.AgentDefinition) {
			if sem != nil {
				if err := sem.Acquire(rc.ctx, 1); err != nil {
					results <- branchResult{index: idx, err: e.classifyInvokeError(rc.ctx, rc.ctx, err)}
					return
				}
				defer sem.Release(1)
			}
			step, err := e.runStep(rc, agent, rc.opts.Input)
			results <- branchResult{index: idx, step: step, err: err}
		}(i, agent)
	}

	// Collection: aggregation order is always declaration order, so
	// completion order only matters for the early-exit conditions.
	outputs := make([]string, n)
	succeeded := make([]bool, n)
	steps := make([]Step, n)
	successes, settled := 0, 0
	var firstErr error

	var maxWait <-chan time.Time
	if e.pc.MaxWait > 0 {
		t := time.NewTimer(e.pc.MaxWait)
		defer t.Stop()
		maxWait = t.C
	}

collect:
	for settled < n {
		select {
		case r := <-results:
			settled++
			steps[r.index] = r.step
			if r.err != nil {
				if firstErr == nil {
					firstErr = r.err
				}
				e.logger.Debug("branch failed",
					zap.Int("branch", r.index),
					zap.Error(r.err),
				)
				break
			}
			outputs[r.index] = r.step.Output
			succeeded[r.index] = true
			successes++

			if e.cancelled.Load() {
				return "", types.NewError(types.ErrCancelled, "workflow cancelled")
			}
			// first: the earliest success wins; stragglers keep running
			// fire-and-forget and their results are dropped.
			if e.pc.Aggregation == AggregateFirst {
				return e.synthesize(rc, r.step.Output)
			}
			// Partial-result strategies stop waiting once the quorum is
			// reached. Concatenate always waits for every branch so the
			// output is complete as well as ordered.
			if e.pc.RequireMin > 0 && successes >= required && e.pc.Aggregation != AggregateConcatenate {
				break collect
			}

		case <-maxWait:
			e.logger.Warn("parallel wait elapsed",
				zap.Int("settled", settled),
				zap.Int("successes", successes),
			)
			break collect

		case <-rc.ctx.Done():
			return "", e.checkInterrupt(rc)
		}
	}

	if successes < required {
		if firstErr != nil {
			return "", firstErr
		}
		return "", types.NewError(types.ErrDeadlineExceeded,
			fmt.Sprintf("only %d of %d required branches succeeded within max_wait", successes, required)).
			WithCause(types.NewError(types.ErrQuorumNotReached, "quorum not reached"))
	}

	aggregated, err := e.aggregate(outputs, succeeded, steps)
	if err != nil {
		return "", err
	}
	return e.synthesize(rc, aggregated)
}

// aggregate combines successful outputs in declaration order.
func (e *ParallelExecutor) aggregate(outputs []string, succeeded []bool, steps []Step) (string, error) {
	kept := make([]string, 0, len(outputs))
	keptSteps := make([]Step, 0, len(outputs))
	for i := range outputs {
		if succeeded[i] {
			kept = append(kept, outputs[i])
			keptSteps = append(keptSteps, steps[i])
		}
	}

	switch e.pc.Aggregation {
	case AggregateConcatenate:
		return strings.Join(kept, e.pc.Separator), nil
	case AggregateVote:
		return majorityVote(kept), nil
	case AggregateCustom:
		out, err := e.pc.Aggregator(kept, keptSteps)
		if err != nil {
			return "", types.NewError(types.ErrInvalidRequest, "custom aggregator failed").WithCause(err)
		}
		return out, nil
	default:
		// AggregateFirst returns during collection; reaching here means
		// every branch settled without a single success being taken,
		// which the quorum check already rejected.
		return "", types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("aggregation %q cannot run post-collection", e.pc.Aggregation))
	}
}

// majorityVote groups normalized-equal outputs and returns the majority
// value; ties keep the group whose first contributor appears earliest in
// the declaration order. The returned text is that first contributor's
// original, un-normalized output.
func majorityVote(outputs []string) string {
	type group struct {
		count    int
		firstIdx int
		value    string
	}
	groups := make(map[string]*group)
	for i, out := range outputs {
		key := strings.ToLower(strings.TrimSpace(out))
		if g, ok := groups[key]; ok {
			g.count++
		} else {
			groups[key] = &group{count: 1, firstIdx: i, value: out}
		}
	}

	var best *group
	for _, g := range groups {
		if best == nil ||
			g.count > best.count ||
			(g.count == best.count && g.firstIdx < best.firstIdx) {
			best = g
		}
	}
	if best == nil {
		return ""
	}
	return best.value
}

// synthesize optionally runs the synthesizer agent on the aggregated
// text; its output becomes the final result.
func (e *ParallelExecutor) synthesize(rc *runContext, aggregated string) (string, error) {
	if e.pc.SynthesizerID == "" {
		return aggregated, nil
	}
	if err := e.checkInterrupt(rc); err != nil {
		return "", err
	}
	step, err := e.runStep(rc, e.agentOrPanic(e.pc.SynthesizerID), aggregated)
	if err != nil {
		return "", err
	}
	return step.Output, nil
}
