package workflow

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/orchestral-ai/orchestral/llm"
	"github.com/orchestral-ai/orchestral/types"
)

// IterationResult records one generate/evaluate/optimize cycle.
type IterationResult struct {
	// Index is the 1-based iteration number.
	Index int `json:"index"`
	// Output is the candidate evaluated this iteration.
	Output string `json:"output"`
	// Score is the evaluator's quality score, 0-100.
	Score float64 `json:"score"`
	// Feedback is the evaluator's critique.
	Feedback string `json:"feedback,omitempty"`
	// Acceptable reports whether the score met the threshold.
	Acceptable bool `json:"acceptable"`
	// Optimized is the refined candidate, present only when the
	// optimizer ran after this evaluation.
	Optimized string `json:"optimized,omitempty"`
}

// EvaluatorOptimizerExecutor 生成-评估-优化循环执行器
// 反复评估并改写候选输出，直到达到质量阈值、迭代上限或收益递减
type EvaluatorOptimizerExecutor struct {
	*baseExecutor
	ec     EvaluatorConfig
	parser EvaluationParser

	iterMu     sync.RWMutex
	iterations []IterationResult
}

// NewEvaluatorOptimizerExecutor 创建评估优化循环执行器
func NewEvaluatorOptimizerExecutor(cfg Config, invoker llm.Invoker, opts ...Option) (*EvaluatorOptimizerExecutor, error) {
	base, err := newBaseExecutor(TopologyEvaluatorOptimizer, cfg, invoker, opts...)
	if err != nil {
		return nil, err
	}
	ec := *cfg.Evaluator
	if ec.MaxIterations <= 0 {
		ec.MaxIterations = 3
	}
	if ec.FailPolicy == "" {
		ec.FailPolicy = FailStrict
	}
	parser := ec.Parser
	if parser == nil {
		parser = NewMarkerParser()
	}
	return &EvaluatorOptimizerExecutor{
		baseExecutor: base,
		ec:           ec,
		parser:       parser,
	}, nil
}

// Execute implements Executor.
func (e *EvaluatorOptimizerExecutor) Execute(ctx context.Context, opts ExecuteOptions) (*ExecutionResult, error) {
	e.iterMu.Lock()
	e.iterations = nil
	e.iterMu.Unlock()

	result, err := e.execute(ctx, opts, e.run)
	if err == nil {
		iters := e.Iterations()
		finalScore := 0.0
		if len(iters) > 0 {
			finalScore = iters[len(iters)-1].Score
		}
		e.mc.RecordEvaluatorRun(string(result.Status), len(iters), finalScore)
	}
	return result, err
}

// Iterations returns the iteration history of the last run.
func (e *EvaluatorOptimizerExecutor) Iterations() []IterationResult {
	e.iterMu.RLock()
	defer e.iterMu.RUnlock()
	out := make([]IterationResult, len(e.iterations))
	copy(out, e.iterations)
	return out
}

// ScoreProgression returns just the score sequence, one entry per
// completed iteration.
func (e *EvaluatorOptimizerExecutor) ScoreProgression() []float64 {
	e.iterMu.RLock()
	defer e.iterMu.RUnlock()
	scores := make([]float64, len(e.iterations))
	for i, it := range e.iterations {
		scores[i] = it.Score
	}
	return scores
}

func (e *EvaluatorOptimizerExecutor) appendIteration(it IterationResult) {
	e.iterMu.Lock()
	e.iterations = append(e.iterations, it)
	e.iterMu.Unlock()
}

func (e *EvaluatorOptimizerExecutor) markOptimized(candidate string) {
	e.iterMu.Lock()
	if n := len(e.iterations); n > 0 {
		e.iterations[n-1].Optimized = candidate
	}
	e.iterMu.Unlock()
}

// run drives the loop. Stop conditions are checked after each
// evaluation, in priority order: threshold met, iteration cap reached,
// improvement below the floor.
func (e *EvaluatorOptimizerExecutor) run(rc *runContext) (string, error) {
	if err := e.checkInterrupt(rc); err != nil {
		return "", err
	}

	generator := e.agentOrPanic(e.ec.GeneratorID)
	evaluator := e.agentOrPanic(e.ec.EvaluatorID)
	optimizer := e.agentOrPanic(e.ec.OptimizerID)

	// First candidate. Nothing has been evaluated yet, so a generator
	// failure is fatal under either fail policy.
	genStep, err := e.runStep(rc, generator, rc.opts.Input)
	if err != nil {
		return "", err
	}
	candidate := genStep.Output

	prevScore := math.NaN()
	for iter := 1; ; iter++ {
		if err := e.checkInterrupt(rc); err != nil {
			return e.settleLoopFailure(err)
		}

		evalStep, err := e.runStep(rc, evaluator, evaluationInput(rc.opts.Input, candidate))
		if err != nil {
			return e.settleLoopFailure(err)
		}
		e.setCurrentStep(iter)

		ev, err := e.parser.Parse(evalStep.Output)
		if err != nil {
			e.logger.Warn("evaluation parse failed",
				zap.Int("iteration", iter),
				zap.Error(err),
			)
			return e.settleLoopFailure(err)
		}

		acceptable := ev.Score >= e.ec.Threshold
		e.appendIteration(IterationResult{
			Index:      iter,
			Output:     candidate,
			Score:      ev.Score,
			Feedback:   ev.Feedback,
			Acceptable: acceptable,
		})
		e.logger.Info("iteration evaluated",
			zap.Int("iteration", iter),
			zap.Float64("score", ev.Score),
			zap.Bool("acceptable", acceptable),
		)

		switch {
		case acceptable:
			e.setMetadata("accepted", "threshold")
			return candidate, nil
		case iter >= e.ec.MaxIterations:
			// The cap accepts the last candidate regardless of score.
			e.setMetadata("accepted", "max_iterations")
			return candidate, nil
		case e.ec.MinImprovement > 0 && !math.IsNaN(prevScore) && ev.Score-prevScore < e.ec.MinImprovement:
			e.setMetadata("accepted", "diminishing_returns")
			return candidate, nil
		}
		prevScore = ev.Score

		if err := e.checkInterrupt(rc); err != nil {
			return e.settleLoopFailure(err)
		}

		optStep, err := e.runStep(rc, optimizer, optimizationInput(rc.opts.Input, candidate, ev.Feedback))
		if err != nil {
			return e.settleLoopFailure(err)
		}
		candidate = optStep.Output
		e.markOptimized(candidate)
	}
}

// settleLoopFailure applies the fail policy to a mid-loop failure.
// Best-effort degrades to the last evaluated candidate when one exists;
// cancellation and budget timeouts always keep their own terminal
// status, and strict always fails the run.
func (e *EvaluatorOptimizerExecutor) settleLoopFailure(err error) (string, error) {
	if e.ec.FailPolicy != FailBestEffort {
		return "", err
	}
	if types.IsCode(err, types.ErrCancelled) || types.IsCode(err, types.ErrDeadlineExceeded) {
		return "", err
	}
	// Degrade to the newest candidate that actually has a score; an
	// optimized draft that failed before re-evaluation stays unused.
	e.iterMu.RLock()
	evaluated := len(e.iterations) > 0
	last := ""
	if evaluated {
		last = e.iterations[len(e.iterations)-1].Output
	}
	e.iterMu.RUnlock()
	if !evaluated {
		return "", err
	}

	e.setMetadata("degraded", true)
	e.logger.Warn("loop failed, returning last evaluated candidate",
		zap.Error(err),
	)
	return last, nil
}

func evaluationInput(task, candidate string) string {
	return "TASK:\n" + task + "\n\nCANDIDATE:\n" + candidate
}

func optimizationInput(task, candidate, feedback string) string {
	return "TASK:\n" + task + "\n\nDRAFT:\n" + candidate + "\n\nFEEDBACK:\n" + feedback
}
