package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orchestral-ai/orchestral/internal/metrics"
	"github.com/orchestral-ai/orchestral/internal/telemetry"
	"github.com/orchestral-ai/orchestral/llm"
	"github.com/orchestral-ai/orchestral/llm/retry"
	"github.com/orchestral-ai/orchestral/persistence"
	"github.com/orchestral-ai/orchestral/types"
)

// ExecuteOptions carries the per-run inputs of Execute.
type ExecuteOptions struct {
	// ConversationID identifies where the run logs its messages through
	// the conversation store. Empty disables logging.
	ConversationID string
	// Input is the user input. Must be non-empty.
	Input string
	// Context is free-form auxiliary context threaded to the invoker.
	Context map[string]any
	// OnProgress, when non-nil, receives progress events in order.
	OnProgress ProgressFunc
}

// Executor is the public execution surface shared by all topologies.
type Executor interface {
	// Execute runs the workflow to a terminal status. Expected failures
	// (step errors, timeouts, cancellation) resolve into the result; a
	// non-nil error is returned only for programmer error.
	Execute(ctx context.Context, opts ExecuteOptions) (*ExecutionResult, error)
	// Cancel signals cooperative cancellation: the in-flight step
	// finishes its current attempt, then the run ends as cancelled.
	Cancel()
	// Reset discards the run history and returns to pending. It fails
	// while a run is in progress.
	Reset() error
	// State returns a read-only snapshot of the run record.
	State() State
	// Topology reports the executor's topology kind.
	Topology() Topology
}

// Option configures an executor at construction time.
type Option func(*baseExecutor)

// WithLogger sets the zap logger. Default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *baseExecutor) { e.logger = logger }
}

// WithConversationStore sets the append-only conversation log sink.
// Append failures are logged and never abort a run.
func WithConversationStore(store persistence.ConversationStore) Option {
	return func(e *baseExecutor) { e.store = store }
}

// WithMetricsNamespace enables Prometheus metrics under the given
// namespace. Each namespace may be used by at most one executor family
// per process; registration is against the default registry.
func WithMetricsNamespace(namespace string) Option {
	return func(e *baseExecutor) { e.metricsNamespace = namespace }
}

// baseExecutor owns the state machine, step bookkeeping, retry/timeout
// wrapping, progress emission, and cancellation plumbing shared by every
// topology. Concrete executors embed it and supply a run function.
type baseExecutor struct {
	cfg      Config
	topology Topology
	invoker  llm.Invoker
	store    persistence.ConversationStore
	logger   *zap.Logger
	mc       *metrics.Collector
	policy   *retry.Policy

	metricsNamespace string

	mu sync.RWMutex
	st State

	cancelled atomic.Bool
}

// runContext bundles the per-run plumbing handed to topology code.
type runContext struct {
	ctx        context.Context
	opts       ExecuteOptions
	events     *eventDispatcher
	workflowID string
}

func newBaseExecutor(topology Topology, cfg Config, invoker llm.Invoker, opts ...Option) (*baseExecutor, error) {
	if cfg.Topology == "" {
		cfg.Topology = topology
	}
	if cfg.Topology != topology {
		return nil, types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("config topology %q does not match executor topology %q", cfg.Topology, topology))
	}
	if invoker == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invoker must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &baseExecutor{
		cfg:      cfg,
		topology: topology,
		invoker:  invoker,
		policy:   cfg.Retry.policy(),
		st:       State{Status: StatusPending, CurrentStep: -1},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(
		zap.String("component", "workflow"),
		zap.String("topology", string(topology)),
	)
	if e.metricsNamespace != "" {
		e.mc = metrics.NewCollector(e.metricsNamespace, e.logger)
	}
	return e, nil
}

func (e *baseExecutor) Topology() Topology { return e.topology }

// Cancel implements Executor. Raising the flag is idempotent; no new step
// or retry attempt starts after it, but the in-flight attempt is not
// forcibly aborted.
func (e *baseExecutor) Cancel() {
	if e.cancelled.CompareAndSwap(false, true) {
		e.logger.Info("cancellation requested")
	}
}

// State implements Executor.
func (e *baseExecutor) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.clone()
}

// Reset implements Executor.
func (e *baseExecutor) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Status == StatusRunning {
		return types.NewError(types.ErrInvalidTransition, "cannot reset a running workflow")
	}
	e.st = State{Status: StatusPending, CurrentStep: -1}
	e.cancelled.Store(false)
	return nil
}

// execute drives the shared lifecycle around a topology's run function.
func (e *baseExecutor) execute(ctx context.Context, opts ExecuteOptions, run func(rc *runContext) (string, error)) (*ExecutionResult, error) {
	if strings.TrimSpace(opts.Input) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "input must not be empty")
	}

	e.mu.Lock()
	if e.st.Status != StatusPending {
		e.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot start a workflow in status %q; call Reset first", e.st.Status))
	}
	workflowID := uuid.NewString()
	e.st.WorkflowID = workflowID
	e.st.Status = StatusRunning
	e.st.StartedAt = time.Now()
	e.st.Metadata = make(map[string]any)
	e.mu.Unlock()
	e.cancelled.Store(false)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	runCtx, span := telemetry.StartWorkflowSpan(runCtx, string(e.topology), workflowID)

	events := newEventDispatcher(opts.OnProgress, e.logger)
	rc := &runContext{ctx: runCtx, opts: opts, events: events, workflowID: workflowID}

	e.logger.Info("workflow started",
		zap.String("workflow_id", workflowID),
		zap.String("conversation_id", opts.ConversationID),
		zap.Int("agents", len(e.cfg.Agents)),
	)
	events.emit(Event{Type: EventWorkflowStart, WorkflowID: workflowID})
	e.logMessage(rc, persistence.RoleUser, "", opts.Input)

	output, err := run(rc)
	result := e.finalize(rc, output, err)
	telemetry.EndSpan(span, err)
	events.close()
	return result, nil
}

// finalize converts the run outcome into the terminal state and result.
func (e *baseExecutor) finalize(rc *runContext, output string, err error) *ExecutionResult {
	status := StatusCompleted
	errMsg := ""
	if err != nil {
		switch {
		case types.IsCode(err, types.ErrCancelled) || errors.Is(err, context.Canceled):
			status = StatusCancelled
		case types.IsCode(err, types.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
			status = StatusTimeout
		default:
			status = StatusFailed
		}
		errMsg = err.Error()
		output = ""
	}

	e.mu.Lock()
	e.st.Status = status
	e.st.Error = errMsg
	e.st.EndedAt = time.Now()
	snapshot := e.st.clone()
	e.mu.Unlock()

	duration := snapshot.EndedAt.Sub(snapshot.StartedAt)
	if status == StatusCompleted {
		rc.events.emit(Event{Type: EventWorkflowComplete, WorkflowID: rc.workflowID, Output: output})
		e.logger.Info("workflow completed",
			zap.String("workflow_id", rc.workflowID),
			zap.Int("steps", len(snapshot.Steps)),
			zap.Duration("duration", duration),
		)
	} else {
		rc.events.emit(Event{Type: EventWorkflowError, WorkflowID: rc.workflowID, Error: errMsg})
		e.logger.Warn("workflow ended",
			zap.String("workflow_id", rc.workflowID),
			zap.String("status", string(status)),
			zap.String("error", errMsg),
			zap.Duration("duration", duration),
		)
	}
	e.mc.RecordWorkflow(string(e.topology), string(status), duration)

	return &ExecutionResult{
		WorkflowID: snapshot.WorkflowID,
		Status:     status,
		Output:     output,
		Steps:      snapshot.Steps,
		Duration:   duration,
		Error:      errMsg,
	}
}

// checkInterrupt is called between steps. Cancellation and the workflow
// deadline are checked here, never preemptively inside a step.
func (e *baseExecutor) checkInterrupt(rc *runContext) error {
	if e.cancelled.Load() {
		return types.NewError(types.ErrCancelled, "workflow cancelled")
	}
	select {
	case <-rc.ctx.Done():
		if errors.Is(rc.ctx.Err(), context.DeadlineExceeded) {
			return types.NewError(types.ErrDeadlineExceeded, "workflow deadline exceeded")
		}
		return types.NewError(types.ErrCancelled, "context cancelled").WithCause(rc.ctx.Err())
	default:
		return nil
	}
}

// runStep executes one agent invocation with retry, timeout, progress,
// and history bookkeeping. All retries collapse into the single returned
// Step record.
func (e *baseExecutor) runStep(rc *runContext, agent types.AgentDefinition, input string) (Step, error) {
	step := Step{
		ID:        uuid.NewString(),
		AgentID:   agent.ID,
		Input:     input,
		StartedAt: time.Now(),
	}
	rc.events.emit(Event{Type: EventStepStart, WorkflowID: rc.workflowID, StepID: step.ID, AgentID: agent.ID})

	stepCtx := rc.ctx
	if e.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(rc.ctx, e.cfg.StepTimeout)
		defer cancel()
	}
	stepCtx, span := telemetry.StartStepSpan(stepCtx, agent.ID)

	policy := *e.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.mc.RecordRetry(agent.ID, string(types.GetErrorCode(err)))
		e.logger.Debug("step retrying",
			zap.String("step_id", step.ID),
			zap.String("agent_id", agent.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	retryer := retry.NewBackoffRetryer(&policy, e.logger)

	invokeOpts := &llm.InvokeOptions{Context: rc.opts.Context}
	if rc.opts.OnProgress != nil {
		invokeOpts.OnDelta = func(delta string) {
			rc.events.emit(Event{
				Type:       EventStepProgress,
				WorkflowID: rc.workflowID,
				StepID:     step.ID,
				AgentID:    agent.ID,
				Delta:      delta,
			})
		}
	}

	attempts := 0
	out, err := retryer.DoWithResult(stepCtx, func() (any, error) {
		attempts++
		// The in-flight attempt always finishes; only further attempts
		// are suppressed after Cancel.
		if attempts > 1 && e.cancelled.Load() {
			return nil, types.NewError(types.ErrCancelled, "workflow cancelled")
		}
		resp, invErr := e.invoker.Invoke(stepCtx, agent, input, invokeOpts)
		if invErr != nil {
			return nil, e.classifyInvokeError(stepCtx, rc.ctx, invErr)
		}
		return resp.Text, nil
	})
	step.Attempts = attempts
	step.EndedAt = time.Now()
	telemetry.EndSpan(span, err)

	if err != nil {
		step.Error = err.Error()
		step.ErrorCode = types.GetErrorCode(err)
		e.appendStep(step)
		rc.events.emit(Event{
			Type:       EventStepError,
			WorkflowID: rc.workflowID,
			StepID:     step.ID,
			AgentID:    agent.ID,
			Error:      step.Error,
		})
		e.mc.RecordStep(agent.ID, "failed", step.Duration())
		e.logger.Warn("step failed",
			zap.String("step_id", step.ID),
			zap.String("agent_id", agent.ID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return step, err
	}

	step.Output = out.(string)
	e.appendStep(step)
	rc.events.emit(Event{
		Type:       EventStepComplete,
		WorkflowID: rc.workflowID,
		StepID:     step.ID,
		AgentID:    agent.ID,
		Output:     step.Output,
	})
	e.mc.RecordStep(agent.ID, "completed", step.Duration())
	e.logger.Debug("step completed",
		zap.String("step_id", step.ID),
		zap.String("agent_id", agent.ID),
		zap.Int("attempts", attempts),
		zap.Duration("duration", step.Duration()),
	)
	e.logMessage(rc, persistence.RoleAssistant, agent.ID, step.Output)
	return step, nil
}

// classifyInvokeError maps context expiry onto the engine's budget codes.
// A provider-reported TIMEOUT stays retryable; an elapsed step or
// workflow deadline does not.
func (e *baseExecutor) classifyInvokeError(stepCtx, runCtx context.Context, err error) error {
	if errors.Is(runCtx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrCancelled, "context cancelled").WithCause(err)
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrDeadlineExceeded, "deadline exceeded during step").WithCause(err)
	}
	return err
}

// appendStep records a settled step. Results arriving after the run
// reached a terminal state (stragglers of a parallel fan-out) are
// discarded.
func (e *baseExecutor) appendStep(step Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.Status != StatusRunning {
		return
	}
	e.st.Steps = append(e.st.Steps, step)
}

func (e *baseExecutor) setCurrentStep(index int) {
	e.mu.Lock()
	e.st.CurrentStep = index
	e.mu.Unlock()
}

func (e *baseExecutor) setMetadata(key string, value any) {
	e.mu.Lock()
	if e.st.Metadata == nil {
		e.st.Metadata = make(map[string]any)
	}
	e.st.Metadata[key] = value
	e.mu.Unlock()
}

// logMessage appends to the conversation store, fire-and-forget: a store
// failure is logged, never propagated into the run.
func (e *baseExecutor) logMessage(rc *runContext, role persistence.Role, agentID, content string) {
	if e.store == nil || rc.opts.ConversationID == "" {
		return
	}
	msg := &persistence.Message{
		ConversationID: rc.opts.ConversationID,
		Role:           role,
		Content:        content,
		AgentID:        agentID,
		WorkflowID:     rc.workflowID,
	}
	if err := e.store.AppendMessage(rc.ctx, msg); err != nil {
		e.logger.Warn("conversation append failed",
			zap.String("conversation_id", rc.opts.ConversationID),
			zap.Error(err),
		)
	}
}

// agentOrPanic resolves an agent id the config already validated.
func (e *baseExecutor) agentOrPanic(id string) types.AgentDefinition {
	def, ok := e.cfg.agent(id)
	if !ok {
		panic(fmt.Sprintf("workflow: agent %q vanished from validated config", id))
	}
	return def
}
