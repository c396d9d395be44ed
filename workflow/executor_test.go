package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orchestral-ai/orchestral/llm"
	"github.com/orchestral-ai/orchestral/persistence"
	"github.com/orchestral-ai/orchestral/types"
)

// ====== 测试辅助 ======

type invokeOutcome struct {
	text string
	err  error
}

// scriptedInvoker 按 Agent 回放预设的响应序列，超出脚本后重复最后一条
type scriptedInvoker struct {
	mu      sync.Mutex
	scripts map[string][]invokeOutcome
	calls   map[string]int
	inputs  map[string][]string
	delays  map[string]time.Duration
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		scripts: make(map[string][]invokeOutcome),
		calls:   make(map[string]int),
		inputs:  make(map[string][]string),
		delays:  make(map[string]time.Duration),
	}
}

func (s *scriptedInvoker) respond(agentID string, texts ...string) *scriptedInvoker {
	for _, text := range texts {
		s.scripts[agentID] = append(s.scripts[agentID], invokeOutcome{text: text})
	}
	return s
}

func (s *scriptedInvoker) fail(agentID string, err error) *scriptedInvoker {
	s.scripts[agentID] = append(s.scripts[agentID], invokeOutcome{err: err})
	return s
}

func (s *scriptedInvoker) delay(agentID string, d time.Duration) *scriptedInvoker {
	s.delays[agentID] = d
	return s
}

func (s *scriptedInvoker) Invoke(ctx context.Context, agent types.AgentDefinition, input string, opts *llm.InvokeOptions) (*llm.Response, error) {
	s.mu.Lock()
	n := s.calls[agent.ID]
	s.calls[agent.ID] = n + 1
	s.inputs[agent.ID] = append(s.inputs[agent.ID], input)
	script := s.scripts[agent.ID]
	d := s.delays[agent.ID]
	s.mu.Unlock()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(script) == 0 {
		return &llm.Response{Text: "ok", FinishReason: llm.FinishStop}, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	out := script[n]
	if out.err != nil {
		return nil, out.err
	}
	return &llm.Response{Text: out.text, FinishReason: llm.FinishStop}, nil
}

func (s *scriptedInvoker) Name() string { return "scripted" }

func (s *scriptedInvoker) callCount(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[agentID]
}

func (s *scriptedInvoker) inputsOf(agentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.inputs[agentID]))
	copy(out, s.inputs[agentID])
	return out
}

func testAgent(id string) types.AgentDefinition {
	return types.AgentDefinition{ID: id, Name: id, SystemPrompt: "you are " + id}
}

// fastRetry 零延迟重试策略，避免测试等待
func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{MaxRetries: maxRetries, RetryDelay: time.Millisecond}
}

func chainConfig(agentIDs ...string) Config {
	agents := make([]types.AgentDefinition, 0, len(agentIDs))
	for _, id := range agentIDs {
		agents = append(agents, testAgent(id))
	}
	return Config{Topology: TopologySequential, Agents: agents, Retry: fastRetry(0)}
}

// eventRecorder 线程安全地收集进度事件
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// ====== 生命周期 ======

func TestExecutorLifecycle(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "hello")
	exec, err := NewSequentialExecutor(chainConfig("a"), inv)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}

	if st := exec.State(); st.Status != StatusPending || st.WorkflowID != "" {
		t.Fatalf("fresh executor should be pending without a workflow id, got %+v", st)
	}

	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "hi"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", result.Status)
	}
	if result.Output != "hello" {
		t.Errorf("expected %q, got %q", "hello", result.Output)
	}
	if result.WorkflowID == "" {
		t.Error("result should carry a workflow id")
	}
	if len(result.Steps) != 1 || result.Steps[0].AgentID != "a" {
		t.Errorf("unexpected step history: %+v", result.Steps)
	}

	st := exec.State()
	if st.Status != StatusCompleted {
		t.Errorf("state should be completed, got %s", st.Status)
	}
	if !st.Status.Terminal() {
		t.Error("completed must be terminal")
	}
	if st.EndedAt.Before(st.StartedAt) {
		t.Error("ended_at must not precede started_at")
	}
}

func TestStateSnapshotIsolation(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "x").respond("b", "y")
	exec, _ := NewSequentialExecutor(chainConfig("a", "b"), inv)
	if _, err := exec.Execute(context.Background(), ExecuteOptions{Input: "go"}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	first := exec.State()
	second := exec.State()
	if len(first.Steps) != len(second.Steps) {
		t.Fatal("repeated State calls must observe the same history")
	}

	// 修改快照不能影响执行器内部记录
	first.Steps[0].Output = "mutated"
	first.Metadata["injected"] = true
	if got := exec.State(); got.Steps[0].Output == "mutated" {
		t.Error("snapshot mutation leaked into the live record")
	}
	if _, ok := exec.State().Metadata["injected"]; ok {
		t.Error("metadata mutation leaked into the live record")
	}
}

func TestExecuteEmptyInput(t *testing.T) {
	exec, _ := NewSequentialExecutor(chainConfig("a"), newScriptedInvoker())
	_, err := exec.Execute(context.Background(), ExecuteOptions{Input: "   "})
	if err == nil {
		t.Fatal("expected error for blank input")
	}
	if !types.IsCode(err, types.ErrInvalidRequest) {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
	if st := exec.State(); st.Status != StatusPending {
		t.Errorf("failed precondition must leave the executor pending, got %s", st.Status)
	}
}

func TestExecuteRequiresReset(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "done")
	exec, _ := NewSequentialExecutor(chainConfig("a"), inv)
	if _, err := exec.Execute(context.Background(), ExecuteOptions{Input: "one"}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	_, err := exec.Execute(context.Background(), ExecuteOptions{Input: "two"})
	if err == nil {
		t.Fatal("second run without Reset must fail")
	}
	if !types.IsCode(err, types.ErrInvalidTransition) {
		t.Errorf("expected INVALID_TRANSITION, got %v", err)
	}

	if err := exec.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	st := exec.State()
	if st.Status != StatusPending || len(st.Steps) != 0 || st.WorkflowID != "" {
		t.Errorf("reset must restore a pristine pending state, got %+v", st)
	}

	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "two"})
	if err != nil {
		t.Fatalf("run after reset failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected completed after reset, got %s", result.Status)
	}
}

func TestResetWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	inv := llm.InvokerFunc(func(ctx context.Context, agent types.AgentDefinition, input string, opts *llm.InvokeOptions) (*llm.Response, error) {
		once.Do(func() { close(started) })
		<-release
		return &llm.Response{Text: "late"}, nil
	})

	exec, _ := NewSequentialExecutor(chainConfig("a"), inv)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = exec.Execute(context.Background(), ExecuteOptions{Input: "go"})
	}()

	<-started
	if err := exec.Reset(); err == nil {
		t.Error("reset during a run must fail")
	} else if !types.IsCode(err, types.ErrInvalidTransition) {
		t.Errorf("expected INVALID_TRANSITION, got %v", err)
	}
	close(release)
	<-done

	if err := exec.Reset(); err != nil {
		t.Errorf("reset after the run settled should succeed: %v", err)
	}
}

// ====== 重试 ======

// 链中第二个 Agent 失败两次后成功：整体仍 completed，
// 三次尝试折叠进同一条 Step 记录
func TestRetryCollapsesIntoOneStep(t *testing.T) {
	transient := types.NewError(types.ErrTimeout, "provider timed out")
	inv := newScriptedInvoker().
		respond("a", "draft")
	inv.fail("b", transient)
	inv.fail("b", transient)
	inv.respond("b", "recovered").respond("c", "final")

	cfg := chainConfig("a", "b", "c")
	cfg.Retry = fastRetry(2)
	exec, _ := NewSequentialExecutor(cfg, inv)

	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "start"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", result.Status, result.Error)
	}
	if result.Output != "final" {
		t.Errorf("expected final output %q, got %q", "final", result.Output)
	}
	if len(result.Steps) != 3 {
		t.Fatalf("retries must not add history entries: want 3 steps, got %d", len(result.Steps))
	}
	mid := result.Steps[1]
	if mid.AgentID != "b" || mid.Attempts != 3 {
		t.Errorf("middle step should record 3 attempts for agent b, got %+v", mid)
	}
	if mid.Error != "" {
		t.Errorf("a recovered step must not keep an error: %q", mid.Error)
	}
	if inv.callCount("b") != 3 {
		t.Errorf("agent b should be invoked 3 times, got %d", inv.callCount("b"))
	}
}

func TestRetryExhaustionFailsRun(t *testing.T) {
	transient := types.NewError(types.ErrRateLimit, "429")
	inv := newScriptedInvoker().respond("a", "ok")
	inv.fail("b", transient)

	cfg := chainConfig("a", "b", "c")
	cfg.Retry = fastRetry(2)
	exec, _ := NewSequentialExecutor(cfg, inv)

	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "start"})
	if err != nil {
		t.Fatalf("expected the failure in the result, not as an error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("want 2 steps (a, failed b), got %d", len(result.Steps))
	}
	failed := result.Steps[1]
	if failed.Attempts != 3 || failed.ErrorCode != types.ErrRateLimit {
		t.Errorf("failed step should record exhausted attempts and its code, got %+v", failed)
	}
	if inv.callCount("c") != 0 {
		t.Error("downstream agent must not run after a fatal step")
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	fatal := types.NewError(types.ErrProviderError, "model not found")
	inv := newScriptedInvoker()
	inv.fail("a", fatal)

	cfg := chainConfig("a")
	cfg.Retry = fastRetry(3)
	exec, _ := NewSequentialExecutor(cfg, inv)

	result, _ := exec.Execute(context.Background(), ExecuteOptions{Input: "go"})
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if inv.callCount("a") != 1 {
		t.Errorf("PROVIDER_ERROR is not retryable by default: want 1 attempt, got %d", inv.callCount("a"))
	}
}

// ====== 取消与超时 ======

func TestCancelBetweenSteps(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "first").respond("b", "second")
	exec, _ := NewSequentialExecutor(chainConfig("a", "b"), inv)

	// 第一个 Agent 完成当前调用后才触发取消：正在飞行的尝试不被打断
	wrapped := llm.InvokerFunc(func(ctx context.Context, agent types.AgentDefinition, input string, opts *llm.InvokeOptions) (*llm.Response, error) {
		resp, err := inv.Invoke(ctx, agent, input, opts)
		if agent.ID == "a" {
			exec.Cancel()
		}
		return resp, err
	})
	exec.invoker = wrapped

	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "go"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if len(result.Steps) != 1 {
		t.Errorf("the in-flight step must settle, later steps must not start: got %d steps", len(result.Steps))
	}
	if inv.callCount("b") != 0 {
		t.Error("agent b must not be invoked after Cancel")
	}
}

func TestCancelSuppressesRetries(t *testing.T) {
	transient := types.NewError(types.ErrTimeout, "slow")
	var exec *SequentialExecutor
	inv := llm.InvokerFunc(func(ctx context.Context, agent types.AgentDefinition, input string, opts *llm.InvokeOptions) (*llm.Response, error) {
		exec.Cancel()
		return nil, transient
	})

	cfg := chainConfig("a")
	cfg.Retry = fastRetry(5)
	exec, _ = NewSequentialExecutor(cfg, inv)

	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "go"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	// 首次尝试失败后取消生效，第二次尝试被拦下
	if got := result.Steps[0].Attempts; got != 2 {
		t.Errorf("want the retry loop stopped at attempt 2, got %d", got)
	}
}

func TestWorkflowTimeoutStatus(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "slow").delay("a", 200*time.Millisecond)
	cfg := chainConfig("a")
	cfg.Timeout = 30 * time.Millisecond
	exec, _ := NewSequentialExecutor(cfg, inv)

	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "go"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusTimeout {
		t.Fatalf("an elapsed workflow budget must end as timeout, got %s", result.Status)
	}
	if result.Output != "" {
		t.Errorf("timeout result must carry no output, got %q", result.Output)
	}
}

func TestStepTimeoutStatus(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "slow").delay("a", 200*time.Millisecond)
	cfg := chainConfig("a")
	cfg.StepTimeout = 30 * time.Millisecond
	exec, _ := NewSequentialExecutor(cfg, inv)

	result, _ := exec.Execute(context.Background(), ExecuteOptions{Input: "go"})
	if result.Status != StatusTimeout {
		t.Fatalf("an elapsed step budget must end as timeout, got %s", result.Status)
	}
	if code := result.Steps[0].ErrorCode; code != types.ErrDeadlineExceeded {
		t.Errorf("expected DEADLINE_EXCEEDED on the step, got %s", code)
	}
}

func TestContextCancellationStatus(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "slow").delay("a", 200*time.Millisecond)
	exec, _ := NewSequentialExecutor(chainConfig("a"), inv)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := exec.Execute(ctx, ExecuteOptions{Input: "go"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	// 调用方撤销 context 是取消，不是超时
	if result.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
}

// ====== 进度事件 ======

func TestEventOrdering(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "one").respond("b", "two")
	exec, _ := NewSequentialExecutor(chainConfig("a", "b"), inv)

	rec := &eventRecorder{}
	result, err := exec.Execute(context.Background(), ExecuteOptions{Input: "go", OnProgress: rec.record})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}

	want := []EventType{
		EventWorkflowStart,
		EventStepStart, EventStepComplete,
		EventStepStart, EventStepComplete,
		EventWorkflowComplete,
	}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("want %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: want %s, got %s", i, want[i], got[i])
		}
	}
}

func TestEventsDeliveredBeforeReturn(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "out")
	exec, _ := NewSequentialExecutor(chainConfig("a"), inv)

	rec := &eventRecorder{}
	slow := func(ev Event) {
		time.Sleep(5 * time.Millisecond) // 故意拖慢回调
		rec.record(ev)
	}
	if _, err := exec.Execute(context.Background(), ExecuteOptions{Input: "go", OnProgress: slow}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// Execute 返回前必须排空队列，终态事件不会丢
	got := rec.types()
	if len(got) == 0 || got[len(got)-1] != EventWorkflowComplete {
		t.Fatalf("terminal event missing or out of order: %v", got)
	}
}

func TestPanickingCallbackDoesNotAbortRun(t *testing.T) {
	inv := newScriptedInvoker().respond("a", "out")
	exec, _ := NewSequentialExecutor(chainConfig("a"), inv)

	result, err := exec.Execute(context.Background(), ExecuteOptions{
		Input:      "go",
		OnProgress: func(Event) { panic("observer bug") },
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("an observer panic must not fail the run, got %s", result.Status)
	}
}

func TestStreamingDeltasForwarded(t *testing.T) {
	inv := llm.InvokerFunc(func(ctx context.Context, agent types.AgentDefinition, input string, opts *llm.InvokeOptions) (*llm.Response, error) {
		if opts != nil && opts.OnDelta != nil {
			opts.OnDelta("hel")
			opts.OnDelta("lo")
		}
		return &llm.Response{Text: "hello"}, nil
	})
	exec, _ := NewSequentialExecutor(chainConfig("a"), inv)

	rec := &eventRecorder{}
	if _, err := exec.Execute(context.Background(), ExecuteOptions{Input: "go", OnProgress: rec.record}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	var deltas []string
	rec.mu.Lock()
	for _, ev := range rec.events {
		if ev.Type == EventStepProgress {
			deltas = append(deltas, ev.Delta)
		}
	}
	rec.mu.Unlock()
	if strings.Join(deltas, "") != "hello" {
		t.Errorf("deltas should reassemble the output, got %v", deltas)
	}
}

// ====== 会话日志 ======

func TestConversationLogging(t *testing.T) {
	store := persistence.NewMemoryConversationStore()
	inv := newScriptedInvoker().respond("a", "answer")
	exec, _ := NewSequentialExecutor(chainConfig("a"), inv, WithConversationStore(store))

	if _, err := exec.Execute(context.Background(), ExecuteOptions{ConversationID: "conv-1", Input: "question"}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	msgs, err := store.GetMessages(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("get messages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("want user + assistant message, got %d", len(msgs))
	}
	if msgs[0].Role != persistence.RoleUser || msgs[0].Content != "question" {
		t.Errorf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != persistence.RoleAssistant || msgs[1].AgentID != "a" {
		t.Errorf("unexpected assistant message: %+v", msgs[1])
	}
}

func TestStoreFailureDoesNotAbortRun(t *testing.T) {
	store := persistence.NewMemoryConversationStore()
	_ = store.Close()

	inv := newScriptedInvoker().respond("a", "answer")
	exec, _ := NewSequentialExecutor(chainConfig("a"), inv, WithConversationStore(store))

	result, err := exec.Execute(context.Background(), ExecuteOptions{ConversationID: "conv-1", Input: "question"})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("append failures are fire-and-forget, got %s", result.Status)
	}
}

// ====== 构造校验 ======

func TestConstructorValidation(t *testing.T) {
	if _, err := NewSequentialExecutor(Config{Topology: TopologySequential}, newScriptedInvoker()); err == nil {
		t.Error("empty agent set must be rejected")
	}
	if _, err := NewSequentialExecutor(chainConfig("a"), nil); err == nil {
		t.Error("nil invoker must be rejected")
	}

	cfg := chainConfig("a")
	cfg.Topology = TopologyParallel
	if _, err := NewSequentialExecutor(cfg, newScriptedInvoker()); err == nil {
		t.Error("topology mismatch must be rejected")
	}

	dup := Config{
		Topology: TopologySequential,
		Agents:   []types.AgentDefinition{testAgent("a"), testAgent("a")},
	}
	if _, err := NewSequentialExecutor(dup, newScriptedInvoker()); err == nil {
		t.Error("duplicate agent ids must be rejected")
	}
}
