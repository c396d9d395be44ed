package workflow

import (
	"time"

	"github.com/orchestral-ai/orchestral/types"
)

// Status represents the lifecycle state of a workflow run.
type Status string

const (
	// StatusPending indicates the run has not started.
	StatusPending Status = "pending"
	// StatusRunning indicates the run is in progress.
	StatusRunning Status = "running"
	// StatusCompleted indicates the run finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the run failed after exhausting retries.
	StatusFailed Status = "failed"
	// StatusTimeout indicates a step or workflow deadline elapsed.
	StatusTimeout Status = "timeout"
	// StatusCancelled indicates the run was cancelled by the caller.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state. Terminal states
// are exited only by an explicit Reset.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Step records one executed agent invocation, including its retries,
// collapsed into a single history entry. Steps are append-only: once the
// executor records one it is never mutated.
type Step struct {
	// ID is the unique identifier of the step.
	ID string `json:"id"`
	// AgentID names the agent that ran the step.
	AgentID string `json:"agent_id"`
	// Input is the text the agent received.
	Input string `json:"input"`
	// Output is the generated text. Present only on success.
	Output string `json:"output,omitempty"`
	// Attempts is the number of invocation attempts, retries included.
	Attempts int `json:"attempts"`
	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the final attempt settled.
	EndedAt time.Time `json:"ended_at"`
	// Error is the human-readable failure, present only on failure.
	Error string `json:"error,omitempty"`
	// ErrorCode classifies the failure, present only on failure.
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
}

// Duration returns the wall-clock duration of the step.
func (s *Step) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// State is a snapshot of a workflow run's mutable record. The executor
// owns the live record exclusively; State values returned by accessors
// are deep copies and safe to retain.
type State struct {
	// WorkflowID identifies the current run. Empty before the first
	// Execute and after Reset.
	WorkflowID string `json:"workflow_id,omitempty"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Steps is the ordered step history.
	Steps []Step `json:"steps"`
	// CurrentStep is the index of the most recently completed step for
	// topologies with a linear notion of progress (sequential,
	// evaluator-optimizer). -1 before any step completes.
	CurrentStep int `json:"current_step"`
	// Metadata is a free-form bag topologies use for run-scoped facts
	// (classification text, selected route, iteration count).
	Metadata map[string]any `json:"metadata,omitempty"`
	// Error is the terminal error, if any.
	Error string `json:"error,omitempty"`
	// StartedAt is when the run entered StatusRunning.
	StartedAt time.Time `json:"started_at,omitempty"`
	// EndedAt is when the run reached a terminal status.
	EndedAt time.Time `json:"ended_at,omitempty"`
}

// clone returns a deep copy of the state.
func (s *State) clone() State {
	cp := *s
	cp.Steps = make([]Step, len(s.Steps))
	copy(cp.Steps, s.Steps)
	if s.Metadata != nil {
		cp.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// ExecutionResult is the terminal snapshot returned to the caller.
type ExecutionResult struct {
	// WorkflowID identifies the run that produced this result.
	WorkflowID string `json:"workflow_id"`
	// Status is the terminal status of the run.
	Status Status `json:"status"`
	// Output is the final textual result. Present only on completion.
	Output string `json:"output,omitempty"`
	// Steps is the full step history up to the terminal state.
	Steps []Step `json:"steps"`
	// Duration is the total elapsed wall-clock time.
	Duration time.Duration `json:"duration"`
	// Error is the human-readable failure on non-completed status.
	Error string `json:"error,omitempty"`
}
