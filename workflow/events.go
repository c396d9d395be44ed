package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType defines the type of workflow progress event.
type EventType string

const (
	// EventWorkflowStart is emitted once when a run begins.
	EventWorkflowStart EventType = "workflow-start"
	// EventStepStart is emitted before a step's first attempt.
	EventStepStart EventType = "step-start"
	// EventStepProgress carries incremental streaming deltas; it may
	// repeat any number of times per step.
	EventStepProgress EventType = "step-progress"
	// EventStepComplete is emitted once when a step succeeds.
	EventStepComplete EventType = "step-complete"
	// EventStepError is emitted once when a step fails after retries.
	EventStepError EventType = "step-error"
	// EventWorkflowComplete is emitted once when the run completes.
	EventWorkflowComplete EventType = "workflow-complete"
	// EventWorkflowError is emitted once when the run ends on a
	// non-completed terminal status.
	EventWorkflowError EventType = "workflow-error"
)

// Event carries information about one progress occurrence.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
	StepID     string    `json:"step_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	// Delta is the incremental text for EventStepProgress.
	Delta string `json:"delta,omitempty"`
	// Output is the step or workflow output for the complete events.
	Output string `json:"output,omitempty"`
	// Error is the failure text for the error events.
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressFunc receives progress events in emission order. It must not
// block for long and must not panic; panics are recovered and logged.
type ProgressFunc func(Event)

// eventDispatcher decouples callback latency from executor progress:
// events are queued under a mutex and delivered in order by a dedicated
// goroutine, so a slow ProgressFunc never pauses the workflow.
type eventDispatcher struct {
	fn     ProgressFunc
	logger *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	done chan struct{}
}

func newEventDispatcher(fn ProgressFunc, logger *zap.Logger) *eventDispatcher {
	d := &eventDispatcher{
		fn:     fn,
		logger: logger,
		done:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	if fn == nil {
		close(d.done)
		return d
	}
	go d.loop()
	return d
}

// emit enqueues an event. Safe for concurrent use; no-op without a callback.
func (d *eventDispatcher) emit(ev Event) {
	if d.fn == nil {
		return
	}
	ev.Timestamp = time.Now()
	d.mu.Lock()
	if !d.closed {
		d.queue = append(d.queue, ev)
		d.cond.Signal()
	}
	d.mu.Unlock()
}

// close stops accepting events and waits until the queue is drained, so
// terminal events are always delivered before Execute returns.
func (d *eventDispatcher) close() {
	if d.fn == nil {
		return
	}
	d.mu.Lock()
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()
	<-d.done
}

func (d *eventDispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(ev)
	}
}

func (d *eventDispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("progress callback panicked",
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	d.fn(ev)
}
