package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/orchestral-ai/orchestral/workflow"

// Tracer returns the engine's tracer from the global provider. When the
// host application has not installed a TracerProvider this is a noop and
// the span helpers below cost next to nothing.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartWorkflowSpan opens the root span of a workflow run.
func StartWorkflowSpan(ctx context.Context, topology, workflowID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.topology", topology),
			attribute.String("workflow.id", workflowID),
		),
	)
}

// StartStepSpan opens a span for one agent step.
func StartStepSpan(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.agent_id", agentID),
		),
	)
}

// EndSpan finalizes a span with the step or run outcome.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
