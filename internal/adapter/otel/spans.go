package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tasking"

// StartUnlockSpan starts a span for one unit of a batch unlock.
func StartUnlockSpan(ctx context.Context, projectID int64, taskID int, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "unlock_after_validation",
		trace.WithAttributes(
			attribute.Int64("project.id", projectID),
			attribute.Int("task.id", taskID),
			attribute.String("task.target_status", target),
		),
	)
}

// StartRevertSpan starts a span for a revert-by-user run.
func StartRevertSpan(ctx context.Context, projectID, targetUserID int64, status string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "revert_user_tasks",
		trace.WithAttributes(
			attribute.Int64("project.id", projectID),
			attribute.Int64("user.id", targetUserID),
			attribute.String("task.status", status),
		),
	)
}
