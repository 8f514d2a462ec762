package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const reminderTracerName = "warranty-reminder/internal/services/reminder"

func ReminderTracer() trace.Tracer {
	return otel.Tracer(reminderTracerName)
}

func StartRunSpan(ctx context.Context, runID string, ownerCount int) (context.Context, trace.Span) {
	return ReminderTracer().Start(ctx, "reminder.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.scoped_owners", ownerCount),
		),
	)
}

func StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return ReminderTracer().Start(ctx, "reminder."+phase)
}

func StartDispatchSpan(ctx context.Context, productID string, thresholdDay int) (context.Context, trace.Span) {
	return ReminderTracer().Start(ctx, "reminder.dispatch",
		trace.WithAttributes(
			attribute.String("product.id", productID),
			attribute.Int("dispatch.threshold_day", thresholdDay),
		),
	)
}

func StartChannelSpan(ctx context.Context, channel string) (context.Context, trace.Span) {
	return ReminderTracer().Start(ctx, "reminder.channel."+channel,
		trace.WithAttributes(
			attribute.String("channel", channel),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func EndRunSpan(span trace.Span, sent, skipped, failed, risky int, err error) {
	span.SetAttributes(
		attribute.Int("run.sent_count", sent),
		attribute.Int("run.skipped_count", skipped),
		attribute.Int("run.failed_count", failed),
		attribute.Int("run.at_least_once_risk_count", risky),
	)
	EndSpan(span, err)
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
