package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSSHSpan starts a span around a C1 dial or session acquisition for
// targetKey (user@host:port).
func StartSSHSpan(ctx context.Context, tracer trace.Tracer, targetKey string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "ssh.dial", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("cwatcher.target", targetKey))
	return ctx, span
}

// StartCommandSpan starts a span around a C3 command execution.
func StartCommandSpan(ctx context.Context, tracer trace.Tracer, targetKey, command string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "ssh.exec", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("cwatcher.target", targetKey),
		attribute.String("cwatcher.command", command),
	)
	return ctx, span
}

// StartPushSpan starts a span wrapping one C10 push cycle for a target.
func StartPushSpan(ctx context.Context, tracer trace.Tracer, targetKey string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "push.cycle", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("cwatcher.target", targetKey))
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
