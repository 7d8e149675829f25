package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/finsight-ai/finsight"

// Tracer returns the process tracer. When no SDK is installed this is the
// otel no-op tracer, so call sites never need a nil check.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartReportSpan opens a span around one report orchestration run and
// returns the run id (the span ID, or the provided fallback when the span is
// not recording).
func StartReportSpan(ctx context.Context, reportType, fallbackRunID string) (context.Context, trace.Span, string) {
	ctx, span := Tracer().Start(ctx, "report.orchestrate",
		trace.WithAttributes(attribute.String("report.type", reportType)))

	runID := fallbackRunID
	if sc := span.SpanContext(); sc.HasSpanID() {
		runID = sc.SpanID().String()
	}
	return ctx, span, runID
}
