package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TraceCarrier travels inside a transcoder request and is echoed back in the
// callback, linking dispatch and completion into one trace.
type TraceCarrier struct {
	TraceParent string `json:"traceParent,omitempty"`
	TraceState  string `json:"traceState,omitempty"`
}

func InjectTraceContext(ctx context.Context) TraceCarrier {
	mapCarrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, mapCarrier)

	return TraceCarrier{
		TraceParent: mapCarrier.Get("traceparent"),
		TraceState:  mapCarrier.Get("tracestate"),
	}
}

func ExtractTraceContext(ctx context.Context, carrier TraceCarrier) context.Context {
	if carrier.TraceParent == "" {
		return ctx
	}

	mapCarrier := propagation.MapCarrier{
		"traceparent": carrier.TraceParent,
		"tracestate":  carrier.TraceState,
	}
	return propagation.TraceContext{}.Extract(ctx, mapCarrier)
}

func StartDispatchSpan(ctx context.Context, runner, sourceID string) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, "transcoder.dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.String("transcoder.runner", runner),
		attribute.String("source.id", sourceID),
	)
	return ctx, span
}

func StartCallbackSpan(ctx context.Context, requestType, sourceID string) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, "transcoder.callback."+requestType,
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	span.SetAttributes(
		attribute.String("transcoder.type", requestType),
		attribute.String("source.id", sourceID),
	)
	return ctx, span
}

func StartSweepSpan(ctx context.Context, job string) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, "cleanup."+job,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(attribute.String("cleanup.job", job))
	return ctx, span
}
