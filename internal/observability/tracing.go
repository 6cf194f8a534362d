package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies this module's spans: it is the instrumentation
// name passed to otel.Tracer.
const TracerName = "github.com/relay-ci/revpipe"

// NewTracerProvider builds an SDK tracer provider labeled with appChannel
// as a resource attribute, per SPEC_FULL's ambient stack section. No span
// exporter is registered on it. Callers own calling Shutdown on the
// returned provider.
func NewTracerProvider(appChannel string) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("app_channel", appChannel))),
	)
	otel.SetTracerProvider(tp)
	return tp
}

// StartSpan starts a span for one of the pipeline's four layers
// (ingestion, parsing, classification, reporting), tagging it with the
// APP_CHANNEL label as a span attribute.
func StartSpan(ctx context.Context, appChannel, name string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("app_channel", appChannel))
	return ctx, span
}

// EndSpan records err (if any) on span before ending it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
