// Package trace wires OpenTelemetry spans around supervised executor runs
// and verification passes, grounded on the teacher's react/tracing.go span
// helpers and kdlbs-kandev's agentctl/tracing lazy-init pattern — adapted
// to export via stdouttrace instead of OTLP, since forge has no collector
// dependency to target.
package trace

import (
	"context"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	scopeName = "forge"

	SpanTaskExecute = "forge.task.execute"
	SpanVerify      = "forge.verify"

	AttrTaskID     = "forge.task_id"
	AttrNamespace  = "forge.namespace"
	AttrOutcome    = "forge.outcome"
)

var (
	initOnce    sync.Once
	provider    *sdktrace.TracerProvider
	initErr     error
)

// Enabled controls whether spans are exported at all; set via
// FORGE_TRACE=1 so a normal run pays no tracing overhead.
func Enabled() bool {
	return os.Getenv("FORGE_TRACE") == "1"
}

func initTracing() {
	if !Enabled() {
		return
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		initErr = err
		return
	}
	provider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
}

// Tracer returns forge's named tracer, a no-op unless Enabled().
func Tracer() trace.Tracer {
	initOnce.Do(initTracing)
	return otel.Tracer(scopeName)
}

// StartTaskSpan begins a span for one supervised executor run.
func StartTaskSpan(ctx context.Context, taskID, namespace string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanTaskExecute, trace.WithAttributes(
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrNamespace, namespace),
	))
}

// StartVerifySpan begins a span for one verification pass.
func StartVerifySpan(ctx context.Context, taskID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanVerify, trace.WithAttributes(attribute.String(AttrTaskID, taskID)))
}

// MarkResult records outcome on span and sets its status accordingly.
func MarkResult(span trace.Span, outcome string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrOutcome, outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans, if tracing was enabled.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return initErr
	}
	return provider.Shutdown(ctx)
}
