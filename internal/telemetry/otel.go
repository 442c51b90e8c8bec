// Package telemetry sets up tracing using only the otel/sdk/trace core
// packages: no OTLP exporter is vendored, so a configured span processor
// is the caller's responsibility (tests use the default no-op exporter;
// an operator wiring a real collector supplies their own
// sdktrace.SpanExporter and passes it to Setup).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds OpenTelemetry related settings.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Setup installs a global TracerProvider. When exporter is nil, spans are
// created and sampled but never exported -- useful for exercising span
// attributes in tests without a collector. Returns a shutdown function
// that should be deferred by the caller.
func Setup(cfg Config, exporter sdktrace.SpanExporter) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var opts []sdktrace.TracerProviderOption
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns a named tracer from the global provider, the same
// `go.opentelemetry.io/otel/trace` handle both the actor runtime and the
// session orchestrator use to start their per-message/per-turn spans.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan is a small convenience wrapper used by C2/C3 to attach a
// standard set of string attributes without repeating the
// attribute.String boilerplate at every call site.
func StartSpan(ctx context.Context, tracerName, spanName string, kv map[string]string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv))
	for k, v := range kv {
		attrs = append(attrs, attribute.String(k, v))
	}
	return Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}
