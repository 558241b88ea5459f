// Package tracing wires OpenTelemetry spans around the remote transport
// boundary (pkg/remotelog's client/server) so an append or stream call
// can be followed across a logserver/materializer process pair, the way
// the teacher's cmd/enterprise ObservabilityConfig (Jaeger endpoint,
// trace toggle) anticipates without ever actually instrumenting
// anything.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects and configures a trace exporter.
type Config struct {
	// Enabled toggles tracing on at all; when false, Init installs a
	// no-op tracer provider and Tracer() calls are free.
	Enabled bool
	// Exporter selects the backend: "stdout" (default), "jaeger", or
	// "zipkin".
	Exporter string
	// Endpoint is the collector URL for jaeger/zipkin exporters.
	Endpoint    string
	ServiceName string
}

// Init installs a global TracerProvider per cfg and returns a shutdown
// func the caller should defer-call to flush pending spans.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cryptlog"
	}

	exporter, err := buildExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func buildExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	case "zipkin":
		return zipkin.New(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
}

// Tracer returns the package-wide tracer, reading whatever provider Init
// installed (or the global default/no-op if Init was never called).
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/iuliatamas/cryptlog")
}
