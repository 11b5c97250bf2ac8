// Package telemetry installs the OpenTelemetry tracer provider that receives
// stage spans (turn generation, scene adaptation).
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported as service.name when Config leaves it empty.
const DefaultServiceName = "troupe"

// Config selects where spans go. Tracing is off unless Enabled is set and an
// Endpoint is given.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP/HTTP collector URL, e.g. http://localhost:4318
	ServiceName string
}

// Active reports whether Setup would register a provider.
func (c Config) Active() bool {
	return c.Enabled && c.Endpoint != ""
}

// Setup registers a global tracer provider exporting to cfg.Endpoint. When
// tracing is not active it returns a no-op shutdown and leaves the global
// provider alone. The returned shutdown flushes pending spans.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, err
	}

	tp, err := NewProvider(ctx, cfg.ServiceName, sdktrace.WithBatcher(exporter))
	if err != nil {
		return noop, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return tp.Shutdown, nil
}

// NewProvider builds an always-sampling provider tagged with serviceName.
// Callers add span processors through opts.
func NewProvider(ctx context.Context, serviceName string, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}, opts...)
	return sdktrace.NewTracerProvider(opts...), nil
}
