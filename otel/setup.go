package otel

import (
	"context"
	"fmt"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/protocols/events"
)

// InstrumentationName is the meter and tracer name used by the CLI.
const InstrumentationName = "github.com/petal-labs/protocols"

// SetupConfig configures trace export.
type SetupConfig struct {
	// Endpoint is an OTLP/HTTP collector, either "host:port" or a full URL.
	// Empty leaves the global providers untouched.
	Endpoint string
	Insecure bool

	ServiceName string
}

// Setup installs a global tracer provider exporting over OTLP/HTTP. The
// returned function flushes and shuts the provider down; it is a no-op
// when no endpoint is configured.
func Setup(ctx context.Context, cfg SetupConfig) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "protocols"
	}

	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otelapi.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewEmitter returns an emitter feeding both the metrics and the tracing
// handler built from the given providers.
func NewEmitter(mp metric.MeterProvider, tp trace.TracerProvider) (events.Emitter, error) {
	metrics, err := NewMetricsHandler(mp.Meter(InstrumentationName))
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	tracing := NewTracingHandler(tp.Tracer(InstrumentationName))
	return events.Multi(metrics.Handle, tracing.Handle), nil
}

// GlobalEmitter is NewEmitter over the global OpenTelemetry providers.
func GlobalEmitter() (events.Emitter, error) {
	return NewEmitter(otelapi.GetMeterProvider(), otelapi.GetTracerProvider())
}
