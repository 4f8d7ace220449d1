// Package telemetry provides the two observability surfaces the
// pipelines carry: OpenTelemetry tracing spans around control-plane
// tasks, and Prometheus counters/gauges for the countable domain
// events (pool exhaustion, FEC recovery, watchdog deaths, validator
// drops). It deliberately does not bridge OTel metrics: client_golang's
// direct registration already covers the same counters, and carrying
// both would duplicate them.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerConfig configures the task-pipeline tracer.
type TracerConfig struct {
	ServiceName  string
	OTLPEndpoint string // empty disables export; spans are still created and sampled
	SampleRate   float64
}

// Tracer wraps an OTel TracerProvider scoped to one pipeline instance
// (one per sender or receiver process). Metrics stay on the direct
// Prometheus registration path; this type carries tracing only.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracer constructs a Tracer. With OTLPEndpoint empty it still
// produces real spans (useful for tests and for always-on
// instrumentation even without an OTel collector to send to).
func NewTracer(ctx context.Context, cfg TracerConfig) (*Tracer, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRate)
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res), sdktrace.WithSampler(sampler)}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &Tracer{
		tracer:   tp.Tracer(cfg.ServiceName),
		shutdown: tp.Shutdown,
	}, nil
}

// StartTaskSpan starts one span per control-plane task submission,
// named after the task's operation (e.g. "task.add_endpoint_set").
func (t *Tracer) StartTaskSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "task."+op)
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}
