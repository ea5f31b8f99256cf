// Package telemetry bootstraps OpenTelemetry tracing for scan runs.
// Tracing is opt-in; when disabled every span call is a no-op.
package telemetry

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config controls the tracer provider.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// InitTracer configures the global tracer provider and returns a
// shutdown function. The OTLP endpoint and headers come from the
// standard OTEL_EXPORTER_OTLP_* environment variables.
func InitTracer(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating resource")
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "creating trace exporter")
	}

	provider := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSpanProcessor(trace.NewBatchSpanProcessor(
			exporter,
			trace.WithBatchTimeout(1*time.Second),
		)),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(exporter.Shutdown(ctx), provider.Shutdown(ctx))
	}, nil
}
