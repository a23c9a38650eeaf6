// Package observability installs the OpenTelemetry providers of the client.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Options for Setup
type Options struct {
	ServiceName string

	// Tracing exports spans to TraceOutput (stdout when nil)
	Tracing     bool
	TraceOutput io.Writer

	// Registerer receives the OTel metrics; the gateway serves it on /metrics
	Registerer prometheus.Registerer
}

// Shutdown flushes and stops the providers
type Shutdown func(ctx context.Context) error

// Setup installs a global meter provider backed by the Prometheus exporter and,
// when enabled, a tracer provider writing to the stdout exporter.
func Setup(opts Options) (Shutdown, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(opts.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	var shutdowns []Shutdown

	exporterOpts := []otelprom.Option{}
	if opts.Registerer != nil {
		exporterOpts = append(exporterOpts, otelprom.WithRegisterer(opts.Registerer))
	}
	exp, err := otelprom.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exp), metric.WithResource(res))
	otel.SetMeterProvider(mp)
	shutdowns = append(shutdowns, mp.Shutdown)

	if opts.Tracing {
		out := opts.TraceOutput
		if out == nil {
			out = os.Stdout
		}
		traceExp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("observability: stdouttrace exporter: %w", err)
		}
		tp := trace.NewTracerProvider(
			trace.WithBatcher(traceExp),
			trace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}, nil
}
