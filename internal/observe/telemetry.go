package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryConfig describes the service to the OpenTelemetry SDK.
type TelemetryConfig struct {
	// ServiceName is reported as service.name. Default: "casescribe".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter receives finished spans in batches. When nil, spans are
	// still created (so correlation IDs work) but never leave the process.
	TraceExporter sdktrace.SpanExporter

	// Global installs the providers and a W3C propagator as the otel
	// globals, so that [StartSpan] and [DefaultMetrics] use them.
	Global bool
}

// Telemetry owns the metric and trace providers of one process and the
// Prometheus registry the metrics are exported through.
type Telemetry struct {
	meters   *sdkmetric.MeterProvider
	tracers  *sdktrace.TracerProvider
	registry *prometheus.Registry
}

// Propagator is the text map propagator used for inbound and outbound
// requests: W3C trace context plus baggage.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Setup builds the SDK providers described by cfg. Metrics go to a private
// Prometheus registry, together with the Go runtime and process collectors;
// serve them with [Telemetry.MetricsHandler].
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "casescribe"
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("observe: register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("observe: register process collector: %w", err)
	}
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}

	t := &Telemetry{
		meters:   sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)),
		tracers:  sdktrace.NewTracerProvider(traceOpts...),
		registry: registry,
	}
	if cfg.Global {
		otel.SetMeterProvider(t.meters)
		otel.SetTracerProvider(t.tracers)
		otel.SetTextMapPropagator(Propagator())
	}
	return t, nil
}

// MeterProvider returns the provider to build [Metrics] from.
func (t *Telemetry) MeterProvider() metric.MeterProvider { return t.meters }

// TracerProvider returns the provider spans are recorded on.
func (t *Telemetry) TracerProvider() trace.TracerProvider { return t.tracers }

// MetricsHandler serves this process's metrics in the Prometheus text format.
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.tracers.Shutdown(ctx),
		t.meters.Shutdown(ctx),
	)
}

// MetricsHandler serves the metrics registered with the default Prometheus
// registerer. Processes built around [Setup] use [Telemetry.MetricsHandler]
// instead.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
