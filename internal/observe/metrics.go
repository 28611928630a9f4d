// Package observe provides application-wide observability primitives for
// casescribe: OpenTelemetry metrics, distributed tracing, trace-aware
// logging, and HTTP middleware that ties them together.
//
// [Setup] builds the SDK providers and a Prometheus registry for /metrics.
// [Metrics] holds the instruments; build it with [NewMetrics] from a
// provider, or use the process-wide [DefaultMetrics]. Tests should pass a
// provider backed by a manual reader to avoid cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every casescribe instrument.
const meterName = "github.com/MrWong99/casescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// Stage latencies, in seconds.
	ExtractDuration metric.Float64Histogram // attrs: format=rtf|plain
	STTDuration     metric.Float64Histogram // attrs: provider
	AlignDuration   metric.Float64Histogram

	// Analyses counts finished analyses. attrs: status=ok|error
	Analyses metric.Int64Counter

	// Discrepancies counts reported discrepancies. attrs: type
	Discrepancies metric.Int64Counter

	// ActiveAnalyses is the number of analyses in flight.
	ActiveAnalyses metric.Int64UpDownCounter

	// ProviderRequests and ProviderErrors count backend attempts.
	// attrs: provider, kind, and status on requests
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// attrs: provider, state (the state entered)
	BreakerTransitions metric.Int64Counter

	// ConfigReloads counts config file edits picked up by the watcher.
	// attrs: outcome=applied|rejected
	ConfigReloads metric.Int64Counter

	// HTTPRequestDuration is the server latency. attrs: method, path, status
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds. Extraction and alignment are in-process and
// fast; transcription of a long hearing runs for minutes.
var (
	fastBuckets       = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	transcribeBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}
)

// instruments creates instruments on one meter and collects every creation
// error, so NewMetrics can report them all at once.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		ExtractDuration: b.seconds("casescribe.extract.duration", "Latency of reference transcript extraction.", fastBuckets),
		STTDuration:     b.seconds("casescribe.stt.duration", "Latency of speech-to-text transcription.", transcribeBuckets),
		AlignDuration:   b.seconds("casescribe.align.duration", "Latency of transcript alignment and classification.", fastBuckets),

		Analyses:       b.counter("casescribe.analyses", "Finished analyses by status."),
		Discrepancies:  b.counter("casescribe.discrepancies", "Reported discrepancies by type."),
		ActiveAnalyses: b.gauge("casescribe.active_analyses", "Analyses in flight."),

		ProviderRequests:   b.counter("casescribe.provider.requests", "Provider attempts by provider, kind and status."),
		ProviderErrors:     b.counter("casescribe.provider.errors", "Failed provider attempts by provider and kind."),
		BreakerTransitions: b.counter("casescribe.provider.breaker_transitions", "Circuit breaker state changes by provider and entered state."),

		ConfigReloads: b.counter("casescribe.config.reloads", "Config file edits by outcome."),

		HTTPRequestDuration: b.seconds("casescribe.http.request.duration", "HTTP request latency by method, route and status.", nil),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], built on first use from
// the global meter provider. It panics if an instrument cannot be created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider attempt.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", status),
	))
}

// RecordProviderError counts one failed provider attempt.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
	))
}

// RecordBreakerTransition counts a breaker of provider entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("state", state),
	))
}

// RecordDiscrepancies adds n discrepancies of the given type. Zero counts are
// ignored.
func (m *Metrics) RecordDiscrepancies(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.Discrepancies.Add(ctx, int64(n), metric.WithAttributes(Attr("type", kind)))
}

// RecordAnalysis counts one finished analysis.
func (m *Metrics) RecordAnalysis(ctx context.Context, status string) {
	m.Analyses.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordConfigReload counts one config edit with the given outcome.
func (m *Metrics) RecordConfigReload(ctx context.Context, outcome string) {
	m.ConfigReloads.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}
