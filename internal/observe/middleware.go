package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Response headers set by [Middleware].
const (
	// CorrelationIDHeader carries the trace ID of the request span.
	CorrelationIDHeader = "X-Correlation-ID"

	// RequestIDHeader carries the per-request identifier. A client-supplied
	// value is kept; otherwise a random UUID is generated.
	RequestIDHeader = "X-Request-ID"
)

type requestIDKey struct{}

// RequestID returns the request identifier stored by [Middleware], or the
// empty string outside of a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithTracerProvider records request spans on tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) MiddlewareOption {
	return func(mw *middleware) { mw.tracer = tp.Tracer(tracerName) }
}

// WithPropagator reads and writes trace context with p instead of
// [Propagator].
func WithPropagator(p propagation.TextMapPropagator) MiddlewareOption {
	return func(mw *middleware) { mw.propagator = p }
}

// WithQuietPaths logs requests to the given paths at debug level, which keeps
// probe traffic such as /healthz out of the info log.
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(mw *middleware) {
		for _, p := range paths {
			mw.quiet[p] = true
		}
	}
}

type middleware struct {
	metrics    *Metrics
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	quiet      map[string]bool
}

// Middleware wraps an HTTP handler with a server span, correlation and
// request ID headers, a duration histogram and one completion log line.
//
// The span is named after the matched [http.ServeMux] pattern once the
// request has been routed, and the same pattern labels the duration metric,
// so cardinality stays bounded by the number of routes.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{
		metrics:    m,
		propagator: Propagator(),
		quiet:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(mw)
	}
	if mw.tracer == nil {
		mw.tracer = otel.Tracer(tracerName)
	}
	return mw.wrap
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (mw *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := mw.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := mw.tracer.Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		rid := r.Header.Get(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx = context.WithValue(ctx, requestIDKey{}, rid)
		span.SetAttributes(attribute.String("request.id", rid))

		header := w.Header()
		cid := CorrelationID(ctx)
		if cid != "" {
			header.Set(CorrelationIDHeader, cid)
		}
		header.Set(RequestIDHeader, rid)
		mw.propagator.Inject(ctx, propagation.HeaderCarrier(header))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if r.Pattern != "" {
			route = r.Pattern
			span.SetAttributes(semconv.HTTPRoute(r.Pattern))
		}
		// Method-qualified patterns such as "GET /align" already name the span.
		if strings.HasPrefix(route, r.Method+" ") {
			span.SetName(route)
		} else {
			span.SetName(r.Method + " " + route)
		}
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))

		mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("path", route),
				attribute.Int("status", rec.status),
			),
		)

		level := slog.LevelInfo
		if mw.quiet[r.URL.Path] {
			level = slog.LevelDebug
		}
		slog.LogAttrs(ctx, level, "request completed",
			slog.String("trace_id", cid),
			slog.String("request_id", rid),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", elapsed),
		)
	})
}
