package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/casescribe/internal/app"
	"github.com/MrWong99/casescribe/internal/config"
	"github.com/MrWong99/casescribe/internal/health"
	"github.com/MrWong99/casescribe/internal/observe"
	"github.com/MrWong99/casescribe/internal/transcript"
	"github.com/MrWong99/casescribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/casescribe/pkg/provider/stt/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// testConfig returns a defaulted config for tests.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// fixedProcessingTime pins the reported processing time to 7.2s.
func fixedProcessingTime() app.Option {
	return app.WithEngineOptions(transcript.WithProcessingTime(func(time.Duration) time.Duration {
		return 7200 * time.Millisecond
	}))
}

// newTestMetrics returns metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// newTestApp builds an App around tr with isolated metrics.
func newTestApp(t *testing.T, cfg *config.Config, tr stt.Transcriber, opts ...app.Option) *app.App {
	t.Helper()
	m, _ := newTestMetrics(t)
	var providers *app.Providers
	if tr != nil {
		providers = &app.Providers{STT: tr, STTName: "mock"}
	}
	a, err := app.New(cfg, providers, append([]app.Option{app.WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := app.New(nil, nil); err == nil {
		t.Fatal("New(nil) returned nil error")
	}
}

func TestNew_WithoutProviders(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), nil)
	if a.Handler() == nil {
		t.Fatal("Handler() = nil")
	}
}

func TestHealth_UseWhisper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tr   stt.Transcriber
		want bool
	}{
		{name: "transcriber configured", tr: &sttmock.Transcriber{}, want: true},
		{name: "no transcriber", tr: nil, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a := newTestApp(t, testConfig(), tc.tr)
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var body struct {
				OK         bool `json:"ok"`
				UseWhisper bool `json:"use_whisper"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !body.OK || body.UseWhisper != tc.want {
				t.Errorf("body = %+v, want ok=true use_whisper=%v", body, tc.want)
			}
		})
	}
}

func TestReadyz_ProviderReady(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	var failing atomic.Bool
	a, err := app.New(testConfig(), &app.Providers{
		STT: &sttmock.Transcriber{},
		Ready: func(context.Context) error {
			if failing.Load() {
				return errors.New("all breakers open")
			}
			return nil
		},
	}, app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	get := func() int {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}
	if got := get(); got != http.StatusOK {
		t.Errorf("ready: status = %d, want 200", got)
	}
	failing.Store(true)
	if got := get(); got != http.StatusServiceUnavailable {
		t.Errorf("not ready: status = %d, want 503", got)
	}
}

func TestReadyz_ExtraChecker(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), &sttmock.Transcriber{}, app.WithChecker(health.Checker{
		Name:  "disk",
		Check: func(context.Context) error { return errors.New("full") },
	}))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		enabled bool
		want    int
	}{
		{name: "enabled", enabled: true, want: http.StatusOK},
		{name: "disabled", enabled: false, want: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.Telemetry.MetricsEnabled = tc.enabled
			a := newTestApp(t, cfg, &sttmock.Transcriber{})

			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestMetricsEndpoint_CustomHandler(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Telemetry.MetricsEnabled = true
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("casescribe_analyses_total 3\n"))
	})
	a := newTestApp(t, cfg, &sttmock.Transcriber{}, app.WithMetricsHandler(h))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if got := rec.Body.String(); got != "casescribe_analyses_total 3\n" {
		t.Errorf("body = %q, want the injected handler's output", got)
	}
}

func TestHandler_SetsRequestID(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), &sttmock.Transcriber{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(observe.RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get(observe.RequestIDHeader); got != "abc-123" {
		t.Errorf("%s = %q, want %q", observe.RequestIDHeader, got, "abc-123")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	a := newTestApp(t, testConfig(), &sttmock.Transcriber{}, app.WithCloser(func() error {
		closed.Add(1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	// Idempotent.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if got := closed.Load(); got != 1 {
		t.Errorf("closer called %d times, want 1", got)
	}
}

func TestApp_ShutdownDeadlineExceeded(t *testing.T) {
	t.Parallel()

	var closed atomic.Int32
	a := newTestApp(t, testConfig(), &sttmock.Transcriber{}, app.WithCloser(func() error {
		closed.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Shutdown(ctx); err == nil {
		t.Fatal("Shutdown() with cancelled context returned nil error")
	}
	if got := closed.Load(); got != 0 {
		t.Errorf("closer called %d times, want 0", got)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), &sttmock.Transcriber{})

	ctx, cancel := context.WithCancel(context.Background())

	// Run in background.
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	// Give Run a moment to start listening.
	time.Sleep(50 * time.Millisecond)

	// Cancel context to trigger shutdown.
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_RunListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "256.0.0.1:bad"
	a := newTestApp(t, cfg, &sttmock.Transcriber{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.Run(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want listen error", err)
	}
}
