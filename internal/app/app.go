// Package app wires the casescribe subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the HTTP surface around
// the configured transcriber, Run serves until the context is cancelled, and
// Shutdown drains in-flight requests and tears everything down in order.
// [App.Analyze] is the service-level operation behind POST /align and the
// align CLI command.
//
// For testing, inject a mock transcriber through [Providers] and pin engine
// behaviour with [WithEngineOptions].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/casescribe/internal/config"
	"github.com/MrWong99/casescribe/internal/health"
	"github.com/MrWong99/casescribe/internal/observe"
	"github.com/MrWong99/casescribe/internal/transcript"
	"github.com/MrWong99/casescribe/pkg/provider/stt"
)

// readHeaderTimeout bounds how long a client may take to send request headers.
const readHeaderTimeout = 10 * time.Second

// ErrNoTranscriber is reported by the transcriber readiness check when no
// backend is configured.
var ErrNoTranscriber = errors.New("app: no transcriber configured")

// Providers holds the backends the service depends on. Populated by main.go
// via the config registry.
type Providers struct {
	// STT transcribes the uploaded audio. Nil means every analysis runs with
	// an empty observed text.
	STT stt.Transcriber

	// STTName labels STT metrics. Defaults to "stt".
	STTName string

	// Ready, when set, reports whether STT can currently serve requests (for
	// example, whether any circuit breaker is still closed).
	Ready func(ctx context.Context) error
}

// settings are the hot-reloadable parts of the configuration.
type settings struct {
	transcription config.TranscriptionConfig
	known         transcript.KnownErrors
}

// App owns all subsystem lifetimes of the casescribe service.
type App struct {
	cfg        *config.Config
	providers  *Providers
	metrics    *observe.Metrics
	metricsH   http.Handler
	engineOpts []transcript.EngineOption
	checkers   []health.Checker

	settings atomic.Pointer[settings]

	health  *health.Handler
	handler http.Handler
	server  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics instead of
// [observe.MetricsHandler]. It has no effect unless metrics are enabled in the
// telemetry config.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithEngineOptions appends engine options to every analysis. They are
// applied after the service defaults and therefore take precedence.
func WithEngineOptions(opts ...transcript.EngineOption) Option {
	return func(a *App) { a.engineOpts = append(a.engineOpts, opts...) }
}

// WithChecker adds a readiness check next to the transcriber check.
func WithChecker(c health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c) }
}

// WithCloser registers fn to run during Shutdown after the HTTP server has
// drained.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and providers. cfg must already carry defaults
// (see [config.ApplyDefaults]); providers may be nil.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil {
		providers = &Providers{}
	}
	if providers.STTName == "" {
		providers.STTName = "stt"
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsH == nil {
		a.metricsH = observe.MetricsHandler()
	}

	// ── 1. Hot-reloadable settings ───────────────────────────────────────
	a.settings.Store(newSettings(cfg))

	// ── 2. Health checks ─────────────────────────────────────────────────
	checkers := append([]health.Checker{{
		Name:  health.TranscriberCheck,
		Check: a.transcriberReady,
	}}, a.checkers...)
	a.health = health.New(checkers...)

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	a.handler = a.routes()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	if providers.STT == nil {
		slog.Warn("no stt provider configured; analyses will report every reference token as missing")
	}
	return a, nil
}

// newSettings extracts the hot-reloadable settings from cfg.
func newSettings(cfg *config.Config) *settings {
	return &settings{
		transcription: cfg.Transcription,
		known:         KnownErrors(cfg.KnownErrors),
	}
}

// KnownErrors converts configured rules to the engine table. An empty list
// selects [transcript.DefaultKnownErrors].
func KnownErrors(rules []config.KnownErrorRule) transcript.KnownErrors {
	if len(rules) == 0 {
		return transcript.DefaultKnownErrors
	}
	k := make(transcript.KnownErrors, len(rules))
	for i, r := range rules {
		k[i] = transcript.Rule{Error: r.Error, Correction: r.Correction}
	}
	return k
}

// transcriberReady is the [health.TranscriberCheck] probe.
func (a *App) transcriberReady(ctx context.Context) error {
	if a.providers.STT == nil {
		return ErrNoTranscriber
	}
	if a.providers.Ready != nil {
		return a.providers.Ready(ctx)
	}
	return nil
}

// routes builds the HTTP handler tree.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /align", a.handleAlign)
	a.health.Register(mux)
	if a.cfg.Telemetry.MetricsEnabled {
		mux.Handle("GET /metrics", a.metricsH)
	}
	return observe.Middleware(a.metrics, observe.WithQuietPaths("/healthz", "/readyz", "/metrics"))(mux)
}

// Handler returns the fully wrapped HTTP handler. Useful with
// [net/http/httptest].
func (a *App) Handler() http.Handler {
	return a.handler
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of cfg (transcription settings and
// the known-error table). Analyses already in flight keep the settings they
// started with. Other changes are ignored; the caller decides whether they
// require a restart (see [config.Diff]).
func (a *App) Reload(cfg *config.Config) {
	a.settings.Store(newSettings(cfg))
	slog.Info("applied configuration reload",
		"default_model", cfg.Transcription.DefaultModel,
		"language", cfg.Transcription.Language,
		"known_errors", len(a.settings.Load().known),
	)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the server fails. When ctx is done, Run returns
// context.Canceled (or the underlying cause); call Shutdown afterwards to
// drain in-flight requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		tls := a.cfg.Server.TLS
		if tls != nil {
			errCh <- a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.ListenAndServe()
	}()

	slog.Info("app running",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
		"stt", a.providers.STTName,
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, waits for in-flight requests to finish,
// then runs the registered closers in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
