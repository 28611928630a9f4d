package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/casescribe/internal/app"
	"github.com/MrWong99/casescribe/internal/config"
	"github.com/MrWong99/casescribe/internal/observe"
	"github.com/MrWong99/casescribe/internal/transcript"
)

// shutdownTimeout bounds the graceful drain after a shutdown signal.
const shutdownTimeout = 15 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP alignment service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath, cmd.ErrOrStderr())
		},
	}
}

func serve(ctx context.Context, configPath string, stderr io.Writer) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", configPath)
		}
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(stderr, level))

	slog.Info("casescribe starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Global:         true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}
	opts = append(opts, app.WithCloser(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(ctx)
	}))

	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath,
		func(old, new *config.Config) {
			applyConfigChange(level, application, old, new)
			metrics.RecordConfigReload(context.Background(), "applied")
		},
		config.WithInvalidHandler(func(error) {
			metrics.RecordConfigReload(context.Background(), "rejected")
		}),
	)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(stderr, cfg)
	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// reloader is the part of [app.App] touched by config hot reload.
type reloader interface {
	Reload(cfg *config.Config)
}

// applyConfigChange applies the hot-reloadable differences between old and
// new and logs everything that needs a restart.
func applyConfigChange(level *slog.LevelVar, r reloader, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscriptionChanged || d.KnownErrorsChanged {
		r.Reload(new)
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires restart", "field", field)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       casescribe: startup summary     ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	for i, fb := range cfg.Providers.STTFallbacks {
		printProvider(w, fmt.Sprintf("Fallback %d", i+1), fb.Name, fb.Model)
	}
	fmt.Fprintf(w, "║  Model size      : %-19s ║\n", cfg.Transcription.DefaultModel)
	fmt.Fprintf(w, "║  Known errors    : %-19d ║\n", knownErrorCount(cfg))
	fmt.Fprintf(w, "║  Max upload (MB) : %-19d ║\n", cfg.Server.MaxUploadMB)
	fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

func knownErrorCount(cfg *config.Config) int {
	if n := len(cfg.KnownErrors); n > 0 {
		return n
	}
	return len(transcript.DefaultKnownErrors)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
