package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/casescribe/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "deepgram", Options: map[string]any{"keywords": []any{"voir dire"}}},
		},
		KnownErrors: []config.KnownErrorRule{{Error: "councelor", Correction: "counselor"}},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged || d.TranscriptionChanged || d.KnownErrorsChanged {
		t.Errorf("expected no hot changes for identical configs, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart-required changes, got %v", d.RestartRequired)
	}
	if d.HotReloadable() {
		t.Error("HotReloadable() = true for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if !d.HotReloadable() {
		t.Error("log level change should be hot-reloadable")
	}
}

func TestDiff_TranscriptionChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Transcription: config.TranscriptionConfig{DefaultModel: "small", Timeout: config.Duration(time.Minute)}}
	new := &config.Config{Transcription: config.TranscriptionConfig{DefaultModel: "small", Timeout: config.Duration(2 * time.Minute)}}

	d := config.Diff(old, new)
	if !d.TranscriptionChanged {
		t.Error("expected TranscriptionChanged=true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("transcription changes should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_KnownErrorsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{KnownErrors: []config.KnownErrorRule{{Error: "a", Correction: "b"}, {Error: "c", Correction: "d"}}}
	new := &config.Config{KnownErrors: []config.KnownErrorRule{{Error: "c", Correction: "d"}, {Error: "a", Correction: "b"}}}

	d := config.Diff(old, new)
	if !d.KnownErrorsChanged {
		t.Error("reordering known errors must count as a change")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8000"},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "whisper", Options: map[string]any{"n": 1}},
		},
	}
	new := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":9000", TLS: &config.TLSConfig{CertFile: "c", KeyFile: "k"}},
		Providers: config.ProvidersConfig{
			STT: config.ProviderEntry{Name: "whisper", Options: map[string]any{"n": 2}},
		},
		Telemetry: config.TelemetryConfig{MetricsEnabled: true},
	}

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "server.tls", "providers", "telemetry"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.HotReloadable() {
		t.Error("HotReloadable() should be false when only restart-required fields changed")
	}
}
