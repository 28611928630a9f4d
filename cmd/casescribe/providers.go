package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/casescribe/internal/app"
	"github.com/MrWong99/casescribe/internal/config"
	"github.com/MrWong99/casescribe/internal/observe"
	"github.com/MrWong99/casescribe/internal/resilience"
	"github.com/MrWong99/casescribe/pkg/provider/stt"
	"github.com/MrWong99/casescribe/pkg/provider/stt/deepgram"
	sttmock "github.com/MrWong99/casescribe/pkg/provider/stt/mock"
	"github.com/MrWong99/casescribe/pkg/provider/stt/openai"
	"github.com/MrWong99/casescribe/pkg/provider/stt/whisper"
)

// errAllCircuitsOpen is reported by readiness when no STT backend can be
// tried.
var errAllCircuitsOpen = errors.New("every stt backend circuit is open")

// registerBuiltinProviders wires all built-in STT factories into reg. Each
// factory receives a config.ProviderEntry and constructs the backend from the
// real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if dir := optString(entry.Options, "model_dir"); dir != "" {
			opts = append(opts, whisper.WithNativeModelDir(dir))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, openai.WithLanguage(lang))
		}
		if optBool(entry.Options, "word_timestamps") {
			opts = append(opts, openai.WithWordTimestamps())
		}
		return openai.New(entry.APIKey, opts...)
	})

	// mock returns a fixed transcript, or always fails with options.error;
	// useful for demos and smoke tests.
	reg.RegisterSTT("mock", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		m := &sttmock.Transcriber{
			Result: stt.Transcript{Text: optString(entry.Options, "text")},
		}
		if msg := optString(entry.Options, "error"); msg != "" {
			m.Err = errors.New(msg)
		}
		return m, nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildProviders instantiates the STT backends named in cfg and composes them
// into a failover group. The returned closers release backends that hold
// resources (such as loaded whisper models).
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, []func() error, error) {
	primary := cfg.Providers.STT
	if primary.Name == "" {
		return &app.Providers{}, nil, nil
	}

	var closers []func() error
	create := func(entry config.ProviderEntry) (stt.Transcriber, error) {
		t, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if c, ok := t.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
		return t, nil
	}

	first, err := create(primary)
	if err != nil {
		return nil, nil, err
	}
	cb := cfg.Providers.CircuitBreaker
	fb := resilience.NewSTTFallback(first, primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:    cb.MaxFailures,
			ResetTimeout:   cb.ResetTimeout.Std(),
			HalfOpenProbes: cb.HalfOpenProbes,
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
		OnAttempt: func(ctx context.Context, name string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
				m.RecordProviderError(ctx, name, "stt")
			}
			m.RecordProviderRequest(ctx, name, "stt", status)
		},
	})
	for _, entry := range cfg.Providers.STTFallbacks {
		t, err := create(entry)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		fb.AddFallback(entry.Name, t)
	}

	return &app.Providers{
		STT:     fb,
		STTName: primary.Name,
		Ready: func(context.Context) error {
			if fb.Available() {
				return nil
			}
			return errAllCircuitsOpen
		},
	}, closers, nil
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optBool reports whether key is set to true. Both YAML and TOML decode
// booleans to bool.
func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
