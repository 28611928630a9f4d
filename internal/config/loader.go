package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the config format from the file extension. Anything
// other than ".toml" is treated as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "whisper-native", "deepgram", "openai", "mock"},
}

// Load reads the configuration file at path and returns a validated [Config]
// with defaults applied. The format is chosen by [FormatForPath].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := Decode(f, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return Decode(r, FormatYAML)
}

// Decode decodes a config of the given format from r, applies defaults and
// validates the result. Unknown keys are rejected in both formats.
func Decode(r io.Reader, format Format) (*Config, error) {
	cfg := &Config{}
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode toml: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		// An empty document is a valid, all-defaults config.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported format %q", format)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	if cfg.Providers.STT.Name == "" {
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks is set but providers.stt is not configured"))
		} else {
			slog.Warn("providers.stt is not configured; audio transcription will always be empty")
		}
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	if cb := cfg.Providers.CircuitBreaker; cb.MaxFailures < 0 || cb.ResetTimeout < 0 || cb.HalfOpenProbes < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// Transcription
	if cfg.Transcription.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %s must not be negative", cfg.Transcription.Timeout.Std()))
	}

	// Known errors
	seen := make(map[string]int, len(cfg.KnownErrors))
	for i, rule := range cfg.KnownErrors {
		prefix := fmt.Sprintf("known_errors[%d]", i)
		if rule.Error == "" {
			errs = append(errs, fmt.Errorf("%s.error is required", prefix))
			continue
		}
		if prev, ok := seen[rule.Error]; ok {
			errs = append(errs, fmt.Errorf("%s.error %q is a duplicate of known_errors[%d]", prefix, rule.Error, prev))
		}
		seen[rule.Error] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
