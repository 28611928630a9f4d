// Package config provides the configuration schema, loader, watcher and
// provider registry for the casescribe service.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity for the casescribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr   = ":8000"
	DefaultMaxUploadMB  = 200
	DefaultWhisperModel = "small"
	DefaultServiceName  = "casescribe"
	DefaultTimeout      = 10 * time.Minute
)

// Config is the root configuration structure for casescribe.
// It is typically loaded from a YAML or TOML file using [Load].
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Providers     ProvidersConfig     `yaml:"providers" toml:"providers"`
	Transcription TranscriptionConfig `yaml:"transcription" toml:"transcription"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" toml:"telemetry"`

	// KnownErrors replaces the built-in lexical error table when non-empty.
	// Rules are applied in the listed order.
	KnownErrors []KnownErrorRule `yaml:"known_errors" toml:"known_errors"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" toml:"log_level"`

	// MaxUploadMB bounds the size of one multipart request body.
	MaxUploadMB int `yaml:"max_upload_mb" toml:"max_upload_mb"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls" toml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file" toml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file" toml:"key_file"`
}

// ProvidersConfig declares the speech-to-text backends. STT is tried first;
// STTFallbacks are tried in order when it fails.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt" toml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks" toml:"stt_fallbacks"`

	// CircuitBreaker tunes the breaker placed in front of every STT backend.
	CircuitBreaker BreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
}

// BreakerConfig tunes a per-backend circuit breaker. Zero fields keep the
// breaker's built-in defaults.
type BreakerConfig struct {
	MaxFailures    int      `yaml:"max_failures" toml:"max_failures"`
	ResetTimeout   Duration `yaml:"reset_timeout" toml:"reset_timeout"`
	HalfOpenProbes int      `yaml:"half_open_probes" toml:"half_open_probes"`
}

// ProviderEntry is the configuration block for one provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "deepgram").
	Name string `yaml:"name" toml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key" toml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-2", a
	// ggml model path for whisper-native).
	Model string `yaml:"model" toml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options" toml:"options"`
}

// TranscriptionConfig holds per-request transcription defaults.
type TranscriptionConfig struct {
	// DefaultModel is the whisper model size used when a request does not
	// name one.
	DefaultModel string `yaml:"default_model" toml:"default_model"`

	// Language is the ISO 639-1 code passed to the backend. Empty lets the
	// backend decide.
	Language string `yaml:"language" toml:"language"`

	// Timeout bounds one transcription call.
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// TelemetryConfig controls metrics and tracing identity.
type TelemetryConfig struct {
	// ServiceName is reported as the OpenTelemetry service.name.
	ServiceName string `yaml:"service_name" toml:"service_name"`

	// MetricsEnabled exposes /metrics when true.
	MetricsEnabled bool `yaml:"metrics_enabled" toml:"metrics_enabled"`
}

// KnownErrorRule pairs an erroneous substring with its correction.
type KnownErrorRule struct {
	Error      string `yaml:"error" toml:"error"`
	Correction string `yaml:"correction" toml:"correction"`
}

// Duration is a [time.Duration] that decodes from strings such as "90s" in
// both YAML and TOML.
type Duration time.Duration

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Transcription.DefaultModel == "" {
		cfg.Transcription.DefaultModel = DefaultWhisperModel
	}
	if cfg.Transcription.Timeout == 0 {
		cfg.Transcription.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
