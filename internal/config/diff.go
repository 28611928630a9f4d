package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
//
// LogLevel, Transcription and KnownErrors changes can be applied to a running
// server. Anything listed in RestartRequired only takes effect after a
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TranscriptionChanged bool
	KnownErrorsChanged   bool

	// RestartRequired names the top-level settings that changed but cannot be
	// hot-reloaded, e.g. "server.listen_addr" or "providers".
	RestartRequired []string
}

// HotReloadable reports whether d contains at least one change that can be
// applied without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.TranscriptionChanged || d.KnownErrorsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Transcription != new.Transcription {
		d.TranscriptionChanged = true
	}
	if !slices.Equal(old.KnownErrors, new.KnownErrors) {
		d.KnownErrorsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.MaxUploadMB != new.Server.MaxUploadMB {
		d.RestartRequired = append(d.RestartRequired, "server.max_upload_mb")
	}
	if !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	// Provider options may hold nested maps, so compare deeply.
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
