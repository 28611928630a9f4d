package resilience

import (
	"context"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Transcriber) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in the order they are tried.
func (f *STTFallback) Names() []string {
	return f.group.Names()
}

// States returns the circuit breaker state per backend.
func (f *STTFallback) States() map[string]State {
	return f.group.States()
}

// Available reports whether any backend's breaker would admit a request.
func (f *STTFallback) Available() bool {
	return f.group.Available()
}

// Transcribe runs the transcription against the first healthy backend. If it
// fails, subsequent fallbacks are tried with the same audio.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, audio, opts)
	})
}
