// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "the counselor spoke"}}
//	got, _ := tr.Transcribe(ctx, audio, stt.Options{Model: "small"})
//	calls := tr.Calls()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the bytes passed to Transcribe.
	Audio []byte
	// Opts is the Options value passed to Transcribe.
	Opts stt.Options
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Hook, if non-nil, is called on every Transcribe before the result is
	// returned. It runs outside the internal lock and may block, which lets
	// tests simulate slow backends or honour ctx cancellation.
	Hook func(ctx context.Context) error

	calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (m *Transcriber) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	m.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	m.calls = append(m.calls, TranscribeCall{Audio: cp, Opts: opts})
	hook := m.Hook
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return stt.Transcript{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return stt.Transcript{}, m.Err
	}
	return m.Result, nil
}

// Calls returns a copy of all recorded Transcribe calls. Thread-safe.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
