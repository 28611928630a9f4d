// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one complete audio recording (typically an uploaded WAV
// file) into text. Backends include a local whisper.cpp server, the whisper.cpp
// CGO bindings, Deepgram, and the OpenAI transcription API.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"log/slog"
)

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe returns the transcript of audio, which holds the raw bytes of
	// an audio file. Returns an error if the backend is unreachable, rejects
	// the input, or ctx is cancelled.
	Transcribe(ctx context.Context, audio []byte, opts Options) (Transcript, error)
}

// TextOrEmpty transcribes audio and returns only the text. A nil transcriber
// or any transcription failure yields the empty string; failures are logged
// and never propagated. Callers treat empty text as "nothing was heard".
func TextOrEmpty(ctx context.Context, t Transcriber, audio []byte, opts Options) string {
	if t == nil {
		return ""
	}
	tr, err := t.Transcribe(ctx, audio, opts)
	if err != nil {
		slog.WarnContext(ctx, "stt: transcription failed, continuing with empty text",
			"error", err,
			"model", opts.Model,
			"audio_bytes", len(audio),
		)
		return ""
	}
	return tr.Text
}
