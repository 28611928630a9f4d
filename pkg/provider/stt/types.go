package stt

import "time"

// Transcript is the result of transcribing one complete audio recording.
type Transcript struct {
	// Text is the full transcribed speech content. Segments or words are joined
	// with single spaces.
	Text string

	// Words contains per-word detail when the backend reports it.
	// May be nil for backends without word-level output.
	Words []WordDetail

	// Language is the language the backend detected or was told to use.
	// Empty when the backend does not report it.
	Language string

	// Duration is the length of the transcribed audio, when known.
	Duration time.Duration
}

// WordDetail holds per-word metadata from backends that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Options carries per-request recognition hints.
type Options struct {
	// Model selects the model or model size (e.g., "small", "medium",
	// "whisper-1"). Empty means the backend's configured default.
	Model string

	// Language is the BCP-47 language code (e.g., "en", "de"). Empty lets the
	// backend auto-detect, if supported.
	Language string
}
