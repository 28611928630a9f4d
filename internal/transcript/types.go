// Package transcript implements the alignment and discrepancy-detection engine
// used by casescribe to compare a human-authored reference transcript against
// a machine transcription of the same audio.
//
// Both texts are split into word and punctuation tokens ([Tokenize]) and an
// [Aligner] computes a minimal edit script between the two token sequences.
// Every non-matching opcode becomes a [Discrepancy] of kind [KindAudioMismatch].
// Independently, a [KnownErrors] table flags and corrects well-known lexical
// errors in the reference text. [Summarize] folds the discrepancies into a
// [Summary].
//
// Everything in this package is a pure function of its inputs. An [Engine]
// holds only read-only configuration and is safe for concurrent use.
package transcript

// Kind classifies a [Discrepancy].
type Kind string

const (
	// KindAudioMismatch marks a span where the reference and the audio
	// transcription disagree.
	KindAudioMismatch Kind = "audio_mismatch"

	// KindSpelling marks an occurrence of a known lexical error.
	KindSpelling Kind = "spelling"
)

// Sentinels used in place of an empty side of a discrepancy.
const (
	Missing = "(missing)"
	Remove  = "(remove)"
)

// Fixed confidence values per discrepancy source.
const (
	mismatchConfidence = 0.75
	insertConfidence   = 0.70
	spellingConfidence = 0.95

	// Overall report confidence. This is a two-valued placeholder policy, not
	// an aggregate of the individual scores.
	confidenceWithErrors = 0.80
	confidenceClean      = 0.95
)

// maxSpanRunes bounds the length of Original and Suggested.
const maxSpanRunes = 80

// Discrepancy is a single user-facing finding.
type Discrepancy struct {
	// Line is always 1: the engine treats the transcript as a single line.
	Line int `json:"line"`

	// Column increases by one per emitted mismatch. It is a coarse ordering
	// signal and not a character offset.
	Column int `json:"column"`

	// Original is the reference text of the span, or [Missing].
	Original string `json:"original"`

	// Suggested is the observed text of the span, or [Remove].
	Suggested string `json:"suggested"`

	// Confidence is a fixed per-source score in [0, 1].
	Confidence float64 `json:"confidence"`

	Kind Kind `json:"type"`
}

// Summary aggregates a list of discrepancies.
type Summary struct {
	TotalErrors     int          `json:"totalErrors"`
	ByType          map[Kind]int `json:"byType"`
	ConfidenceScore float64      `json:"confidenceScore"`

	// ProcessingTime is reported in seconds.
	ProcessingTime float64 `json:"processingTime"`
}

// Analysis is the complete engine output for one reference/observed pair.
type Analysis struct {
	// Errors holds mismatch discrepancies in opcode order followed by the
	// lexical discrepancies in table order.
	Errors  []Discrepancy `json:"errors"`
	Summary Summary       `json:"summary"`

	// Corrected is the reference text with every known error substituted.
	// It does not depend on the alignment.
	Corrected string `json:"-"`
}
