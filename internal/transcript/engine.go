package transcript

import "time"

// EngineOption is a functional option for configuring an [Engine].
type EngineOption func(*Engine)

// WithAligner replaces the default [SequenceMatcher].
func WithAligner(a Aligner) EngineOption {
	return func(e *Engine) {
		e.aligner = a
	}
}

// WithKnownErrors replaces [DefaultKnownErrors] for both flagging and
// correction.
func WithKnownErrors(k KnownErrors) EngineOption {
	return func(e *Engine) {
		e.known = k
	}
}

// WithProcessingTime overrides how the reported processing time is obtained.
// fn receives the measured duration of the analysis and returns the value to
// report. Use it to pin the value in tests or for clients that expect a
// fixed figure.
func WithProcessingTime(fn func(measured time.Duration) time.Duration) EngineOption {
	return func(e *Engine) {
		e.processingTime = fn
	}
}

// Engine runs the full analysis for one reference/observed pair:
//
//  1. Both texts are tokenized; comparison uses lower-cased tokens.
//  2. The [Aligner] computes opcodes between the two sequences.
//  3. [Classify] turns the opcodes into audio-mismatch discrepancies.
//  4. The [KnownErrors] table flags lexical errors in the raw reference.
//  5. [Summarize] aggregates mismatches followed by lexical flags.
//
// The corrected text is produced from the reference alone by the same
// [KnownErrors] table.
//
// Engine is read-only after construction and safe for concurrent use.
type Engine struct {
	aligner        Aligner
	known          KnownErrors
	processingTime func(time.Duration) time.Duration
}

// NewEngine constructs an [Engine] with the supplied options.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		aligner: NewSequenceMatcher(),
		known:   DefaultKnownErrors,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Analyze compares reference with observed. An empty observed text is not an
// error: every reference token is then reported as missing from the audio.
func (e *Engine) Analyze(reference, observed string) *Analysis {
	start := time.Now()

	refOrig := Tokenize(reference)
	refLower := Lower(refOrig)
	obsLower := Lower(Tokenize(observed))

	ops := e.aligner.Align(refLower, obsLower)
	errs := Classify(ops, refLower, obsLower, refOrig)
	errs = append(errs, e.known.Flag(reference)...)
	if errs == nil {
		errs = []Discrepancy{}
	}

	elapsed := time.Since(start)
	if e.processingTime != nil {
		elapsed = e.processingTime(elapsed)
	}

	return &Analysis{
		Errors:    errs,
		Summary:   Summarize(errs, elapsed),
		Corrected: e.known.Correct(reference),
	}
}
