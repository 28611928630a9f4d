package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/casescribe/internal/export"
	"github.com/MrWong99/casescribe/internal/extract"
	"github.com/MrWong99/casescribe/internal/observe"
	"github.com/MrWong99/casescribe/internal/transcript"
	"github.com/MrWong99/casescribe/pkg/provider/stt"
)

var (
	// ErrNoTranscript is returned by [App.Analyze] when the request carries
	// neither an RTF document nor plain text.
	ErrNoTranscript = errors.New("app: no transcript provided")

	// ErrNoAudio is returned by [App.Analyze] when the request carries no
	// audio part at all. An empty part is accepted and transcribes to "".
	ErrNoAudio = errors.New("app: no audio provided")
)

// Request is one analysis request.
type Request struct {
	// RTF is the uploaded reference document. A non-nil slice selects it over
	// PlainText, even when empty.
	RTF []byte

	// PlainText is the reference when RTF is nil. Empty means not provided.
	PlainText string

	// Audio holds the raw bytes of the recording.
	Audio []byte

	// Model selects the transcription model size. Empty uses the configured
	// default.
	Model string
}

// Result is the outcome of one analysis.
type Result struct {
	// ID identifies the analysis in logs and responses.
	ID string

	// Reference is the extracted reference text.
	Reference string

	// Observed is the transcription of the audio; empty when transcription
	// failed.
	Observed string

	Analysis *transcript.Analysis

	// Files holds the rendered downloads of the corrected transcript.
	Files map[export.Format][]byte
}

// Analyze extracts the reference, transcribes the audio, compares both and
// renders the corrected transcript. Extraction and transcription run
// concurrently. A failing transcriber does not fail the analysis: the
// observed text is then empty and every reference token is reported missing.
func (a *App) Analyze(ctx context.Context, req Request) (res *Result, err error) {
	if req.RTF == nil && req.PlainText == "" {
		return nil, ErrNoTranscript
	}
	if req.Audio == nil {
		return nil, ErrNoAudio
	}

	id := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "app.Analyze")
	defer observe.EndSpan(span, &err)
	span.SetAttributes(attribute.String("analysis.id", id))

	start := time.Now()
	a.metrics.ActiveAnalyses.Add(ctx, 1)
	defer a.metrics.ActiveAnalyses.Add(ctx, -1)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordAnalysis(ctx, status)
	}()

	s := a.settings.Load()
	model := req.Model
	if model == "" {
		model = s.transcription.DefaultModel
	}

	var reference, observed string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reference = a.extractReference(gctx, req)
		return nil
	})
	g.Go(func() error {
		observed = a.transcribe(gctx, req.Audio, stt.Options{
			Model:    model,
			Language: s.transcription.Language,
		}, s.transcription.Timeout.Std())
		// The transcriber swallows its own failures; only a cancelled
		// request aborts the analysis.
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("app: analyze: %w", err)
	}

	alignStart := time.Now()
	an := a.engine(s, alignStart.Sub(start)).Analyze(reference, observed)
	a.metrics.AlignDuration.Record(ctx, time.Since(alignStart).Seconds())
	for kind, n := range an.Summary.ByType {
		a.metrics.RecordDiscrepancies(ctx, string(kind), n)
	}

	files, err := export.Render(an.Corrected)
	if err != nil {
		return nil, fmt.Errorf("app: analyze: %w", err)
	}

	slog.InfoContext(ctx, "analysis complete",
		"id", id,
		"model", model,
		"reference_chars", len(reference),
		"observed_chars", len(observed),
		"errors", an.Summary.TotalErrors,
		"duration", time.Since(start),
	)
	return &Result{
		ID:        id,
		Reference: reference,
		Observed:  observed,
		Analysis:  an,
		Files:     files,
	}, nil
}

// engine builds the per-analysis engine. The reported processing time covers
// the whole request: elapsed (extraction and transcription) plus the
// engine's own measurement.
func (a *App) engine(s *settings, elapsed time.Duration) *transcript.Engine {
	opts := []transcript.EngineOption{
		transcript.WithKnownErrors(s.known),
		transcript.WithProcessingTime(func(measured time.Duration) time.Duration {
			return elapsed + measured
		}),
	}
	return transcript.NewEngine(append(opts, a.engineOpts...)...)
}

// extractReference returns the reference text of req.
func (a *App) extractReference(ctx context.Context, req Request) string {
	format, raw := "plain", []byte(req.PlainText)
	if req.RTF != nil {
		format, raw = "rtf", req.RTF
	}

	start := time.Now()
	var text string
	if format == "rtf" {
		text = extract.Text(raw)
	} else {
		text = extract.Plain(raw)
	}
	a.metrics.ExtractDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("format", format)),
	)
	return text
}

// transcribe returns the text of audio, or the empty string when no
// transcriber is configured or transcription fails. timeout bounds the call
// when positive.
func (a *App) transcribe(ctx context.Context, audio []byte, opts stt.Options, timeout time.Duration) string {
	if a.providers.STT == nil {
		return ""
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "stt.Transcribe")
	defer span.End()
	span.SetAttributes(
		attribute.String("stt.provider", a.providers.STTName),
		attribute.String("stt.model", opts.Model),
		attribute.Int("stt.audio_bytes", len(audio)),
	)

	start := time.Now()
	text := stt.TextOrEmpty(ctx, a.providers.STT, audio, opts)
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", a.providers.STTName)),
	)
	return text
}
