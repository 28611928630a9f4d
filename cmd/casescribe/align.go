package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/casescribe/internal/app"
	"github.com/MrWong99/casescribe/internal/config"
	"github.com/MrWong99/casescribe/internal/export"
	"github.com/MrWong99/casescribe/internal/extract"
	"github.com/MrWong99/casescribe/internal/observe"
	"github.com/MrWong99/casescribe/internal/transcript"
)

type alignOptions struct {
	reference string
	audio     string
	observed  string
	outDir    string
	model     string
	asJSON    bool
}

// alignReport is the outcome of one align run, independent of whether the
// observed text came from audio or from a file.
type alignReport struct {
	Analysis            *transcript.Analysis `json:"analysis"`
	CorrectedTranscript string               `json:"correctedTranscript"`
	ObservedTranscript  string               `json:"observedTranscript"`

	files map[export.Format][]byte
}

func newAlignCommand(configPath *string) *cobra.Command {
	var opts alignOptions

	cmd := &cobra.Command{
		Use:   "align",
		Short: "Compare a reference transcript against audio or a second transcript",
		Long: `Compare a reference transcript (RTF or plain text) against either an audio
recording, transcribed with the configured STT provider, or an already
transcribed text file. Prints every discrepancy and optionally writes the
corrected transcript as TXT and DOCX.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runAlign(cmd.Context(), *configPath, opts)
			if err != nil {
				return err
			}
			if opts.outDir != "" {
				if err := writeDownloads(opts.outDir, report.files); err != nil {
					return err
				}
			}
			if opts.asJSON {
				return writeJSON(cmd, report)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.reference, "reference", "r", "", "Reference transcript (RTF or plain text)")
	flags.StringVarP(&opts.audio, "audio", "a", "", "Audio recording to transcribe")
	flags.StringVar(&opts.observed, "observed", "", "Already transcribed text to compare against")
	flags.StringVarP(&opts.outDir, "out", "o", "", "Directory to write the corrected transcript downloads into")
	flags.StringVar(&opts.model, "model", "", "Whisper model size (defaults to transcription.default_model)")
	flags.BoolVar(&opts.asJSON, "json", false, "Print the analysis as JSON")

	_ = cmd.MarkFlagRequired("reference")
	cmd.MarkFlagsOneRequired("audio", "observed")
	cmd.MarkFlagsMutuallyExclusive("audio", "observed")
	return cmd
}

func runAlign(ctx context.Context, configPath string, opts alignOptions) (*alignReport, error) {
	reference, err := os.ReadFile(opts.reference)
	if err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}

	cfg, err := loadConfigOrDefaults(configPath)
	if err != nil {
		return nil, err
	}

	if opts.observed != "" {
		observed, err := os.ReadFile(opts.observed)
		if err != nil {
			return nil, fmt.Errorf("read observed transcript: %w", err)
		}
		return compareTexts(cfg, reference, observed)
	}

	audio, err := os.ReadFile(opts.audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if cfg.Providers.STT.Name == "" {
		return nil, fmt.Errorf("no stt provider configured in %q; use --observed or configure providers.stt", configPath)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	metrics := observe.DefaultMetrics()
	providers, closers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		return nil, err
	}
	appOpts := []app.Option{app.WithMetrics(metrics)}
	for _, c := range closers {
		appOpts = append(appOpts, app.WithCloser(c))
	}
	application, err := app.New(cfg, providers, appOpts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Shutdown(shutdownCtx)
	}()

	req := app.Request{Audio: audio, Model: opts.model}
	if extract.IsRTF(reference) {
		req.RTF = reference
	} else {
		req.PlainText = string(reference)
	}
	res, err := application.Analyze(ctx, req)
	if err != nil {
		if errors.Is(err, app.ErrNoTranscript) {
			return nil, fmt.Errorf("reference %q is empty", opts.reference)
		}
		return nil, err
	}
	return &alignReport{
		Analysis:            res.Analysis,
		CorrectedTranscript: res.Analysis.Corrected,
		ObservedTranscript:  res.Observed,
		files:               res.Files,
	}, nil
}

// compareTexts analyses reference against an already transcribed text
// without touching any STT backend.
func compareTexts(cfg *config.Config, reference, observed []byte) (*alignReport, error) {
	obs := extract.Plain(observed)
	engine := transcript.NewEngine(transcript.WithKnownErrors(app.KnownErrors(cfg.KnownErrors)))
	an := engine.Analyze(extract.Text(reference), obs)
	files, err := export.Render(an.Corrected)
	if err != nil {
		return nil, err
	}
	return &alignReport{
		Analysis:            an,
		CorrectedTranscript: an.Corrected,
		ObservedTranscript:  obs,
		files:               files,
	}, nil
}

// loadConfigOrDefaults loads path, falling back to the defaults when the file
// does not exist.
func loadConfigOrDefaults(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, nil
	}
	return cfg, err
}

// writeDownloads writes every rendered format into dir.
func writeDownloads(dir string, files map[export.Format][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for format, data := range files {
		path := filepath.Join(dir, export.Filenames[format])
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", format, err)
		}
	}
	return nil
}

// renderReport formats report as a discrepancy table followed by a summary.
func renderReport(report *alignReport) string {
	an := report.Analysis
	if len(an.Errors) == 0 {
		return "No discrepancies found."
	}

	rows := make([][]string, 0, len(an.Errors))
	for i, d := range an.Errors {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			string(d.Kind),
			strconv.Itoa(d.Column),
			d.Original,
			d.Suggested,
			strconv.FormatFloat(d.Confidence, 'f', 2, 64),
		})
	}
	table := renderTable(
		[]string{"#", "Type", "Column", "Original", "Suggested", "Confidence"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)

	kinds := make([]string, 0, len(an.Summary.ByType))
	for kind, n := range an.Summary.ByType {
		kinds = append(kinds, fmt.Sprintf("%s: %d", kind, n))
	}
	slices.Sort(kinds)

	elapsed := time.Duration(an.Summary.ProcessingTime * float64(time.Second))
	summary := fmt.Sprintf("%d discrepancies (%s), confidence %.2f, processed in %s",
		an.Summary.TotalErrors,
		strings.Join(kinds, ", "),
		an.Summary.ConfidenceScore,
		elapsed.Round(time.Millisecond),
	)
	return table + "\n" + summary
}
