// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The default model is loaded at
// construction and shared across all requests.
//
// When a model directory is configured, stt.Options.Model selects a model
// size ("tiny", "base", "small", ...) that is loaded lazily from
// <dir>/ggml-<size>.bin and cached for the lifetime of the provider.
type NativeProvider struct {
	language string
	modelDir string

	mu       sync.Mutex
	fallback whisperlib.Model
	bySize   map[string]whisperlib.Model
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeModelDir sets the directory searched for ggml-<size>.bin when a
// request names a model size.
func WithNativeModelDir(dir string) NativeOption {
	return func(p *NativeProvider) { p.modelDir = dir }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		language: defaultLanguage,
		fallback: model,
		bySize:   make(map[string]whisperlib.Model),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases every loaded model.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.fallback != nil {
		errs = append(errs, p.fallback.Close())
		p.fallback = nil
	}
	for size, m := range p.bySize {
		errs = append(errs, m.Close())
		delete(p.bySize, size)
	}
	return errors.Join(errs...)
}

// modelFor returns the model for the requested size. Unknown sizes, or any
// size when no model directory is configured, resolve to the default model.
func (p *NativeProvider) modelFor(size string) (whisperlib.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fallback == nil {
		return nil, errors.New("whisper: provider is closed")
	}
	if size == "" || p.modelDir == "" {
		return p.fallback, nil
	}
	if m, ok := p.bySize[size]; ok {
		return m, nil
	}

	path := filepath.Join(p.modelDir, "ggml-"+filepath.Base(size)+".bin")
	if _, err := os.Stat(path); err != nil {
		slog.Warn("whisper: model size not installed, using default model", "size", size, "path", path)
		return p.fallback, nil
	}
	m, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	p.bySize[size] = m
	return m, nil
}

// Transcribe decodes audio as WAV, runs whisper.cpp inference on a fresh
// context, and returns the segment texts joined with spaces.
func (p *NativeProvider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	samples, err := decodeWAV(audio)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	model, err := p.modelFor(opts.Model)
	if err != nil {
		return stt.Transcript{}, err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	// A context is not thread-safe, but the model can be shared.
	wctx, err := model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	// The bindings offer no cancellation hook, so ctx is only consulted
	// between segments.
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: %w", err)
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: lang,
		Duration: time.Duration(len(samples)) * time.Second / whisperSampleRate,
	}, nil
}
