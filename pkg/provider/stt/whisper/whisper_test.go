package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
	"github.com/MrWong99/casescribe/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// makeSilenceWAV returns a 16 kHz mono 16-bit WAV file of the given number of
// zero samples.
func makeSilenceWAV(t *testing.T, samples int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silence.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	_ = f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return data
}

// capturedRequest is what the mock server saw for one /inference call.
type capturedRequest struct {
	fields map[string]string
	file   []byte
}

// newMockServer creates a test server that answers POST /inference with body
// and records every parsed request.
func newMockServer(t *testing.T, body any) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := capturedRequest{fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		if f, _, err := r.FormFile("file"); err == nil {
			c.file, _ = io.ReadAll(f)
			f.Close()
		}
		mu.Lock()
		reqs = append(reqs, c)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), reqs...)
	}
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080/",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_PlainTextResponse(t *testing.T) {
	t.Parallel()

	srv, captured := newMockServer(t, map[string]string{"text": "  the counselor spoke  "})
	p, _ := whisper.New(srv.URL)

	audio := makeSilenceWAV(t, 160)
	tr, err := p.Transcribe(context.Background(), audio, stt.Options{Model: "small"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "the counselor spoke" {
		t.Errorf("Text = %q, want trimmed text", tr.Text)
	}
	if tr.Language != "en" {
		t.Errorf("Language = %q, want default en", tr.Language)
	}

	reqs := captured()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if got := reqs[0].fields["model"]; got != "small" {
		t.Errorf("model field = %q, want small", got)
	}
	if got := reqs[0].fields["language"]; got != "en" {
		t.Errorf("language field = %q, want en", got)
	}
	if got := reqs[0].fields["response_format"]; got != "verbose_json" {
		t.Errorf("response_format field = %q, want verbose_json", got)
	}
	if len(reqs[0].file) != len(audio) {
		t.Errorf("uploaded %d bytes, want %d", len(reqs[0].file), len(audio))
	}
}

func TestTranscribe_VerboseResponse(t *testing.T) {
	t.Parallel()

	body := map[string]any{
		"text":     "",
		"language": "de",
		"duration": 2.5,
		"segments": []map[string]any{
			{
				"text": " Guten Morgen ", "start": 0.0, "end": 1.0,
				"words": []map[string]any{
					{"word": " Guten", "start": 0.0, "end": 0.4, "probability": 0.9},
					{"word": " Morgen", "start": 0.4, "end": 1.0, "probability": 0.8},
				},
			},
			{"text": "Herr Richter.", "start": 1.0, "end": 2.5},
		},
	}
	srv, _ := newMockServer(t, body)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"))

	tr, err := p.Transcribe(context.Background(), []byte("RIFF...."), stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Guten Morgen Herr Richter." {
		t.Errorf("Text = %q, want segments joined", tr.Text)
	}
	if tr.Duration != 2500*time.Millisecond {
		t.Errorf("Duration = %v, want 2.5s", tr.Duration)
	}
	if len(tr.Words) != 2 || tr.Words[1].Word != "Morgen" || tr.Words[1].Start != 400*time.Millisecond {
		t.Errorf("Words = %+v, want two trimmed words with timings", tr.Words)
	}
}

func TestTranscribe_OptionsOverrideDefaults(t *testing.T) {
	t.Parallel()

	srv, captured := newMockServer(t, map[string]string{"text": "ok"})
	p, _ := whisper.New(srv.URL, whisper.WithModel("base"), whisper.WithLanguage("en"))

	if _, err := p.Transcribe(context.Background(), []byte{1}, stt.Options{Model: "medium", Language: "fr"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	f := captured()[0].fields
	if f["model"] != "medium" || f["language"] != "fr" {
		t.Errorf("fields = %v, want model medium, language fr", f)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty audio", func(t *testing.T) {
		t.Parallel()
		p, _ := whisper.New("http://127.0.0.1:1")
		if _, err := p.Transcribe(context.Background(), nil, stt.Options{}); err == nil {
			t.Fatal("expected error for empty audio")
		}
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}))
		defer srv.Close()
		p, _ := whisper.New(srv.URL)
		if _, err := p.Transcribe(context.Background(), []byte{1}, stt.Options{}); err == nil {
			t.Fatal("expected error for HTTP 500")
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}))
		defer srv.Close()
		p, _ := whisper.New(srv.URL)
		if _, err := p.Transcribe(context.Background(), []byte{1}, stt.Options{}); err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		srv, _ := newMockServer(t, map[string]string{"text": "late"})
		p, _ := whisper.New(srv.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Transcribe(ctx, []byte{1}, stt.Options{}); err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}
