// Package whisper provides whisper.cpp-backed STT transcribers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. [NativeProvider] links the whisper.cpp library
// directly through its CGO bindings and decodes WAV uploads in-process.
//
// whisper.cpp is a batch engine; both transcribers submit the whole recording
// in one inference call.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	tr, err := p.Transcribe(ctx, wavBytes, stt.Options{Model: "small"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
)

const (
	defaultLanguage = "en"

	// defaultTimeout bounds one inference request. Long hearings take a while
	// on CPU-only servers.
	defaultTimeout = 10 * time.Minute
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default model identifier forwarded to the whisper.cpp
// server (e.g., "base.en", "small"). A non-empty stt.Options.Model takes
// precedence. When both are empty the server uses whichever model it was
// started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// inferenceResponse is the verbose_json payload of whisper-server. Older
// servers only return the text field.
type inferenceResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word        string  `json:"word"`
			Start       float64 `json:"start"`
			End         float64 `json:"end"`
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe uploads audio to the /inference endpoint as multipart/form-data
// and returns the parsed transcript.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	if len(audio) == 0 {
		return stt.Transcript{}, errors.New("whisper: audio is empty")
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	model := opts.Model
	if model == "" {
		model = p.model
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"language", lang},
		{"model", model},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.transcript(lang), nil
}

// transcript converts the server response. Word timings are collected from
// segments when present; the text is taken from the top-level field, or
// rebuilt from segments when the server left it empty.
func (r inferenceResponse) transcript(requestedLang string) stt.Transcript {
	t := stt.Transcript{
		Text:     strings.TrimSpace(r.Text),
		Language: r.Language,
		Duration: seconds(r.Duration),
	}
	if t.Language == "" {
		t.Language = requestedLang
	}

	var parts []string
	for _, seg := range r.Segments {
		if s := strings.TrimSpace(seg.Text); s != "" {
			parts = append(parts, s)
		}
		for _, w := range seg.Words {
			t.Words = append(t.Words, stt.WordDetail{
				Word:       strings.TrimSpace(w.Word),
				Start:      seconds(w.Start),
				End:        seconds(w.End),
				Confidence: w.Probability,
			})
		}
	}
	if t.Text == "" {
		t.Text = strings.Join(parts, " ")
	}
	return t
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
