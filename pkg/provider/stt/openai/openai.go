// Package openai transcribes through the OpenAI audio API or any server that
// speaks the same /audio/transcriptions protocol.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
)

var _ stt.Transcriber = (*Provider)(nil)

// Provider is an [stt.Transcriber] for the OpenAI transcription endpoint.
type Provider struct {
	client   oai.Client
	settings settings
}

type settings struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
	words    bool
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithModel selects the transcription model. Default: whisper-1.
func WithModel(model string) Option { return func(s *settings) { s.model = model } }

// WithLanguage sets the language hint used when a request carries none.
func WithLanguage(lang string) Option { return func(s *settings) { s.language = lang } }

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// WithWordTimestamps requests verbose_json output so the transcript carries
// per-word timing and the audio duration. Only whisper-1 supports it.
func WithWordTimestamps() Option { return func(s *settings) { s.words = true } }

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	s := settings{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), settings: s}, nil
}

// Transcribe uploads audio as audio.wav. The whisper model sizes in
// opts.Model do not name OpenAI models, so the configured model is used.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	if len(audio) == 0 {
		return stt.Transcript{}, errors.New("openai: audio is empty")
	}
	lang := cmpOr(opts.Language, p.settings.language)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.settings.model),
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if p.settings.words {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
		params.TimestampGranularities = []string{"word"}
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai: transcribe: %w", err)
	}
	tr := stt.Transcript{Text: strings.TrimSpace(resp.Text), Language: lang}
	if p.settings.words {
		verbose(&tr, resp.RawJSON())
	}
	return tr, nil
}

// verbose copies the timing fields of a verbose_json body into tr.
func verbose(tr *stt.Transcript, raw string) {
	body := gjson.Parse(raw)
	if d := body.Get("duration"); d.Exists() {
		tr.Duration = seconds(d.Float())
	}
	if tr.Language == "" {
		tr.Language = body.Get("language").String()
	}
	body.Get("words").ForEach(func(_, w gjson.Result) bool {
		tr.Words = append(tr.Words, stt.WordDetail{
			Word:  strings.TrimSpace(w.Get("word").String()),
			Start: seconds(w.Get("start").Float()),
			End:   seconds(w.Get("end").Float()),
		})
		return true
	})
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
