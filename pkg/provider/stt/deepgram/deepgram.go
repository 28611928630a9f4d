// Package deepgram provides a Deepgram-backed STT transcriber using the
// Deepgram live WebSocket API. It implements the stt.Transcriber interface.
//
// The whole recording is streamed over one connection, followed by a
// CloseStream message. Deepgram then flushes its remaining final results and
// closes the socket; the finals are concatenated into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/casescribe/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkSize is the number of audio bytes sent per WebSocket message.
	chunkSize = 16 * 1024
)

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// Keyword is a vocabulary hint that increases recognition probability for
// uncommon words such as party or witness names.
type Keyword struct {
	Word  string
	Boost float64
}

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets keyword boosts sent with every request.
func WithKeywords(keywords ...Keyword) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, keywords...)
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests and for
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Transcriber backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []Keyword
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams audio to Deepgram and returns the concatenated final
// results. The audio container (WAV, MP3, ...) is detected by Deepgram.
// opts.Model is ignored because whisper model sizes do not map to Deepgram
// models; the provider-level model is always used.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (stt.Transcript, error) {
	if len(audio) == 0 {
		return stt.Transcript{}, errors.New("deepgram: audio is empty")
	}
	wsURL, err := p.buildURL(opts)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	type readResult struct {
		finals []stt.Transcript
		err    error
	}
	readDone := make(chan readResult, 1)
	go func() {
		finals, err := readFinals(ctx, conn)
		readDone <- readResult{finals: finals, err: err}
	}()

	for off := 0; off < len(audio); off += chunkSize {
		end := min(off+chunkSize, len(audio))
		if err := conn.Write(ctx, websocket.MessageBinary, audio[off:end]); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: send CloseStream: %w", err)
	}

	res := <-readDone
	if res.err != nil {
		return stt.Transcript{}, res.err
	}
	conn.Close(websocket.StatusNormalClosure, "transcription complete")

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	return merge(res.finals, lang), nil
}

// readFinals collects final results until Deepgram closes the connection.
// A normal closure ends the read without error.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]stt.Transcript, error) {
	var finals []stt.Transcript
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("deepgram: %w", ctxErr)
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		t, final, ok := parseDeepgramResponse(msg)
		if ok && final && t.Text != "" {
			finals = append(finals, t)
		}
	}
}

// merge concatenates final results in arrival order.
func merge(finals []stt.Transcript, lang string) stt.Transcript {
	out := stt.Transcript{Language: lang}
	texts := make([]string, 0, len(finals))
	for _, f := range finals {
		texts = append(texts, f.Text)
		out.Words = append(out.Words, f.Words...)
		if end := f.Duration; end > out.Duration {
			out.Duration = end
		}
	}
	out.Text = strings.Join(texts, " ")
	return out
}

// buildURL constructs the Deepgram streaming endpoint URL for a request.
func (p *Provider) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "false")

	for _, kw := range p.keywords {
		// Deepgram keyword format: word:boost (e.g., "voir:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. The returned
// Transcript's Duration is the end offset of the result within the stream.
// ok is false if the message should be ignored.
func parseDeepgramResponse(data []byte) (t stt.Transcript, final, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, false, false
	}
	if resp.Type != "Results" {
		return stt.Transcript{}, false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      secs(w.Start),
			End:        secs(w.End),
			Confidence: w.Confidence,
		})
	}

	return stt.Transcript{
		Text:     alt.Transcript,
		Words:    words,
		Duration: secs(resp.Start + resp.Duration),
	}, resp.IsFinal, true
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
