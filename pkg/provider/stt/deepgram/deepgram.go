// Package deepgram streams audio to Deepgram's live transcription API over a
// websocket and implements stt.Provider.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// DefaultEndpoint is Deepgram's hosted live transcription endpoint.
const DefaultEndpoint = "wss://api.deepgram.com/v1/listen"

const (
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel selects the Deepgram model, for example "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language. A language in the
// stt.StreamConfig wins over it.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the sample rate used when the stream config has none.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpoint points the provider at another listen endpoint, such as a
// self-hosted deployment or a test server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithLogger sets the logger for session events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider implements stt.Provider on top of Deepgram streaming.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	log        *slog.Logger
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   DefaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns the live session. Keyword boosts are
// sent as query parameters, so they are fixed for the session's lifetime.
// Deepgram finalises on its own, so cfg.Batch needs no special handling.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	target, err := p.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: endpoint %q: %w", p.endpoint, err)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": {"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return newSession(ctx, conn, p.log), nil
}

// listenURL adds the stream parameters to the endpoint's query string.
func (p *Provider) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	language := orDefault(cfg.Language, p.language)
	rate := p.sampleRate
	if cfg.SampleRate > 0 {
		rate = cfg.SampleRate
	}

	q := u.Query()
	for key, value := range map[string]string{
		"model":           p.model,
		"language":        language,
		"encoding":        "linear16",
		"sample_rate":     strconv.Itoa(rate),
		"punctuate":       "true",
		"interim_results": "true",
	} {
		q.Set(key, value)
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'g', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func orDefault(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
