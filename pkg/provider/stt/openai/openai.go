// Package openai provides an STT provider backed by the hosted OpenAI audio
// transcription endpoint (whisper-1, gpt-4o-transcribe) or any server that
// mirrors it, such as a local faster-whisper or LocalAI deployment.
//
// The endpoint is not streaming: a session buffers all PCM it receives and
// uploads a single WAV file when it is closed.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI audio transcription API.
type Provider struct {
	client   oai.Client
	model    string
	language string
	prompt   string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*providerConfig)

type providerConfig struct {
	baseURL    string
	language   string
	prompt     string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
}

// WithBaseURL points the provider at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) { c.baseURL = url }
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *providerConfig) { c.language = lang }
}

// WithPrompt sets a text prompt that biases recognition towards the given
// vocabulary and style.
func WithPrompt(prompt string) Option {
	return func(c *providerConfig) { c.prompt = prompt }
}

// WithTimeout bounds the upload and transcription of one recording.
// Defaults to two minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *providerConfig) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *providerConfig) { c.maxRetries = n }
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *providerConfig) { c.httpClient = hc }
}

// New creates a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := providerConfig{timeout: 2 * time.Minute, maxRetries: -1}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
		timeout:  cfg.timeout,
	}, nil
}

// StartStream opens a buffering session. Keywords from cfg are folded into the
// recognition prompt.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	format := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if format.SampleRate <= 0 {
		format.SampleRate = audio.SpeechFormat.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	// The API wants ISO-639-1 ("en"), not a full tag ("en-US").
	if i := strings.IndexByte(lang, '-'); i > 0 {
		lang = lang[:i]
	}

	s := &session{
		p:        p,
		ctx:      ctx,
		format:   format,
		language: lang,
		partials: make(chan stt.Transcript),
		finals:   make(chan stt.Transcript, 1),
	}
	s.setKeywords(cfg.Keywords)
	return s, nil
}

// transcribe uploads buf and returns the recognised text.
func (p *Provider) transcribe(ctx context.Context, buf audio.Buffer, language, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio.EncodeWAV(buf)), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	if language != "" {
		params.Language = oai.String(language)
	}
	if prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

type session struct {
	p        *Provider
	ctx      context.Context
	format   audio.Format
	language string

	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	pcm    []byte
	prompt string
	closed bool
	err    error
}

func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("openai stt: session is closed")
	}
	s.pcm = append(s.pcm, chunk...)
	return nil
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }
func (s *session) Finals() <-chan stt.Transcript   { return s.finals }

// SetKeywords replaces the prompt hint used for the upload.
func (s *session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.setKeywords(keywords)
	return nil
}

func (s *session) setKeywords(keywords []stt.KeywordBoost) {
	words := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k.Keyword != "" {
			words = append(words, k.Keyword)
		}
	}
	prompt := s.p.prompt
	if len(words) > 0 {
		prompt = strings.TrimSpace(prompt + " " + strings.Join(words, ", "))
	}
	s.mu.Lock()
	s.prompt = prompt
	s.mu.Unlock()
}

// Close uploads the buffered recording, emits at most one final and closes
// both channels.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pcm, prompt := s.pcm, s.prompt
	s.pcm = nil
	s.mu.Unlock()

	defer close(s.finals)
	defer close(s.partials)

	if len(pcm) == 0 {
		return nil
	}
	text, err := s.p.transcribe(s.ctx, audio.Buffer{Format: s.format, Data: pcm}, s.language, prompt)
	if err != nil {
		slog.Error("openai stt: transcription failed", "error", err, "audio_ms", audio.DurationMs(pcm, s.format))
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		return nil
	}
	if text != "" {
		s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: 1}
	}
	return nil
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
