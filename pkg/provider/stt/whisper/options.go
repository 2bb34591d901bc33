package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// settings are the knobs shared by [Provider] and [NativeProvider]. model
// and httpClient only matter for the server-backed provider.
type settings struct {
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	log                 *slog.Logger

	serverModel string
	httpClient  *http.Client
}

func newSettings(opts []Option) settings {
	s := settings{
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		log:                 slog.Default(),
		httpClient:          &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// Option configures either whisper provider.
type Option func(*settings)

// WithLanguage sets the default recognition language ("en", "de", "auto").
// A stream's own Language wins. Default "auto" lets whisper detect it.
func WithLanguage(lang string) Option {
	return func(s *settings) { s.language = lang }
}

// WithSampleRate is the rate assumed for streams that leave it unset.
// Default 16000.
func WithSampleRate(rate int) Option {
	return func(s *settings) { s.sampleRate = rate }
}

// WithSilenceThresholdMs is how much trailing silence ends an utterance in a
// live stream. Default 500.
func WithSilenceThresholdMs(ms int) Option {
	return func(s *settings) { s.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs forces a flush once this much audio is buffered,
// silence or not. Default 10000.
func WithMaxBufferDurationMs(ms int) Option {
	return func(s *settings) { s.maxBufferDurationMs = ms }
}

// WithLogger replaces slog.Default for inference diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithModel names the model the whisper server should use ("base.en").
// Empty keeps the model the server was started with.
func WithModel(model string) Option {
	return func(s *settings) { s.serverModel = model }
}

// WithHTTPClient replaces the client used to reach the whisper server.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// open starts a segmenting session for cfg. infer receives the session's
// language and resolved PCM format.
func (s settings) open(ctx context.Context, cfg stt.StreamConfig, infer func(lang string, format audio.Format) (inferFunc, error)) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = s.language
	}
	format := resolveFormat(cfg, s.sampleRate)
	fn, err := infer(lang, format)
	if err != nil {
		return nil, err
	}
	seg := newSegmenter(format, s.silenceThresholdMs, s.maxBufferDurationMs, cfg.Batch)
	return startSession(ctx, seg, fn, s.log), nil
}
