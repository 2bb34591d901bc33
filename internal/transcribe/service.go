// Package transcribe turns a browser recording into text.
//
// A recording arrives in whatever container the browser produced. It is
// converted to 16 kHz mono PCM16, streamed to an STT provider in 20 ms
// frames, and the final segments are joined with a single space. When a
// vocabulary and a correction pipeline are configured, the joined text is run
// through vocabulary correction before it is returned.
//
// [Service.Stream] is the live counterpart used by the websocket endpoint: it
// forwards PCM frames as they arrive and emits partials and corrected finals.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/transcript"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// ErrNoAudio is returned when a request carries no audio or the recording
// decodes to zero samples.
var ErrNoAudio = errors.New("transcribe: no audio")

// frameMs is the size of the PCM chunks handed to the STT session.
const frameMs = 20

// keywordBoost is the boost sent for vocabulary terms to providers that
// support keyword hints.
const keywordBoost = 2.0

// Replayer is implemented by STT providers that can retry a complete
// recording against another backend when the first one fails mid-session,
// such as the resilience package's STT fallback.
type Replayer interface {
	Run(fn func(p stt.Provider) error) error
}

// Request is a single recording to transcribe.
type Request struct {
	// Audio is the raw upload: webm/opus, ogg, mp4, wav, ...
	Audio []byte

	// Language overrides the service default. Empty means auto-detect or the
	// default.
	Language string
}

// Segment is one final transcript emitted by the STT provider.
type Segment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of [Service.Transcribe].
type Result struct {
	// Text is the transcript after vocabulary correction.
	Text string

	// Raw is the joined provider output before correction.
	Raw string

	Segments    []Segment
	Corrections []transcript.Correction

	// Duration is the wall time spent converting, transcribing and correcting.
	Duration time.Duration

	// AudioDuration is the length of the converted recording.
	AudioDuration time.Duration
}

// Option configures a [Service].
type Option func(*Service)

// WithFormat sets the PCM format sent to the STT provider. Default:
// [audio.SpeechFormat].
func WithFormat(f audio.Format) Option {
	return func(s *Service) {
		if f.Valid() {
			s.format = f
		}
	}
}

// WithLanguage sets the default BCP-47 language passed to the provider.
func WithLanguage(lang string) Option {
	return func(s *Service) { s.language = lang }
}

// WithVocabulary sets the initial list of known terms.
func WithVocabulary(terms []string) Option {
	return func(s *Service) { s.vocabulary = slices.Clone(terms) }
}

// WithPipeline enables vocabulary correction of final transcripts.
func WithPipeline(p transcript.Pipeline) Option {
	return func(s *Service) { s.pipeline = p }
}

// WithMetrics sets the instruments used for conversion and STT latency.
// Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProviderName sets the provider label used in metrics. Default: "stt".
func WithProviderName(name string) Option {
	return func(s *Service) { s.providerName = name }
}

// Service converts recordings and transcribes them. It is safe for concurrent
// use; every call opens its own STT session.
type Service struct {
	converter    audio.Converter
	stt          stt.Provider
	pipeline     transcript.Pipeline
	metrics      *observe.Metrics
	format       audio.Format
	language     string
	providerName string

	mu         sync.RWMutex
	vocabulary []string
}

// New creates a Service. converter and provider are required.
func New(converter audio.Converter, provider stt.Provider, opts ...Option) (*Service, error) {
	if converter == nil {
		return nil, errors.New("transcribe: converter is required")
	}
	if provider == nil {
		return nil, errors.New("transcribe: stt provider is required")
	}
	s := &Service{
		converter:    converter,
		stt:          provider,
		format:       audio.SpeechFormat,
		providerName: "stt",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Format returns the PCM format the service feeds to the STT provider.
func (s *Service) Format() audio.Format { return s.format }

// Vocabulary returns a copy of the current known-terms list.
func (s *Service) Vocabulary() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.vocabulary)
}

// SetVocabulary replaces the known-terms list. Sessions that are already
// running keep the list they started with.
func (s *Service) SetVocabulary(terms []string) {
	s.mu.Lock()
	s.vocabulary = slices.Clone(terms)
	s.mu.Unlock()
}

// Transcribe converts req.Audio and returns its transcript.
func (s *Service) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, ErrNoAudio
	}
	ctx, span := observe.StartSpan(ctx, "transcribe.Transcribe")
	defer span.End()
	log := observe.Logger(ctx)
	start := time.Now()

	convStart := time.Now()
	buf, err := s.converter.Convert(ctx, req.Audio, s.format)
	s.metrics.ConversionDuration.Record(ctx, time.Since(convStart).Seconds())
	if errors.Is(err, audio.ErrEmptyAudio) {
		return Result{}, fmt.Errorf("%w: %w", ErrNoAudio, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: convert: %w", err)
	}
	if len(buf.Data) == 0 {
		return Result{}, ErrNoAudio
	}
	audioDur := buf.Duration()
	span.SetAttributes(attribute.Int64("audio_ms", audioDur.Milliseconds()))

	lang := req.Language
	if lang == "" {
		lang = s.language
	}
	vocab := s.Vocabulary()
	cfg := stt.StreamConfig{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.Channels,
		Language:   lang,
		Keywords:   stt.Boost(vocab, keywordBoost),
		Batch:      true,
	}

	var segments []Segment
	var words []stt.WordDetail
	recognize := func(p stt.Provider) error {
		var err error
		segments, words, err = s.recognize(ctx, p, cfg, buf)
		return err
	}

	sttStart := time.Now()
	if r, ok := s.stt.(Replayer); ok {
		err = r.Run(recognize)
	} else {
		err = recognize(s.stt)
	}
	s.metrics.RecordSTT(ctx, s.providerName, time.Since(sttStart), audioDur, err)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: stt: %w", err)
	}

	raw := JoinSegments(segments)
	res := Result{
		Text:          raw,
		Raw:           raw,
		Segments:      segments,
		Corrections:   []transcript.Correction{},
		AudioDuration: audioDur,
	}

	if s.pipeline != nil && len(vocab) > 0 && raw != "" {
		corrected, err := s.pipeline.Correct(ctx, stt.Transcript{
			Text:       raw,
			IsFinal:    true,
			Confidence: minConfidence(segments),
			Words:      words,
		}, vocab)
		switch {
		case err != nil:
			// The raw transcript is still worth returning.
			log.Warn("vocabulary correction failed", "error", err)
		case corrected != nil:
			res.Text = corrected.Corrected
			if corrected.Corrections != nil {
				res.Corrections = corrected.Corrections
			}
		}
	}

	res.Duration = time.Since(start)
	log.Info("recording transcribed",
		"audio_ms", audioDur.Milliseconds(),
		"segments", len(segments),
		"corrections", len(res.Corrections),
		"took", res.Duration,
	)
	return res, nil
}

// recognize streams buf through one STT session and collects its finals.
func (s *Service) recognize(ctx context.Context, p stt.Provider, cfg stt.StreamConfig, buf audio.Buffer) ([]Segment, []stt.WordDetail, error) {
	h, err := p.StartStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		segments []Segment
		words    []stt.WordDetail
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Close flushes the session and ends Finals, so it runs even when a
		// send fails.
		var sendErr error
		for _, chunk := range buf.Chunks(frameMs) {
			if gctx.Err() != nil {
				break
			}
			if sendErr = h.SendAudio(chunk); sendErr != nil {
				break
			}
		}
		closeErr := h.Close()
		if sendErr != nil {
			return fmt.Errorf("send audio: %w", sendErr)
		}
		if closeErr != nil {
			return fmt.Errorf("close session: %w", closeErr)
		}
		return nil
	})
	g.Go(func() error {
		finals := h.Finals()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case t, ok := <-finals:
				if !ok {
					return nil
				}
				text := strings.TrimSpace(t.Text)
				if text == "" {
					continue
				}
				segments = append(segments, Segment{Text: text, Confidence: t.Confidence})
				words = append(words, t.Words...)
			}
		}
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := h.Err(); err != nil {
		return nil, nil, err
	}
	return segments, words, nil
}

// JoinSegments joins the trimmed, non-empty segment texts with single spaces.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func minConfidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	m := segments[0].Confidence
	for _, seg := range segments[1:] {
		m = min(m, seg.Confidence)
	}
	return m
}
