package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

const (
	// silenceRMS is the 16-bit PCM energy below which a chunk counts as
	// silence. Full scale is 32767.
	silenceRMS = 300.0

	defaultLanguage            = "auto"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	// finalInferTimeout bounds the last inference of a session. It runs on a
	// detached context because the caller's may already be done.
	finalInferTimeout = 60 * time.Second
)

var errSessionClosed = errors.New("whisper: session is closed")

// inferFunc turns one utterance of PCM audio into text.
type inferFunc func(ctx context.Context, pcm []byte) (string, error)

// segmenter cuts a PCM stream into utterances. In live mode an utterance
// ends after enough trailing silence or when the buffer reaches its cap;
// leading silence is dropped. In batch mode everything is kept until flush.
// A segmenter is not safe for concurrent use.
type segmenter struct {
	format     audio.Format
	silenceMs  int
	maxBytes   int
	threshold  float64
	batch      bool
	buf        []byte
	speech     bool
	trailingMs int
}

func newSegmenter(format audio.Format, silenceMs, maxMs int, batch bool) *segmenter {
	perMs := format.BytesPerSecond() / 1000
	if perMs <= 0 {
		perMs = 32
	}
	return &segmenter{
		format:    format,
		silenceMs: silenceMs,
		maxBytes:  maxMs * perMs,
		threshold: silenceRMS,
		batch:     batch,
	}
}

// push adds a chunk and returns a finished utterance, or nil.
func (g *segmenter) push(chunk []byte) []byte {
	if g.batch {
		g.buf = append(g.buf, chunk...)
		return nil
	}
	if audio.RMS(chunk) < g.threshold {
		if !g.speech {
			return nil
		}
		g.buf = append(g.buf, chunk...)
		g.trailingMs += audio.DurationMs(chunk, g.format)
		if g.trailingMs >= g.silenceMs {
			return g.flush()
		}
		return nil
	}
	g.speech = true
	g.trailingMs = 0
	g.buf = append(g.buf, chunk...)
	if g.maxBytes > 0 && len(g.buf) >= g.maxBytes {
		return g.flush()
	}
	return nil
}

// flush returns the buffered utterance and resets the segmenter. Buffers
// without speech yield nil, except in batch mode.
func (g *segmenter) flush() []byte {
	pcm, keep := g.buf, g.speech || g.batch
	g.buf, g.speech, g.trailingMs = nil, false, 0
	if !keep || len(pcm) == 0 {
		return nil
	}
	return pcm
}

// session feeds queued audio through a segmenter on its own goroutine and
// transcribes each utterance as it completes.
type session struct {
	seg   *segmenter
	infer inferFunc
	log   *slog.Logger

	queue    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

var _ stt.SessionHandle = (*session)(nil)

func startSession(ctx context.Context, seg *segmenter, infer inferFunc, log *slog.Logger) *session {
	s := &session{
		seg:      seg,
		infer:    infer,
		log:      log,
		queue:    make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// SendAudio queues 16-bit little-endian PCM in the stream's format.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return errSessionClosed
	default:
	}
	select {
	case s.queue <- chunk:
		return nil
	case <-s.closing:
		return errSessionClosed
	}
}

// Partials carries each utterance's text once, just before its final.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords always fails; whisper.cpp has no keyword boosting.
func (s *session) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("whisper: keyword boosting: %w", stt.ErrNotSupported)
}

// Close transcribes what is still buffered, then closes both channels. It
// is safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() { close(s.closing) })
	<-s.stopped
	return nil
}

// Err returns the first inference error.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) run(ctx context.Context) {
	defer close(s.stopped)
	defer close(s.finals)
	defer close(s.partials)

	finish := func() {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalInferTimeout)
		defer cancel()
		s.transcribe(fctx, s.seg.flush())
	}

	for {
		select {
		case chunk := <-s.queue:
			s.transcribe(ctx, s.seg.push(chunk))
		case <-ctx.Done():
			finish()
			return
		case <-s.closing:
			s.drain(ctx)
			finish()
			return
		}
	}
}

// drain segments audio queued before Close.
func (s *session) drain(ctx context.Context) {
	for {
		select {
		case chunk := <-s.queue:
			s.transcribe(ctx, s.seg.push(chunk))
		default:
			return
		}
	}
}

// transcribe runs inference on pcm and publishes the text. Delivery of the
// final gives up when ctx ends.
func (s *session) transcribe(ctx context.Context, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	ms := audio.DurationMs(pcm, s.seg.format)
	start := time.Now()
	text, err := s.infer(ctx, pcm)
	if err != nil {
		s.log.Error("whisper: inference failed", "error", err, "audio_ms", ms)
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
		return
	}
	s.log.Debug("whisper: utterance transcribed", "audio_ms", ms, "took", time.Since(start), "chars", len(text))
	if text == "" {
		return
	}

	select {
	case s.partials <- stt.Transcript{Text: text}:
	default:
	}
	select {
	case s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: 1}:
	case <-ctx.Done():
	}
}

// resolveFormat fills unset stream fields with the provider defaults.
func resolveFormat(cfg stt.StreamConfig, defaultRate int) audio.Format {
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = defaultRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	return f
}
