package transcribe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Frame is one message from a live client: PCM audio in the service's
// [Service.Format], a keyword update, or both.
type Frame struct {
	PCM []byte

	// Keywords, when non-nil, replaces the extra terms for this stream. They
	// are sent to the provider as keyword boosts and added to the vocabulary
	// used to correct finals.
	Keywords []string
}

// Stream runs a live transcription session. Frames are read from in until it
// is closed or ctx is done; the session is then closed and its remaining
// finals are delivered. emit is called from a single goroutine with every
// partial and with every final after vocabulary correction.
func (s *Service) Stream(ctx context.Context, language string, in <-chan Frame, emit func(stt.Transcript)) error {
	if language == "" {
		language = s.language
	}
	log := observe.Logger(ctx)
	vocab := s.Vocabulary()

	h, err := s.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Language:   language,
		Keywords:   stt.Boost(vocab, keywordBoost),
	})
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.providerName, "stt")
		return fmt.Errorf("transcribe: start stream: %w", err)
	}
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	extra := make(chan []string, 1)

	var g errgroup.Group
	g.Go(func() error {
		defer h.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case f, ok := <-in:
				if !ok {
					return nil
				}
				if f.Keywords != nil {
					s.updateKeywords(ctx, h, vocab, f.Keywords)
					// Only the latest update matters to the reader.
					select {
					case <-extra:
					default:
					}
					extra <- f.Keywords
				}
				if len(f.PCM) == 0 {
					continue
				}
				if err := h.SendAudio(f.PCM); err != nil {
					return fmt.Errorf("send audio: %w", err)
				}
				s.metrics.AudioSeconds.Add(ctx, float64(audio.DurationMs(f.PCM, s.format))/1000)
			}
		}
	})

	partials, finals := h.Partials(), h.Finals()
	terms := vocab
	for finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			emit(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			select {
			case kw := <-extra:
				terms = mergeTerms(vocab, kw)
			default:
			}
			emit(s.correctFinal(ctx, t, terms))
		}
	}

	sendErr := g.Wait()
	if err := h.Err(); err != nil {
		s.metrics.RecordProviderError(ctx, s.providerName, "stt")
		return fmt.Errorf("transcribe: stream: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("transcribe: stream: %w", sendErr)
	}
	log.Debug("live stream finished")
	return nil
}

func (s *Service) updateKeywords(ctx context.Context, h stt.SessionHandle, vocab, kw []string) {
	err := h.SetKeywords(stt.Boost(mergeTerms(vocab, kw), keywordBoost))
	switch {
	case errors.Is(err, stt.ErrNotSupported):
		observe.Logger(ctx).Debug("provider ignores keyword boosts", "error", err)
	case err != nil:
		observe.Logger(ctx).Warn("set keywords failed", "error", err)
	}
}

// correctFinal runs t through the correction pipeline. On failure the
// uncorrected final is returned.
func (s *Service) correctFinal(ctx context.Context, t stt.Transcript, terms []string) stt.Transcript {
	if s.pipeline == nil || len(terms) == 0 {
		return t
	}
	c, err := s.pipeline.Correct(ctx, t, terms)
	if err != nil {
		observe.Logger(ctx).Warn("vocabulary correction failed", "error", err)
		return t
	}
	if c == nil {
		return t
	}
	t.Text = c.Corrected
	return t
}

// mergeTerms returns base followed by the entries of extra it lacks.
func mergeTerms(base, extra []string) []string {
	out := slices.Clone(base)
	for _, k := range extra {
		k = strings.TrimSpace(k)
		if k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
