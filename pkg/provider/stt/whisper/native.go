// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider transcribes in-process with a ggml model loaded once and
// shared by all sessions. [WithModel] and [WithHTTPClient] have no effect.
type NativeProvider struct {
	model whisperlib.Model
	settings
}

// NewNative loads the model at modelPath. Close the provider to free it.
func NewNative(modelPath string, opts ...Option) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeProvider{model: model, settings: newSettings(opts)}, nil
}

// Close frees the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// StartStream implements [stt.Provider]. The model only accepts 16 kHz
// audio; other rates are rejected here rather than resampled.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return p.open(ctx, cfg, func(lang string, format audio.Format) (inferFunc, error) {
		if format.SampleRate != whisperlib.SampleRate {
			return nil, fmt.Errorf("whisper: native model needs %d Hz audio, stream is %s", whisperlib.SampleRate, format)
		}
		return func(ctx context.Context, pcm []byte) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return p.infer(audio.Float32Mono(pcm, format.Channels), lang)
		}, nil
	})
}

// newContext returns a fresh whisper context per clip; contexts must not be
// shared between goroutines. A language the model rejects is logged and the
// model default used instead.
func (p *NativeProvider) newContext(language string) (whisperlib.Context, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: new context: %w", err)
	}
	wctx.SetTranslate(false)
	if language == "" {
		return wctx, nil
	}
	if err := wctx.SetLanguage(language); err != nil {
		p.log.Warn("whisper: language not supported by model", "language", language, "error", err)
	}
	return wctx, nil
}

func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	wctx, err := p.newContext(language)
	if err != nil {
		return "", err
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process %d samples: %w", len(samples), err)
	}
	return joinSegments(wctx.NextSegment)
}

// joinSegments reads segments until io.EOF and joins their non-blank texts
// with single spaces.
func joinSegments(next func() (whisperlib.Segment, error)) (string, error) {
	var b strings.Builder
	for {
		seg, err := next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("whisper: next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
