package audio

import (
	"context"
	"errors"
	"log/slog"
)

// Converter turns a recorded audio file of any supported container into PCM16
// in the requested target format.
//
// Implementations must be safe for concurrent use.
type Converter interface {
	Convert(ctx context.Context, data []byte, target Format) (Buffer, error)
}

// Compile-time interface assertions.
var (
	_ Converter = NativeConverter{}
	_ Converter = (*FallbackConverter)(nil)
	_ Converter = (*FFmpegConverter)(nil)
)

// NativeConverter decodes WAV input in-process without spawning ffmpeg. Any
// other container yields [ErrUnsupportedFormat].
type NativeConverter struct{}

// Convert implements [Converter].
func (NativeConverter) Convert(ctx context.Context, data []byte, target Format) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return Buffer{}, err
	}
	if len(data) == 0 {
		return Buffer{}, ErrEmptyAudio
	}
	b, err := DecodeWAV(data)
	if err != nil {
		return Buffer{}, err
	}
	return Normalize(b, target), nil
}

// FallbackConverter tries Primary and falls back to Secondary when Primary
// reports [ErrUnsupportedFormat]. Other errors are returned as-is.
type FallbackConverter struct {
	Primary   Converter
	Secondary Converter
}

// NewFallbackConverter returns a converter that decodes WAV natively and hands
// everything else to secondary, usually an [FFmpegConverter].
func NewFallbackConverter(secondary Converter) *FallbackConverter {
	return &FallbackConverter{Primary: NativeConverter{}, Secondary: secondary}
}

// Convert implements [Converter].
func (c *FallbackConverter) Convert(ctx context.Context, data []byte, target Format) (Buffer, error) {
	b, err := c.Primary.Convert(ctx, data, target)
	if err == nil || !errors.Is(err, ErrUnsupportedFormat) || c.Secondary == nil {
		return b, err
	}
	slog.Debug("audio: primary converter declined input, falling back", "error", err, "bytes", len(data))
	return c.Secondary.Convert(ctx, data, target)
}
