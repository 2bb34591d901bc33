// Package audio holds the PCM plumbing between a browser recording and a
// speech-to-text provider: buffer and format types, a RIFF/WAV codec, channel
// and sample-rate conversion, and [Converter] implementations that turn
// arbitrary recorded containers (webm/opus, ogg, mp4, wav) into 16-bit
// little-endian PCM.
//
// All PCM in this package is signed 16-bit little-endian and interleaved when
// more than one channel is present.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// bytesPerSample is fixed at 2 for 16-bit PCM.
const bytesPerSample = 2

var (
	// ErrEmptyAudio is returned when a recording or conversion yields no samples.
	ErrEmptyAudio = errors.New("audio: no audio samples")

	// ErrUnsupportedFormat is returned when input bytes cannot be decoded by the
	// converter that received them.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the 16 kHz mono format whisper models are trained on.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

// Valid reports whether both the sample rate and the channel count are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// BytesPerSecond returns the PCM16 byte rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// String returns e.g. "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Buffer is a block of PCM16 audio in a known format.
type Buffer struct {
	Format Format

	// Data is interleaved little-endian int16 PCM.
	Data []byte
}

// Duration returns the playback length of b.
func (b Buffer) Duration() time.Duration {
	bps := b.Format.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(len(b.Data)) * int64(time.Second) / int64(bps))
}

// Chunks splits b.Data into frames of at most frameMs milliseconds each,
// aligned to whole sample frames. The returned slices alias b.Data.
func (b Buffer) Chunks(frameMs int) [][]byte {
	if len(b.Data) == 0 {
		return nil
	}
	align := b.Format.Channels * bytesPerSample
	size := b.Format.BytesPerSecond() * frameMs / 1000
	if align <= 0 || size <= 0 {
		return [][]byte{b.Data}
	}
	size -= size % align
	if size == 0 {
		size = align
	}
	out := make([][]byte, 0, len(b.Data)/size+1)
	for off := 0; off < len(b.Data); off += size {
		end := min(off+size, len(b.Data))
		out = append(out, b.Data[off:end])
	}
	return out
}
