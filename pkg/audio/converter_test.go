package audio_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg and returns its path.
func fakeFFmpeg(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func TestNativeConverter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	stereo := audio.Buffer{
		Format: audio.Format{SampleRate: 32000, Channels: 2},
		Data:   samplesToBytes([]int16{100, 300, 100, 300, 100, 300, 100, 300}),
	}
	out, err := audio.NativeConverter{}.Convert(ctx, audio.EncodeWAV(stereo), audio.SpeechFormat)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out.Format != audio.SpeechFormat {
		t.Errorf("format = %v, want %v", out.Format, audio.SpeechFormat)
	}
	equalSamples(t, bytesToSamples(out.Data), []int16{200, 200})

	if _, err := (audio.NativeConverter{}).Convert(ctx, []byte("\x1aE\xdf\xa3webm"), audio.SpeechFormat); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("webm input: err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := (audio.NativeConverter{}).Convert(ctx, nil, audio.SpeechFormat); !errors.Is(err, audio.ErrEmptyAudio) {
		t.Errorf("empty input: err = %v, want ErrEmptyAudio", err)
	}
}

func TestFFmpegConverter_Args(t *testing.T) {
	t.Parallel()
	args := audio.NewFFmpeg().Args(audio.SpeechFormat)
	joined := strings.Join(args, " ")
	for _, want := range []string{"-i pipe:0", "-ar 16000", "-ac 1", "-f s16le", "-acodec pcm_s16le"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("last arg = %q, want pipe:1", args[len(args)-1])
	}
}

func TestFFmpegConverter_Convert(t *testing.T) {
	t.Parallel()
	// cat echoes stdin, so the "converted" PCM equals the input bytes.
	conv := audio.NewFFmpeg(audio.WithFFmpegPath(fakeFFmpeg(t, "cat")))

	in := samplesToBytes([]int16{1, 2, 3})
	out, err := conv.Convert(context.Background(), append(in, 0xFF), audio.SpeechFormat)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if out.Format != audio.SpeechFormat {
		t.Errorf("format = %v", out.Format)
	}
	// The odd trailing byte is dropped.
	if !slices.Equal(bytesToSamples(out.Data), []int16{1, 2, 3}) {
		t.Errorf("samples = %v", bytesToSamples(out.Data))
	}
}

func TestFFmpegConverter_Failure(t *testing.T) {
	t.Parallel()
	conv := audio.NewFFmpeg(audio.WithFFmpegPath(fakeFFmpeg(t, "echo 'pipe:0: Invalid data found when processing input' >&2; exit 1")))

	_, err := conv.Convert(context.Background(), []byte("garbage"), audio.SpeechFormat)
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Errorf("error %q should include ffmpeg stderr", err)
	}
}

func TestFFmpegConverter_EmptyOutput(t *testing.T) {
	t.Parallel()
	conv := audio.NewFFmpeg(audio.WithFFmpegPath(fakeFFmpeg(t, "cat >/dev/null")))
	if _, err := conv.Convert(context.Background(), []byte("x"), audio.SpeechFormat); !errors.Is(err, audio.ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestFFmpegConverter_Timeout(t *testing.T) {
	t.Parallel()
	conv := audio.NewFFmpeg(
		audio.WithFFmpegPath(fakeFFmpeg(t, "exec sleep 5")),
		audio.WithFFmpegTimeout(50*time.Millisecond),
	)
	_, err := conv.Convert(context.Background(), []byte("x"), audio.SpeechFormat)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestFFmpegConverter_LookPath(t *testing.T) {
	t.Parallel()
	if _, err := audio.NewFFmpeg(audio.WithFFmpegPath("/nonexistent/ffmpeg-binary")).LookPath(); err == nil {
		t.Error("expected LookPath to fail for a missing binary")
	}
}

type stubConverter struct {
	calls int
	buf   audio.Buffer
	err   error
}

func (s *stubConverter) Convert(context.Context, []byte, audio.Format) (audio.Buffer, error) {
	s.calls++
	return s.buf, s.err
}

func TestFallbackConverter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("wav handled natively", func(t *testing.T) {
		t.Parallel()
		sec := &stubConverter{}
		conv := audio.NewFallbackConverter(sec)
		wav := audio.EncodeWAV(audio.Buffer{Format: audio.SpeechFormat, Data: samplesToBytes([]int16{9})})
		if _, err := conv.Convert(ctx, wav, audio.SpeechFormat); err != nil {
			t.Fatalf("Convert: %v", err)
		}
		if sec.calls != 0 {
			t.Errorf("secondary called %d times, want 0", sec.calls)
		}
	})

	t.Run("other containers go to secondary", func(t *testing.T) {
		t.Parallel()
		sec := &stubConverter{buf: audio.Buffer{Format: audio.SpeechFormat, Data: []byte{1, 0}}}
		conv := audio.NewFallbackConverter(sec)
		out, err := conv.Convert(ctx, []byte("OggS...."), audio.SpeechFormat)
		if err != nil {
			t.Fatalf("Convert: %v", err)
		}
		if sec.calls != 1 || len(out.Data) != 2 {
			t.Errorf("calls = %d, data = %v", sec.calls, out.Data)
		}
	})

	t.Run("empty wav is not retried", func(t *testing.T) {
		t.Parallel()
		sec := &stubConverter{}
		conv := audio.NewFallbackConverter(sec)
		_, err := conv.Convert(ctx, audio.EncodeWAV(audio.Buffer{Format: audio.SpeechFormat}), audio.SpeechFormat)
		if !errors.Is(err, audio.ErrEmptyAudio) {
			t.Errorf("err = %v, want ErrEmptyAudio", err)
		}
		if sec.calls != 0 {
			t.Errorf("secondary called %d times, want 0", sec.calls)
		}
	})
}
