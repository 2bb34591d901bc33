package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultFFmpegPath    = "ffmpeg"
	defaultFFmpegTimeout = 60 * time.Second

	// maxStderr bounds how much ffmpeg diagnostic output is kept for errors.
	maxStderr = 4 << 10
)

// FFmpegOption is a functional option for [NewFFmpeg].
type FFmpegOption func(*FFmpegConverter)

// WithFFmpegPath sets the ffmpeg binary. Defaults to "ffmpeg" resolved via PATH.
func WithFFmpegPath(path string) FFmpegOption {
	return func(c *FFmpegConverter) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFFmpegTimeout bounds a single conversion. Defaults to 60s.
func WithFFmpegTimeout(d time.Duration) FFmpegOption {
	return func(c *FFmpegConverter) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// FFmpegConverter pipes recorded audio through an external ffmpeg process and
// reads raw PCM16 back from its stdout. Input containers are probed by ffmpeg
// itself, so anything a browser MediaRecorder emits is accepted.
type FFmpegConverter struct {
	path    string
	timeout time.Duration
}

// NewFFmpeg creates an FFmpegConverter. The binary is not resolved until the
// first conversion; call [FFmpegConverter.LookPath] for an early check.
func NewFFmpeg(opts ...FFmpegOption) *FFmpegConverter {
	c := &FFmpegConverter{path: defaultFFmpegPath, timeout: defaultFFmpegTimeout}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Path returns the configured ffmpeg binary.
func (c *FFmpegConverter) Path() string { return c.path }

// LookPath resolves the ffmpeg binary and returns its absolute location.
func (c *FFmpegConverter) LookPath() (string, error) {
	p, err := exec.LookPath(c.path)
	if err != nil {
		return "", fmt.Errorf("audio: ffmpeg not found at %q: %w", c.path, err)
	}
	return p, nil
}

// Args returns the ffmpeg argument list for converting stdin to raw PCM16 in
// the target format on stdout.
func (c *FFmpegConverter) Args(target Format) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "pipe:0",
		"-vn",
		"-ar", strconv.Itoa(target.SampleRate),
		"-ac", strconv.Itoa(target.Channels),
		"-f", "s16le", "-acodec", "pcm_s16le",
		"pipe:1",
	}
}

// Convert implements [Converter]. A non-zero ffmpeg exit is reported together
// with the tail of its stderr output.
func (c *FFmpegConverter) Convert(ctx context.Context, data []byte, target Format) (Buffer, error) {
	if len(data) == 0 {
		return Buffer{}, ErrEmptyAudio
	}
	if !target.Valid() {
		return Buffer{}, fmt.Errorf("audio: invalid target format %s", target)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, c.Args(target)...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: maxStderr}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Buffer{}, fmt.Errorf("audio: ffmpeg: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return Buffer{}, fmt.Errorf("%w: ffmpeg exited with code %d: %s", ErrUnsupportedFormat, exitErr.ExitCode(), msg)
		}
		return Buffer{}, fmt.Errorf("audio: run ffmpeg: %w", err)
	}

	pcm := stdout.Bytes()
	pcm = pcm[:len(pcm)-len(pcm)%(target.Channels*bytesPerSample)]
	if len(pcm) == 0 {
		return Buffer{}, ErrEmptyAudio
	}
	return Buffer{Format: target, Data: pcm}, nil
}

// limitedWriter keeps at most limit bytes and silently discards the rest so a
// chatty ffmpeg cannot grow memory without bound.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
