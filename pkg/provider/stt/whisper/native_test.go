package whisper_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
	"github.com/MrWong99/voxscribe/pkg/provider/stt/whisper"
)

// newNative loads the ggml model named by WHISPER_MODEL_PATH and skips the
// test when it is unset.
func newNative(t *testing.T, opts ...whisper.Option) *whisper.NativeProvider {
	t.Helper()
	path := os.Getenv("WHISPER_MODEL_PATH")
	if path == "" {
		t.Skip("WHISPER_MODEL_PATH not set")
	}
	p, err := whisper.NewNative(path, opts...)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewNative_BadPath(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/ggml-base.en.bin"} {
		if _, err := whisper.NewNative(path); err == nil {
			t.Errorf("NewNative(%q) succeeded", path)
		}
	}
}

func TestNative_StartStreamRejects(t *testing.T) {
	p := newNative(t)

	if _, err := p.StartStream(t.Context(), stt.StreamConfig{SampleRate: 44100, Channels: 1}); err == nil {
		t.Error("44.1 kHz stream accepted")
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1}); err == nil {
		t.Error("cancelled context accepted")
	}
}

func TestNative_Session(t *testing.T) {
	p := newNative(t, whisper.WithSilenceThresholdMs(50))

	tests := []struct {
		name  string
		batch bool
		audio []byte
	}{
		{"silence only", false, silence(1000)},
		// A pure tone yields no words, but inference must succeed.
		{"batch tone", true, speech(1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := p.StartStream(t.Context(), stt.StreamConfig{SampleRate: 16000, Channels: 1, Batch: tt.batch})
			if err != nil {
				t.Fatalf("StartStream: %v", err)
			}
			if err := h.SetKeywords(nil); !errors.Is(err, stt.ErrNotSupported) {
				t.Errorf("SetKeywords = %v, want ErrNotSupported", err)
			}
			_ = h.SendAudio(tt.audio)
			_ = h.Close()
			for tr := range h.Finals() {
				if tt.name == "silence only" {
					t.Errorf("transcript for silence: %q", tr.Text)
				}
			}
			if err := h.Err(); err != nil {
				t.Errorf("Err() = %v", err)
			}
			if err := h.SendAudio(speech(10)); err == nil {
				t.Error("SendAudio after Close should fail")
			}
		})
	}
}
