package whisper

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"testing"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxscribe/pkg/audio"
)

func TestInferenceForm(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Format: audio.SpeechFormat, Data: make([]byte, 320)}
	body, contentType, err := inferenceForm(buf, "de", "")
	if err != nil {
		t.Fatalf("inferenceForm: %v", err)
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		t.Fatalf("content type %q: %v", contentType, err)
	}

	parts := map[string]string{}
	var wavLen int
	r := multipart.NewReader(body, params["boundary"])
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(part)
		if part.FormName() == "file" {
			wavLen = len(data)
			continue
		}
		parts[part.FormName()] = string(data)
	}

	if wavLen != 44+320 {
		t.Errorf("wav part = %d bytes, want a 44 byte header plus 320", wavLen)
	}
	if parts["response_format"] != "json" || parts["language"] != "de" {
		t.Errorf("fields = %v", parts)
	}
	if _, ok := parts["model"]; ok {
		t.Error("empty model should be left out")
	}
}

// segmentsOf yields texts as segments, then err.
func segmentsOf(err error, texts ...string) func() (whisperlib.Segment, error) {
	return func() (whisperlib.Segment, error) {
		if len(texts) == 0 {
			return whisperlib.Segment{}, err
		}
		seg := whisperlib.Segment{Text: texts[0]}
		texts = texts[1:]
		return seg, nil
	}
}

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	got, err := joinSegments(segmentsOf(io.EOF, " Hello", "  ", "world. "))
	if err != nil || got != "Hello world." {
		t.Errorf("joinSegments = %q, %v; want %q", got, err, "Hello world.")
	}

	if got, err := joinSegments(segmentsOf(io.EOF)); err != nil || got != "" {
		t.Errorf("no segments = %q, %v", got, err)
	}

	boom := errors.New("decoder failed")
	if _, err := joinSegments(segmentsOf(boom, "partial")); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
