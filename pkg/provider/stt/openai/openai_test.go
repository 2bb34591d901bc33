package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

type upload struct {
	path   string
	fields map[string]string
	file   []byte
	name   string
}

type transcriptionServer struct {
	mu      sync.Mutex
	uploads []upload
	text    string
	status  int
}

func (s *transcriptionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	up := upload{path: r.URL.Path, fields: map[string]string{}}
	for k, v := range r.MultipartForm.Value {
		up.fields[k] = v[0]
	}
	if f, hdr, err := r.FormFile("file"); err == nil {
		up.file, _ = io.ReadAll(f)
		up.name = hdr.Filename
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	status := s.status
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"bad audio","type":"invalid_request_error"}}`)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"text": s.text})
}

func newTestProvider(t *testing.T, srv *transcriptionServer, opts ...Option) *Provider {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	p, err := New("sk-test", "", append([]Option{WithBaseURL(ts.URL + "/v1"), WithMaxRetries(0)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSession_UploadsOneWAVOnClose(t *testing.T) {
	t.Parallel()
	srv := &transcriptionServer{text: " Hello from the recorder. "}
	p := newTestProvider(t, srv, WithPrompt("Snowflake FAQ."))

	h, err := p.StartStream(context.Background(), stt.StreamConfig{
		SampleRate: 16000, Channels: 1, Language: "en-US",
		Keywords: []stt.KeywordBoost{{Keyword: "Snowpark"}, {Keyword: "Cortex"}},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.SendAudio(make([]byte, 640))
	_ = h.SendAudio(make([]byte, 640))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var texts []string
	for tr := range h.Finals() {
		texts = append(texts, tr.Text)
	}
	if len(texts) != 1 || texts[0] != "Hello from the recorder." {
		t.Fatalf("finals = %q", texts)
	}
	if _, open := <-h.Partials(); open {
		t.Error("partials should be closed")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(srv.uploads))
	}
	up := srv.uploads[0]
	if !strings.HasSuffix(up.path, "/audio/transcriptions") {
		t.Errorf("path = %q", up.path)
	}
	if up.fields["model"] != DefaultModel || up.fields["language"] != "en" {
		t.Errorf("fields = %v", up.fields)
	}
	if up.fields["prompt"] != "Snowflake FAQ. Snowpark, Cortex" {
		t.Errorf("prompt = %q", up.fields["prompt"])
	}
	buf, err := audio.DecodeWAV(up.file)
	if err != nil {
		t.Fatalf("uploaded file is not WAV: %v", err)
	}
	if buf.Format != audio.SpeechFormat || len(buf.Data) != 1280 {
		t.Errorf("uploaded %v with %d bytes", buf.Format, len(buf.Data))
	}
}

func TestSession_ErrorIsReported(t *testing.T) {
	t.Parallel()
	srv := &transcriptionServer{status: http.StatusBadRequest}
	p := newTestProvider(t, srv)

	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	_ = h.SendAudio(make([]byte, 320))
	_ = h.Close()
	for range h.Finals() {
		t.Error("unexpected final")
	}
	if h.Err() == nil {
		t.Fatal("Err() = nil, want upload error")
	}
}

func TestSession_EmptyRecordingSkipsUpload(t *testing.T) {
	t.Parallel()
	srv := &transcriptionServer{text: "x"}
	p := newTestProvider(t, srv)

	h, _ := p.StartStream(context.Background(), stt.StreamConfig{})
	_ = h.Close()
	_ = h.Close()
	for range h.Finals() {
	}
	if err := h.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if len(srv.uploads) != 0 {
		t.Errorf("uploads = %d, want 0", len(srv.uploads))
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
