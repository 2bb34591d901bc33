package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/pkg/audio"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxscribe/pkg/provider/stt/mock"
)

func dialStream(t *testing.T, srv *Server, query string) (*websocket.Conn, *http.Response) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	c, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/stream"+query, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.CloseNow() })
	return c, resp
}

// readUntilClose collects server messages until the connection closes.
func readUntilClose(t *testing.T, c *websocket.Conn) []serverMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msgs []serverMessage
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return msgs
		}
		var m serverMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad server message %q: %v", data, err)
		}
		msgs = append(msgs, m)
	}
}

func TestStream_TranscribesAndStoresSession(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Script: []stt.Transcript{
		{Text: "hello", IsFinal: true, Confidence: 0.9},
		{Text: "world", IsFinal: true, Confidence: 0.7},
	}}
	svc, err := transcribe.New(audio.NativeConverter{}, p,
		transcribe.WithMetrics(testMetrics(t)),
		transcribe.WithVocabulary([]string{"Snowflake"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	srv, store := newTestServer(t, svc)
	c, resp := dialStream(t, srv, "?language=en")

	var cookie *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == CookieName {
			cookie = ck
		}
	}
	if cookie == nil {
		t.Fatal("upgrade response has no session cookie")
	}

	ctx := context.Background()
	if err := c.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"keywords","keywords":["Cortex"]}`)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, websocket.MessageText, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatal(err)
	}

	msgs := readUntilClose(t, c)
	if len(msgs) != 3 {
		t.Fatalf("messages = %+v, want 2 finals and done", msgs)
	}
	if msgs[0].Type != msgFinal || msgs[0].Text != "hello" || msgs[0].Confidence != 0.9 {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[1].Type != msgFinal || msgs[1].Text != "world" {
		t.Errorf("second = %+v", msgs[1])
	}
	if msgs[2].Type != msgDone || msgs[2].Text != "hello world" {
		t.Errorf("last = %+v", msgs[2])
	}

	sess := p.LastSession()
	if sess.SendAudioCallCount() != 2 {
		t.Errorf("SendAudio calls = %d, want 2", sess.SendAudioCallCount())
	}
	if len(sess.SetKeywordsCalls) != 1 {
		t.Errorf("SetKeywords calls = %d, want 1", len(sess.SetKeywordsCalls))
	}
	if cfg := p.StartStreamCalls[0].Cfg; cfg.Language != "en" || cfg.Batch {
		t.Errorf("StreamConfig = %+v", cfg)
	}

	stored, err := store.Get(ctx, cookie.Value)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if stored.RawTranscript != "hello world" || stored.Language != "en" {
		t.Errorf("stored session = %+v", stored)
	}
}

func TestStream_ProviderErrorIsReported(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{StartStreamErr: context.DeadlineExceeded}
	svc, err := transcribe.New(audio.NativeConverter{}, p, transcribe.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, svc)
	c, _ := dialStream(t, srv, "")

	msgs := readUntilClose(t, c)
	if len(msgs) != 1 || msgs[0].Type != msgError || msgs[0].Error == "" {
		t.Errorf("messages = %+v, want one error", msgs)
	}
}
