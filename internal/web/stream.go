package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/internal/transcribe"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// wsReadLimit bounds a single client message. PCM frames are far smaller.
const wsReadLimit = 1 << 20

// wsFrameBuffer is how many client frames may queue ahead of the STT session.
const wsFrameBuffer = 32

// clientMessage is a text frame from the browser.
type clientMessage struct {
	Type     string   `json:"type"`
	Keywords []string `json:"keywords,omitempty"`
}

// serverMessage is sent for every transcript and once when the stream ends.
type serverMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Message types.
const (
	msgPartial  = "partial"
	msgFinal    = "final"
	msgDone     = "done"
	msgError    = "error"
	msgKeywords = "keywords"
	msgStop     = "stop"
)

// handleStream runs a live transcription over a websocket. The client sends
// binary PCM16 frames in the transcriber's format and text frames
// {"type":"keywords","keywords":[...]} or {"type":"stop"}. The server sends
// {"type":"partial"|"final","text":...,"confidence":...} as transcripts
// arrive, then {"type":"done","text":<all finals>} and closes. The joined
// finals become the session's raw transcript.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.loadSession(w, r)
	lang := strings.TrimSpace(r.URL.Query().Get("language"))

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.origins),
	})
	if err != nil {
		observe.Logger(r.Context()).Debug("websocket accept failed", "error", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx)

	in := make(chan transcribe.Frame, wsFrameBuffer)
	var wg sync.WaitGroup
	wg.Go(func() {
		defer close(in)
		readFrames(ctx, c, in)
	})

	var finals []string
	emit := func(t stt.Transcript) {
		typ := msgPartial
		if t.IsFinal {
			typ = msgFinal
			finals = append(finals, strings.TrimSpace(t.Text))
		}
		if err := writeMessage(ctx, c, serverMessage{Type: typ, Text: t.Text, Confidence: t.Confidence}); err != nil {
			log.Debug("websocket write failed", "error", err)
			cancel()
		}
	}

	streamErr := s.transcriber.Stream(ctx, lang, in, emit)
	text := strings.Join(finals, " ")
	if text != "" {
		sess.SetRaw(text, s.now())
		if lang != "" {
			sess.Language = lang
		}
		s.saveSession(r, sess)
	}

	if streamErr != nil {
		log.Warn("live transcription failed", "error", streamErr)
		_ = writeMessage(ctx, c, serverMessage{Type: msgError, Error: streamErr.Error()})
		c.Close(websocket.StatusInternalError, "transcription failed")
	} else {
		_ = writeMessage(ctx, c, serverMessage{Type: msgDone, Text: text})
		c.Close(websocket.StatusNormalClosure, "")
	}
	cancel()
	wg.Wait()
}

// readFrames forwards client messages to in until the client sends stop,
// the connection fails or ctx is done.
func readFrames(ctx context.Context, c *websocket.Conn, in chan<- transcribe.Frame) {
	log := observe.Logger(ctx)
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Debug("websocket read failed", "error", err)
			}
			return
		}

		var f transcribe.Frame
		switch typ {
		case websocket.MessageBinary:
			if len(data) == 0 {
				continue
			}
			f.PCM = data
		case websocket.MessageText:
			var m clientMessage
			if err := json.Unmarshal(data, &m); err != nil {
				log.Debug("ignoring malformed client message", "error", err)
				continue
			}
			switch m.Type {
			case msgStop:
				return
			case msgKeywords:
				f.Keywords = m.Keywords
				if f.Keywords == nil {
					f.Keywords = []string{}
				}
			default:
				continue
			}
		}

		select {
		case in <- f:
		case <-ctx.Done():
			return
		}
	}
}

func writeMessage(ctx context.Context, c *websocket.Conn, m serverMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}

// originPatterns turns CORS origins into the host patterns the websocket
// library matches against the Origin header.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
