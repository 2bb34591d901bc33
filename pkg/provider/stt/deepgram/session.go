package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// drainTimeout bounds how long Close waits for Deepgram to send its last
// results and hang up.
const drainTimeout = 10 * time.Second

var (
	errClosed = errors.New("deepgram: session is closed")

	closeStream = []byte(`{"type":"CloseStream"}`)
)

// results is the subset of a Deepgram "Results" message the session uses.
type results struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// decodeResults turns a server message into a transcript. Metadata, speech
// events and anything unparsable report false.
func decodeResults(msg []byte) (stt.Transcript, bool) {
	var r results
	if json.Unmarshal(msg, &r) != nil || r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	best := r.Channel.Alternatives[0]
	tr := stt.Transcript{
		Text:       best.Transcript,
		IsFinal:    r.IsFinal,
		Confidence: best.Confidence,
		Words:      make([]stt.WordDetail, len(best.Words)),
	}
	for i, w := range best.Words {
		tr.Words[i] = stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		}
	}
	return tr, true
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// session is one live websocket stream. A sender goroutine forwards queued
// audio and a receiver goroutine routes results to the two channels.
type session struct {
	conn *websocket.Conn
	log  *slog.Logger

	outgoing chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	closing      chan struct{}
	receiverDone chan struct{}
	closeOnce    sync.Once
	group        errgroup.Group

	mu  sync.Mutex
	err error
}

var _ stt.SessionHandle = (*session)(nil)

func newSession(ctx context.Context, conn *websocket.Conn, log *slog.Logger) *session {
	s := &session{
		conn:         conn,
		log:          log,
		outgoing:     make(chan []byte, 256),
		partials:     make(chan stt.Transcript, 64),
		finals:       make(chan stt.Transcript, 64),
		closing:      make(chan struct{}),
		receiverDone: make(chan struct{}),
	}
	s.group.Go(func() error { return s.record(s.send(ctx)) })
	s.group.Go(func() error { return s.record(s.receive(ctx)) })
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.closing:
		return errClosed
	default:
	}
	select {
	case s.outgoing <- chunk:
		return nil
	case <-s.closing:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords is unsupported: boosts travel in the listen URL.
func (s *session) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("deepgram: update keywords mid-stream: %w", stt.ErrNotSupported)
}

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *session) record(err error) error {
	if err != nil {
		s.mu.Lock()
		if s.err == nil {
			s.err = err
		}
		s.mu.Unlock()
	}
	return err
}

// Close flushes the queued audio, sends CloseStream and waits until Deepgram
// has delivered its last results and closed the socket. A server that never
// hangs up is dropped after drainTimeout.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		stopped := make(chan struct{})
		go func() {
			_ = s.group.Wait()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(drainTimeout):
			s.log.Warn("deepgram: server did not close the stream, dropping connection")
		}
		s.conn.Close(websocket.StatusNormalClosure, "")
		<-stopped
	})
	return nil
}

func (s *session) send(ctx context.Context) error {
	for {
		select {
		case chunk := <-s.outgoing:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return fmt.Errorf("deepgram: send audio: %w", err)
			}
		case <-s.receiverDone:
			return nil
		case <-s.closing:
			s.flush(ctx)
			return nil
		}
	}
}

// flush writes whatever audio is still queued, then asks Deepgram to finish.
func (s *session) flush(ctx context.Context) {
	for {
		select {
		case chunk := <-s.outgoing:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.log.Debug("deepgram: flush audio", "error", err)
				return
			}
		default:
			if err := s.conn.Write(ctx, websocket.MessageText, closeStream); err != nil {
				s.log.Debug("deepgram: send CloseStream", "error", err)
			}
			return
		}
	}
}

// receive runs until the socket closes. A normal close after CloseStream is
// the expected end of every session.
func (s *session) receive(ctx context.Context) error {
	defer close(s.receiverDone)
	defer close(s.finals)
	defer close(s.partials)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("deepgram: receive: %w", err)
		}

		tr, ok := decodeResults(msg)
		switch {
		case !ok:
		case tr.IsFinal && tr.Text != "":
			select {
			case s.finals <- tr:
			case <-ctx.Done():
				return nil
			}
		case !tr.IsFinal:
			// Dropped when nobody keeps up; finals must never wait on them.
			select {
			case s.partials <- tr:
			default:
			}
		}
	}
}
