// Package mock provides a scripted [stt.Provider] for tests.
//
// By default every StartStream hands out a fresh batch-style [Session]: it
// records the audio it is sent and, on Close, emits Script as finals and
// closes both channels, as a whisper backend does for an upload.
//
//	p := &mock.Provider{Script: []stt.Transcript{{Text: "hello", IsFinal: true}}}
//
// Set Provider.Session to return one hand-driven session instead.
package mock

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall is one recorded StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider records StartStream calls and returns scripted sessions.
type Provider struct {
	mu sync.Mutex

	// Session, when set, is returned by every StartStream call.
	Session stt.SessionHandle

	// Script and SessionErr seed each default session's finals and Err.
	Script     []stt.Transcript
	SessionErr error

	// StartStreamErr fails every StartStream call.
	StartStreamErr error

	StartStreamCalls []StartStreamCall

	// Sessions lists the default sessions handed out, oldest first.
	Sessions []*Session
}

func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	}
	sess := NewBatchSession(p.Script, p.SessionErr)
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// StartStreamCallCount reports how often StartStream was called.
func (p *Provider) StartStreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// LastSession returns the newest default session, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// SetKeywordsCall is one recorded SetKeywords invocation.
type SetKeywordsCall struct {
	Keywords []stt.KeywordBoost
}

// Session is a recording [stt.SessionHandle]. Tests that drive the channels
// themselves create PartialsCh and FinalsCh and leave AutoClose false.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	// ErrValue is what Err returns.
	ErrValue error

	// SendAudioErr fails every SendAudio call after recording the chunk.
	SendAudioErr error

	// AutoClose makes the first Close close PartialsCh, send Script on
	// FinalsCh in the background and then close it.
	AutoClose bool
	Script    []stt.Transcript

	SetKeywordsCalls []SetKeywordsCall
	CloseCallCount   int

	audio  bytes.Buffer
	chunks int
}

// NewBatchSession returns an AutoClose session that emits script on Close
// and then reports err.
func NewBatchSession(script []stt.Transcript, err error) *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
		Script:     slices.Clone(script),
		AutoClose:  true,
		ErrValue:   err,
	}
}

func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio.Write(chunk)
	s.chunks++
	return s.SendAudioErr
}

// SendAudioCallCount reports how many chunks were sent.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// Audio returns every byte sent so far, concatenated.
func (s *Session) Audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.audio.Bytes())
}

func (s *Session) Partials() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

func (s *Session) Finals() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetKeywordsCalls = append(s.SetKeywordsCalls, SetKeywordsCall{Keywords: slices.Clone(keywords)})
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.AutoClose || s.CloseCallCount > 1 {
		return nil
	}
	if s.PartialsCh != nil {
		close(s.PartialsCh)
	}
	if finals, script := s.FinalsCh, s.Script; finals != nil {
		go func() {
			for _, t := range script {
				finals <- t
			}
			close(finals)
		}()
	}
	return nil
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ErrValue
}
