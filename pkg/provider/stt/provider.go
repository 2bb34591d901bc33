// Package stt is the contract between voxscribe and its speech recognisers:
// whisper.cpp (server or in-process), Deepgram and the OpenAI transcription
// API.
//
// Every recogniser is driven through a [SessionHandle]. Raw 16-bit PCM goes
// in with SendAudio; recognised text comes back on two channels, Partials
// for the live view and Finals for the transcript itself. An uploaded
// recording is just a session that receives all audio at once, is marked
// [StreamConfig.Batch], and is closed straight away; Close flushes the
// backend and then closes both channels.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned for features a backend lacks, such as keyword
// boosting on whisper.cpp.
var ErrNotSupported = errors.New("stt: not supported by provider")

// Provider opens recognition sessions. Implementations must allow several
// sessions at once, one per upload or live stream.
type Provider interface {
	// StartStream opens a session ready for audio. It fails when the backend
	// cannot be reached, rejects cfg, or ctx is already done. The caller must
	// Close the returned handle.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// StreamConfig is the audio format and recognition hints of one session.
type StreamConfig struct {
	// SampleRate in Hz. Whisper models expect 16000.
	SampleRate int

	// Channels is 1 for mono. Backends may downmix.
	Channels int

	// Language is a BCP-47 tag such as "en-US". Empty asks the backend to
	// detect it.
	Language string

	// Keywords raise the odds of rare terms like product names.
	Keywords []KeywordBoost

	// Batch marks a complete recording. Backends that segment on silence
	// instead transcribe everything as one utterance on Close.
	Batch bool
}

// SessionHandle is one open recognition session. Its methods are safe for
// concurrent use.
type SessionHandle interface {
	// SendAudio queues PCM matching the session's StreamConfig. It fails
	// after Close.
	SendAudio(chunk []byte) error

	// Partials carries interim guesses, each superseded by later results.
	// Closed when the session ends.
	Partials() <-chan Transcript

	// Finals carries committed results in order. Joined, they are the
	// transcript. Closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords swaps the keyword list mid-session, or returns
	// [ErrNotSupported]. Audio already buffered may use the old list.
	SetKeywords(keywords []KeywordBoost) error

	// Close flushes pending audio and releases the session; both channels
	// are closed once it returns. Repeated calls return nil.
	Close() error

	// Err is the first error that lost audio, e.g. a failed inference
	// request. Read it after Finals is closed.
	Err() error
}

// Transcript is one recognised utterance, partial or final.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence is in [0, 1]; zero when the backend reports none.
	Confidence float64

	// Words is nil unless the backend reports word timings (Deepgram).
	Words []WordDetail

	// Timestamp is the utterance start relative to the session start.
	Timestamp time.Duration
	Duration  time.Duration
}

// WordDetail is the timing and confidence of a single recognised word.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a recognition hint. Boost uses the backend's own scale.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// Boost turns vocabulary terms into keyword hints with the same weight. It
// returns nil for an empty vocabulary.
func Boost(terms []string, weight float64) []KeywordBoost {
	if len(terms) == 0 {
		return nil
	}
	out := make([]KeywordBoost, len(terms))
	for i, t := range terms {
		out[i] = KeywordBoost{Keyword: t, Boost: weight}
	}
	return out
}
