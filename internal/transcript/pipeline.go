// Package transcript fixes domain terms that speech models mishear, such as
// "snow park" for "Snowpark", against a configured vocabulary.
//
// Correction runs in two stages. A [PhoneticMatcher] aligns transcript words
// to vocabulary terms by pronunciation, in process. Spans it leaves doubtful
// can then go to an LLM, which sees the whole vocabulary and may also leave
// the text alone. Every applied substitution is reported as a [Correction],
// so the UI can show what changed and why.
package transcript

import (
	"context"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// Correction methods.
const (
	MethodPhonetic = "phonetic"
	MethodLLM      = "llm"
)

// Correction is one substitution. Confidence is in [0, 1]; above 0.9 is
// treated as certain, below 0.5 as a guess.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// CorrectedTranscript is the result of [Pipeline.Correct]. Corrections is
// never nil; it is empty when the text needed no change, in which case
// Corrected equals Original.Text.
type CorrectedTranscript struct {
	Original    stt.Transcript
	Corrected   string
	Corrections []Correction
}

// Pipeline corrects a transcript against vocabulary, the canonical
// spellings of product names and acronyms. Implementations are safe for
// concurrent use.
type Pipeline interface {
	Correct(ctx context.Context, transcript stt.Transcript, vocabulary []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher maps a word or short phrase to the vocabulary term that
// sounds most alike. Without a match it returns word, 0 and false; each
// implementation picks its own similarity cut-off. Implementations are safe
// for concurrent use.
type PhoneticMatcher interface {
	Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool)
}
