package transcript

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/voxscribe/internal/transcript/llmcorrect"
	"github.com/MrWong99/voxscribe/internal/transcript/phonetic"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

const (
	defaultLLMConfidenceThreshold = 0.5
)

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithPhoneticMatcher attaches a [PhoneticMatcher] as the first correction
// stage. When nil (the default), the phonetic stage is skipped entirely.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.phonetic = m
	}
}

// WithLLMCorrector attaches an [llmcorrect.Corrector] as the second correction
// stage. When nil (the default), the LLM stage is skipped entirely.
func WithLLMCorrector(c *llmcorrect.Corrector) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.llmCorrector = c
	}
}

// WithLLMOnLowConfidence sets the STT word-confidence threshold below which a
// word is flagged as a low-confidence span and passed to the LLM corrector
// (when one is configured). Default: 0.5.
//
// Words with [stt.WordDetail.Confidence] below this value that were NOT
// already corrected by the phonetic stage are submitted to the LLM for review.
// Transcripts without per-word data are always submitted when the LLM
// corrector is configured.
func WithLLMOnLowConfidence(threshold float64) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.llmThreshold = threshold
	}
}

// CorrectionPipeline is the two-stage transcript correction implementation of
// [Pipeline]. Stages are optional and are applied in order:
//
//  1. [PhoneticMatcher]: in-process phonetic vocabulary alignment.
//  2. [llmcorrect.Corrector]: LLM-assisted correction for low-confidence spans.
//
// CorrectionPipeline is safe for concurrent use.
type CorrectionPipeline struct {
	phonetic     PhoneticMatcher
	llmCorrector *llmcorrect.Corrector
	llmThreshold float64
}

var _ Pipeline = (*CorrectionPipeline)(nil)

// NewPipeline constructs a [CorrectionPipeline] with the supplied options.
// By default both stages are disabled; use [WithPhoneticMatcher] and
// [WithLLMCorrector] to activate them.
func NewPipeline(opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{
		llmThreshold: defaultLLMConfidenceThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct applies the configured correction stages to t and returns a
// [CorrectedTranscript].
//
// Pipeline flow:
//  1. The transcript text is split into whitespace-separated tokens.
//  2. When a [PhoneticMatcher] is configured, n-gram windows (from the longest
//     vocabulary term's word count down to one word) are tested at every
//     position and the longest match wins.
//  3. Words carrying a confidence below the LLM threshold that the phonetic
//     stage did not touch are collected as low-confidence spans.
//  4. When an [llmcorrect.Corrector] is configured and at least one span
//     exists (or no per-word data is available), the LLM corrector rewrites
//     the phonetic-corrected text.
//
// An empty vocabulary disables both stages and returns the text unchanged.
func (p *CorrectionPipeline) Correct(
	ctx context.Context,
	t stt.Transcript,
	vocabulary []string,
) (*CorrectedTranscript, error) {
	result := &CorrectedTranscript{
		Original:    t,
		Corrected:   t.Text,
		Corrections: []Correction{},
	}
	if len(vocabulary) == 0 || strings.TrimSpace(t.Text) == "" {
		return result, nil
	}

	// Stage 1: phonetic matching.
	workingText := t.Text
	var phoneticCorrections []Correction
	if p.phonetic != nil {
		workingText, phoneticCorrections = p.applyPhonetic(t.Text, vocabulary)
	}

	touched := make(map[string]struct{}, len(phoneticCorrections))
	for _, c := range phoneticCorrections {
		for _, w := range strings.Fields(c.Original) {
			touched[normalizeWord(w)] = struct{}{}
		}
	}

	// Stage 2: LLM correction.
	var llmCorrections []Correction
	if p.llmCorrector != nil {
		spans := p.collectLowConfidenceSpans(t.Words, touched)
		if len(t.Words) == 0 || len(spans) > 0 {
			correctedText, raw, err := p.llmCorrector.Correct(ctx, workingText, vocabulary, spans)
			if err != nil {
				return nil, err
			}
			workingText = correctedText
			for _, rc := range raw {
				llmCorrections = append(llmCorrections, Correction{
					Original:   rc.Original,
					Corrected:  rc.Corrected,
					Confidence: rc.Confidence,
					Method:     MethodLLM,
				})
			}
		}
	}

	result.Corrected = workingText
	result.Corrections = append(result.Corrections, phoneticCorrections...)
	result.Corrections = append(result.Corrections, llmCorrections...)
	return result, nil
}

// applyPhonetic runs the phonetic stage over text and returns the corrected
// text and the corrections applied. Leading and trailing punctuation of a
// window is kept around the substituted term.
func (p *CorrectionPipeline) applyPhonetic(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var matchFn func(string) (string, float64, bool)
	var maxWords int
	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		v := phonetic.Prepare(vocabulary)
		maxWords = v.MaxWords()
		matchFn = func(window string) (string, float64, bool) {
			return pm.MatchPrepared(window, v)
		}
	} else {
		maxWords = maxWordCount(vocabulary)
		matchFn = func(window string) (string, float64, bool) {
			return p.phonetic.Match(window, vocabulary)
		}
	}
	if maxWords == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction
	changed := false

	for i := 0; i < len(tokens); {
		m, ok := longestMatch(tokens[i:], maxWords, matchFn)
		// A neighbouring word glued onto the window can still score well
		// ("on snow park"); leave the leading word alone when the window
		// without it is at least as good a match for the same term.
		if ok && m.n > 1 {
			if next, found := matchWindow(tokens[i+1:i+m.n], matchFn); found && next.term == m.term && next.conf >= m.conf {
				ok = false
			}
		}
		if !ok {
			output = append(output, tokens[i])
			i++
			continue
		}
		if m.term == m.core {
			output = append(output, tokens[i:i+m.n]...)
		} else {
			output = append(output, m.prefix+m.term+m.suffix)
			corrections = append(corrections, Correction{
				Original:   m.core,
				Corrected:  m.term,
				Confidence: m.conf,
				Method:     MethodPhonetic,
			})
			changed = true
		}
		i += m.n
	}

	if !changed {
		return text, nil
	}
	return strings.Join(output, " "), corrections
}

type windowMatch struct {
	n                    int
	prefix, core, suffix string
	term                 string
	conf                 float64
}

func matchWindow(window []string, matchFn func(string) (string, float64, bool)) (windowMatch, bool) {
	prefix, core, suffix := splitPunct(window)
	if core == "" {
		return windowMatch{}, false
	}
	term, conf, ok := matchFn(core)
	if !ok {
		return windowMatch{}, false
	}
	return windowMatch{n: len(window), prefix: prefix, core: core, suffix: suffix, term: term, conf: conf}, true
}

// longestMatch tries windows at the start of tokens from maxWords+1 words
// down to one. Terms are often heard split into one more word than they have
// ("snow park"). Trailing words are dropped from the longest match while the
// shorter window matches the same term at least as well.
func longestMatch(tokens []string, maxWords int, matchFn func(string) (string, float64, bool)) (windowMatch, bool) {
	var best windowMatch
	found := false
	for n := min(maxWords+1, len(tokens)); n >= 1; n-- {
		m, ok := matchWindow(tokens[:n], matchFn)
		if !ok {
			continue
		}
		if !found {
			best, found = m, true
			continue
		}
		if m.term != best.term {
			break
		}
		if m.conf >= best.conf {
			best = m
		}
	}
	return best, found
}

// splitPunct joins window into a phrase and separates punctuation at its
// outer edges. Punctuation inside the phrase stays part of core.
func splitPunct(window []string) (prefix, core, suffix string) {
	joined := strings.Join(window, " ")
	start := strings.IndexFunc(joined, isWordRune)
	if start < 0 {
		return "", "", joined
	}
	end := strings.LastIndexFunc(joined, isWordRune)
	_, size := utf8.DecodeRuneInString(joined[end:])
	end += size
	return joined[:start], joined[start:end], joined[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// normalizeWord lowercases w and strips surrounding punctuation.
func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool { return !isWordRune(r) }))
}

// collectLowConfidenceSpans returns the words whose STT confidence is below
// the configured threshold and that the phonetic stage did not touch.
func (p *CorrectionPipeline) collectLowConfidenceSpans(
	words []stt.WordDetail,
	alreadyCorrected map[string]struct{},
) []string {
	var spans []string
	for _, wd := range words {
		if _, corrected := alreadyCorrected[normalizeWord(wd.Word)]; corrected {
			continue
		}
		if wd.Confidence < p.llmThreshold {
			spans = append(spans, wd.Word)
		}
	}
	return spans
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any vocabulary term, or 0 when no term has words.
func maxWordCount(vocabulary []string) int {
	n := 0
	for _, v := range vocabulary {
		n = max(n, len(strings.Fields(v)))
	}
	return n
}
