// Package phonetic implements the [transcript.PhoneticMatcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the input and for each vocabulary term. If any code from
//     the input overlaps with any code from a term, the term becomes a
//     phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity (case-insensitive) is selected when its
//     score reaches the phonetic threshold. Without a phonetic candidate, a
//     second pass accepts pure Jaro-Winkler similarity above the stricter
//     fuzzy threshold (default 0.85).
//
// Multi-word terms (e.g., "Snowpark Container Services") are supported: the
// matcher compares the full phrases, their space-stripped forms and, when the
// word counts agree, the words position by position.
//
// Inputs much shorter than a term never match it, so "snow" is not turned
// into "Snowflake".
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinLengthRatio    = 0.6
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinLengthRatio sets the minimum ratio between the shorter and the longer
// of input and term, compared without spaces. Default: 0.6.
func WithMinLengthRatio(ratio float64) Option {
	return func(m *Matcher) {
		m.minLengthRatio = ratio
	}
}

// Matcher is a phonetic vocabulary matcher. It implements
// [transcript.PhoneticMatcher] and is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLengthRatio    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLengthRatio:    defaultMinLengthRatio,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// preparedTerm caches everything about a vocabulary term that does not depend
// on the input word.
type preparedTerm struct {
	term   string
	lower  string
	tokens []string
	joined string
	codes  map[string]struct{}
}

// Vocabulary is a vocabulary list with precomputed phonetic codes. Build it
// once with [Prepare] and reuse it for every window of a transcript.
type Vocabulary struct {
	terms    []preparedTerm
	maxWords int
}

// Prepare precomputes phonetic data for terms. Blank terms are dropped.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{terms: make([]preparedTerm, 0, len(terms))}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, preparedTerm{
			term:   strings.TrimSpace(t),
			lower:  lower,
			tokens: tokens,
			joined: strings.Join(tokens, ""),
			codes:  codesForTokens(tokens),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// MaxWords returns the word count of the longest term, or 0 for an empty
// vocabulary.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Len returns the number of usable terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Match finds the vocabulary term most phonetically similar to word.
//
// word may be a single word or a space-separated phrase (n-gram). Return
// values follow the [transcript.PhoneticMatcher] contract: when matched is
// false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, Prepare(terms))
}

// MatchPrepared is [Matcher.Match] against a precomputed [Vocabulary].
func (m *Matcher) MatchPrepared(word string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	if v == nil || len(v.terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)
	wordJoined := strings.Join(wordTokens, "")

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, t := range v.terms {
		if lengthRatio(wordJoined, t.joined) < m.minLengthRatio {
			continue
		}
		phoneticMatch := codesOverlap(inputCodes, t.codes)
		jw := bestJWScore(wordTokens, t.tokens, wordLower, t.lower, wordJoined, t.joined)

		if phoneticMatch {
			if jw >= m.phoneticThreshold && (!best.phonetic || jw > best.score) {
				best = candidate{term: t.term, score: jw, phonetic: true}
			}
		} else if !best.phonetic && jw >= m.fuzzyThreshold && jw > best.score {
			best = candidate{term: t.term, score: jw}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity between input and term
// over three comparisons:
//
//  1. the full strings ("snow park" vs "snowpark");
//  2. the space-stripped strings, when either side has several words;
//  3. the mean of position-wise word scores, when both sides have the same
//     number of words.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull, inputJoined, termJoined string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(inputJoined, termJoined, false); s > score {
			score = s
		}
	}

	if n := len(inputTokens); n > 1 && n == len(termTokens) {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], termTokens[i], false)
		}
		if s := sum / float64(n); s > score {
			score = s
		}
	}
	return score
}

// lengthRatio returns len(shorter)/len(longer) in runes, or 0 when either is
// empty.
func lengthRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}
