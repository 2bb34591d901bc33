// Package llmcorrect is the language-model stage of vocabulary correction.
// It catches misspellings the phonetic matcher missed.
//
// The model receives the transcript and the vocabulary and must reply with
// JSON: the corrected text plus the substitutions it made. Every difference
// between input and output is checked against those declared substitutions
// and anything undeclared is reverted, so the model cannot rephrase what the
// user said. A reply that cannot be parsed leaves the text unchanged.
package llmcorrect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	llm "github.com/MrWong99/voxscribe/pkg/provider/llm"
)

// Correction is one substitution the model declared and that survived
// verification.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Default 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) { c.temperature = temp }
}

// WithMaxTokens caps the reply length. Default 1024.
func WithMaxTokens(n int) Option {
	return func(c *Corrector) { c.maxTokens = n }
}

// WithLogger sets where discarded replies are reported.
func WithLogger(l *slog.Logger) Option {
	return func(c *Corrector) { c.log = l }
}

// Corrector is safe for concurrent use.
type Corrector struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
	log         *slog.Logger
}

// New returns a Corrector asking provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{llm: provider, temperature: 0.1, maxTokens: 1024, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Correct fixes misheard vocabulary terms in text. doubtful lists words the
// recogniser was unsure of; they are pointed out to the model.
//
// Only provider errors, cancellation included, are returned. Text that
// would overflow the model's context, an empty reply and an unparsable
// reply all yield text unchanged.
func (c *Corrector) Correct(ctx context.Context, text string, vocabulary, doubtful []string) (string, []Correction, error) {
	if len(vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt(vocabulary),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userMessage(text, doubtful)}},
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	}
	if err := llm.CheckFits(c.llm, req); err != nil {
		c.log.Debug("llm corrector: transcript too long, skipping", "error", err)
		return text, nil, nil
	}

	resp, err := c.llm.Complete(ctx, req)
	switch {
	case err != nil:
		return text, nil, fmt.Errorf("llm corrector: complete: %w", err)
	case resp == nil:
		return text, nil, nil
	}

	corrected, declared, err := decodeReply(resp.Content, text)
	if err != nil {
		c.log.Warn("llm corrector: discarding reply", "error", err)
		return text, nil, nil
	}
	out, applied := verifyCorrectedText(text, corrected, declared)
	return out, applied, nil
}
