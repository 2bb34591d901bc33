// Package cleanup turns raw ASR output into readable text with a single LLM
// pass: spelling, grammar, punctuation and sentence breaks are fixed while the
// meaning stays the same.
//
// Unlike the vocabulary corrector in the parent package, the refiner trusts
// the model's rewrite as a whole. The result is shown next to the raw
// transcript, never instead of it.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/provider/llm"
)

// DefaultPrompt is the system prompt used when none is configured.
const DefaultPrompt = "You are a transcription post-processor. " +
	"You receive raw automatic speech recognition (ASR) output. " +
	"Your job is to:\n" +
	"- fix spelling and grammar\n" +
	"- add punctuation and sentence breaks\n" +
	"- keep the meaning unchanged\n" +
	"Return only the cleaned text, no explanations."

// ErrEmptyResponse is returned when the model answers with nothing usable.
var ErrEmptyResponse = errors.New("cleanup: empty or invalid response")

// Option configures a [Refiner].
type Option func(*Refiner)

// WithPrompt replaces [DefaultPrompt]. An empty prompt keeps the default.
func WithPrompt(prompt string) Option {
	return func(r *Refiner) {
		if strings.TrimSpace(prompt) != "" {
			r.prompt = prompt
		}
	}
}

// WithTemperature sets the sampling temperature. The provider default
// applies when unset.
func WithTemperature(t float64) Option {
	return func(r *Refiner) { r.temperature = t }
}

// WithMetrics records LLM latency and outcomes under the "cleanup" task.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Refiner) { r.metrics = m }
}

// Refiner sends raw transcripts to an LLM for cleanup. It is safe for
// concurrent use; the prompt may be swapped while requests are in flight.
type Refiner struct {
	llm         llm.Provider
	temperature float64
	metrics     *observe.Metrics

	mu     sync.RWMutex
	prompt string
}

// New creates a Refiner backed by provider.
func New(provider llm.Provider, opts ...Option) (*Refiner, error) {
	if provider == nil {
		return nil, errors.New("cleanup: llm provider is required")
	}
	r := &Refiner{llm: provider, prompt: DefaultPrompt}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Prompt returns the system prompt currently in use.
func (r *Refiner) Prompt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prompt
}

// SetPrompt swaps the system prompt. An empty prompt restores [DefaultPrompt].
func (r *Refiner) SetPrompt(prompt string) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	r.mu.Lock()
	r.prompt = prompt
	r.mu.Unlock()
}

// Refine returns the cleaned version of raw, trimmed of surrounding
// whitespace. Whitespace-only input returns "" without calling the model, and
// a transcript too long for the model's context fails with
// [llm.ErrContextOverflow] before any request is sent.
func (r *Refiner) Refine(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}

	ctx, span := observe.StartSpan(ctx, "cleanup.Refine")
	defer span.End()

	req := llm.CompletionRequest{
		SystemPrompt: r.Prompt(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: raw}},
		Temperature:  r.temperature,
	}
	if err := llm.CheckFits(r.llm, req); err != nil {
		return "", fmt.Errorf("cleanup: %w", err)
	}

	start := time.Now()
	resp, err := r.llm.Complete(ctx, req)
	if r.metrics != nil {
		r.metrics.RecordLLM(ctx, "cleanup", time.Since(start), err)
	}
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return "", fmt.Errorf("%w: %w", ErrEmptyResponse, err)
		}
		return "", fmt.Errorf("cleanup: llm call failed: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyResponse
	}

	refined := strings.TrimSpace(resp.Content)
	if refined == "" {
		return "", ErrEmptyResponse
	}
	observe.Logger(ctx).Debug("transcript refined",
		"raw_chars", len(raw),
		"refined_chars", len(refined),
	)
	return refined, nil
}
