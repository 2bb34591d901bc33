// Package faq answers questions about a single topic, grounded on a Markdown
// FAQ document that is embedded in the system prompt.
//
// The agent never returns an error from [Agent.Answer]: provider failures and
// empty completions are turned into user-facing sentences, because the answer
// is rendered verbatim in the browser.
package faq

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/voxscribe/internal/observe"
	"github.com/MrWong99/voxscribe/pkg/provider/llm"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "Snowflake"

// Fallback answers.
const (
	NoAnswer       = "I apologize, but I couldn't generate a response. Please try again."
	TooLong        = "Your question is too long for me to answer. Please shorten it."
	serviceErrorFm = "Error communicating with the AI service: %v"
)

// LoadFAQ reads the FAQ document at path. A missing file yields "" so the
// agent still works from the model's own knowledge.
func LoadFAQ(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("faq: read %q: %w", path, err)
	}
	return string(b), nil
}

// SystemPrompt renders the agent instructions for topic around the FAQ
// content.
func SystemPrompt(topic, content string) string {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful %s expert assistant. ", topic)
	fmt.Fprintf(&b, "Your role is to answer questions about %s concepts, features, and terminology.\n\n", topic)
	fmt.Fprintf(&b, "You have access to the following %s FAQ knowledge base:\n\n", topic)
	b.WriteString("---\n")
	b.WriteString(content)
	b.WriteString("\n---\n\n")
	b.WriteString("Instructions:\n")
	b.WriteString("1. Answer questions based on the FAQ content above.\n")
	b.WriteString("2. If the question relates to a topic in the FAQ, provide a clear and concise answer.\n")
	fmt.Fprintf(&b, "3. If the question is about %s but not covered in the FAQ, provide your best knowledge but mention that it may not be in the official glossary.\n", topic)
	fmt.Fprintf(&b, "4. If the question is not related to %s at all, politely redirect the user to ask %s-related questions.\n", topic, topic)
	b.WriteString("5. Be conversational and helpful.\n")
	b.WriteString("6. When relevant, mention related concepts the user might want to learn about.\n")
	return b.String()
}

// Option configures an [Agent].
type Option func(*Agent)

// WithMetrics records LLM latency and outcomes under the "faq" task.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// Agent answers questions using an LLM and a fixed system prompt.
type Agent struct {
	llm     llm.Provider
	topic   string
	prompt  string
	metrics *observe.Metrics
}

// NewAgent creates an Agent. An empty topic defaults to [DefaultTopic]. It
// fails when the rendered system prompt alone exceeds the model's context.
func NewAgent(provider llm.Provider, content, topic string, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("faq: llm provider is required")
	}
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	a := &Agent{
		llm:    provider,
		topic:  topic,
		prompt: SystemPrompt(topic, content),
	}
	for _, o := range opts {
		o(a)
	}
	if err := llm.CheckFits(provider, llm.CompletionRequest{SystemPrompt: a.prompt}); err != nil {
		return nil, fmt.Errorf("faq: FAQ document does not fit the model: %w", err)
	}
	return a, nil
}

// Topic returns the subject the agent answers about.
func (a *Agent) Topic() string { return a.topic }

// Answer returns the model's trimmed answer to question.
func (a *Agent) Answer(ctx context.Context, question string) string {
	ctx, span := observe.StartSpan(ctx, "faq.Answer")
	defer span.End()

	req := llm.CompletionRequest{
		SystemPrompt: a.prompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: question}},
	}
	if err := llm.CheckFits(a.llm, req); errors.Is(err, llm.ErrContextOverflow) {
		return TooLong
	}

	start := time.Now()
	resp, err := a.llm.Complete(ctx, req)
	if a.metrics != nil {
		a.metrics.RecordLLM(ctx, "faq", time.Since(start), err)
	}

	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		return NoAnswer
	case err != nil:
		observe.Logger(ctx).Warn("faq answer failed", "error", err)
		return fmt.Sprintf(serviceErrorFm, err)
	case resp == nil:
		return NoAnswer
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return NoAnswer
	}
	return answer
}
