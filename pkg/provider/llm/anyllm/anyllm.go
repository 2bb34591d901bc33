// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// so transcript cleanup and FAQ answering can run against Anthropic, Gemini,
// a local Ollama or llama.cpp server, and the other backends it supports.
//
//	p, err := anyllm.New("ollama", "llama3.1")
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/voxscribe/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type backendFunc func(opts ...anyllmlib.Option) (anyllmlib.Provider, error)

func backend[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) backendFunc {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

var backends = map[string]backendFunc{
	"openai":    backend(anyllmoai.New),
	"anthropic": backend(anthropic.New),
	"gemini":    backend(gemini.New),
	"ollama":    backend(ollama.New),
	"deepseek":  backend(deepseek.New),
	"mistral":   backend(mistral.New),
	"groq":      backend(groq.New),
	"llamacpp":  backend(llamacpp.New),
	"llamafile": backend(llamafile.New),
}

// Backends returns the backend names accepted by [New], sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider sends completions through one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for the named backend. opts are any-llm-go options
// such as anyllmlib.WithAPIKey or anyllmlib.WithBaseURL; without an API key
// the backend reads its usual environment variable (ANTHROPIC_API_KEY, ...).
func New(backendName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	create, ok := backends[strings.ToLower(backendName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s",
			backendName, strings.Join(Backends(), ", "))
	}
	b, err := create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Provider{backend: b, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %w", llm.ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResponse{
		Content:      choice.Message.ContentString(),
		FinishReason: string(choice.FinishReason),
	}
	if resp.Usage != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	conv := req.Conversation()
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, len(conv)),
	}
	for i, m := range conv {
		params.Messages[i] = anyllmlib.Message{Role: m.Role, Content: m.Content}
	}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}

// modelCapabilities guesses limits from the model family. Locally served
// Llama, Mistral and Qwen models usually run with a small context.
func modelCapabilities(model string) llm.ModelCapabilities {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return llm.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}
	case strings.HasPrefix(m, "gemini-1.5-pro"):
		return llm.ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}
	case strings.HasPrefix(m, "gemini"):
		return llm.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}
	case strings.HasPrefix(m, "gpt-4o"):
		return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}
	case strings.HasPrefix(m, "gpt-3.5-turbo"):
		return llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}
	case strings.HasPrefix(m, "llama"), strings.HasPrefix(m, "mistral"), strings.HasPrefix(m, "qwen"):
		return llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}
