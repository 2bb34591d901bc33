// Package openai talks to any OpenAI-compatible chat completions endpoint.
// [NewCerebras] points it at the Cerebras inference cloud.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/voxscribe/pkg/provider/llm"
)

const (
	// CerebrasBaseURL is the OpenAI-compatible endpoint of the Cerebras cloud.
	CerebrasBaseURL = "https://api.cerebras.ai/v1"

	// CerebrasDefaultModel is used by [NewCerebras] when no model is given.
	CerebrasDefaultModel = "llama-3.3-70b"
)

var _ llm.Provider = (*Provider)(nil)

// Provider completes chat requests against one model.
type Provider struct {
	client oai.Client
	model  string
}

// Option adjusts the SDK client built by [New].
type Option func(*[]option.RequestOption)

func request(o option.RequestOption) Option {
	return func(opts *[]option.RequestOption) { *opts = append(*opts, o) }
}

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) Option { return request(option.WithBaseURL(url)) }

// WithOrganization sends an OpenAI organization ID with every request.
func WithOrganization(org string) Option { return request(option.WithOrganization(org)) }

// WithMaxRetries limits SDK retries. Zero disables them.
func WithMaxRetries(n int) Option { return request(option.WithMaxRetries(n)) }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return request(option.WithHTTPClient(hc)) }

// WithTimeout bounds each HTTP request. It installs its own HTTP client, so
// it replaces an earlier [WithHTTPClient].
func WithTimeout(d time.Duration) Option {
	return WithHTTPClient(&http.Client{Timeout: d})
}

// New returns a provider for model, authenticated with apiKey.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	var errs []error
	if apiKey == "" {
		errs = append(errs, errors.New("openai: apiKey must not be empty"))
	}
	if model == "" {
		errs = append(errs, errors.New("openai: model must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// NewCerebras returns a provider for the Cerebras cloud. An empty model
// selects [CerebrasDefaultModel]. [WithBaseURL] in opts still wins.
func NewCerebras(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("cerebras: apiKey must not be empty (set CEREBRAS_API_KEY)")
	}
	if model == "" {
		model = CerebrasDefaultModel
	}
	return New(apiKey, model, append([]Option{WithBaseURL(CerebrasBaseURL)}, opts...)...)
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs, err := chatMessages(req.Conversation())
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion with %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
	}

	first := resp.Choices[0]
	u := resp.Usage
	return &llm.CompletionResponse{
		Content:      first.Message.Content,
		FinishReason: string(first.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// CountTokens implements llm.Provider with the shared character estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// capabilityRules maps model name prefixes to their limits. The first match
// wins.
var capabilityRules = []struct {
	prefix string
	caps   llm.ModelCapabilities
}{
	{"gpt-4.1", llm.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}},
	{"gpt-4o", llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{"gpt-3.5-turbo", llm.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	// Cerebras serves Llama and Qwen with a reduced window.
	{"llama-3.3-70b", llm.ModelCapabilities{ContextWindow: 65_536, MaxOutputTokens: 8_192}},
	{"llama3.1-8b", llm.ModelCapabilities{ContextWindow: 65_536, MaxOutputTokens: 8_192}},
	{"qwen-3", llm.ModelCapabilities{ContextWindow: 65_536, MaxOutputTokens: 16_384}},
}

var defaultCapabilities = llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if strings.HasPrefix(lower, r.prefix) {
			return r.caps
		}
	}
	return defaultCapabilities
}

func chatMessages(conv []llm.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(conv))
	for i, m := range conv {
		msg, err := convertMessage(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
