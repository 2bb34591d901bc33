// Package llm is the contract between voxscribe and chat-completion backends.
//
// Transcript cleanup, the FAQ agent and LLM vocabulary correction all send a
// system prompt plus a user message and wait for the whole reply, so a
// provider is one blocking call plus the model metadata needed to keep a
// request inside the context window.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse is returned by Complete when the backend answered
	// without any choices.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrContextOverflow is returned by [CheckFits] when a request leaves no
	// room for the reply.
	ErrContextOverflow = errors.New("llm: request exceeds the model context window")
)

// Role values accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	// SystemPrompt is sent ahead of Messages with the system role.
	SystemPrompt string

	Messages []Message

	// Temperature in [0, 2]. Zero keeps the backend default.
	Temperature float64

	// MaxTokens caps the reply. Zero keeps the backend default.
	MaxTokens int
}

// Conversation returns the messages as the backend sees them, with the system
// prompt first.
func (r CompletionRequest) Conversation() []Message {
	if r.SystemPrompt == "" {
		return r.Messages
	}
	out := make([]Message, 0, len(r.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	return append(out, r.Messages...)
}

// Usage is the token accounting a backend reports for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the reply to a [CompletionRequest].
type CompletionResponse struct {
	// Content is the assistant's reply, untrimmed.
	Content      string
	FinishReason string
	Usage        Usage
}

// ModelCapabilities describes the limits of the model behind a provider.
// Zero values mean unknown.
type ModelCapabilities struct {
	ContextWindow   int
	MaxOutputTokens int
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply. A reply without any
	// choices yields an error wrapping [ErrEmptyResponse].
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates what messages cost in the context window. It may
	// overcount but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities is constant for the lifetime of the provider.
	Capabilities() ModelCapabilities
}
