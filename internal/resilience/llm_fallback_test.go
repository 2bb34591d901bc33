package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxscribe/pkg/provider/llm/mock"
)

func newLLMFallback(backends ...*llmmock.Provider) *LLMFallback {
	fb := NewLLMFallback(backends[0], "cerebras", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	for i, b := range backends[1:] {
		fb.AddFallback([]string{"openai", "ollama"}[i], b)
	}
	return fb
}

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	down := errors.New("503 from upstream")
	tests := []struct {
		name        string
		primaryErr  error
		wantContent string
		wantCalls   [2]int
	}{
		{"primary answers", nil, "cleaned by cerebras", [2]int{1, 0}},
		{"primary down", down, "cleaned by openai", [2]int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{CompleteErr: tt.primaryErr}
			if tt.primaryErr == nil {
				primary.CompleteResponse = &llm.CompletionResponse{Content: "cleaned by cerebras"}
			}
			secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "cleaned by openai"}}

			resp, err := newLLMFallback(primary, secondary).Complete(t.Context(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "um hello"}},
			})
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if resp.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", resp.Content, tt.wantContent)
			}
			got := [2]int{primary.CompleteCallCount(), secondary.CompleteCallCount()}
			if got != tt.wantCalls {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()

	fb := newLLMFallback(
		&llmmock.Provider{CompleteErr: errors.New("cerebras down")},
		&llmmock.Provider{CompleteErr: errors.New("openai down")},
	)
	_, err := fb.Complete(t.Context(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_CancelStopsFailover(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: context.Canceled}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "late"}}
	_, err := newLLMFallback(primary, secondary).Complete(t.Context(), llm.CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := secondary.CompleteCallCount(); n != 0 {
		t.Errorf("secondary called %d times after cancellation", n)
	}
}

func TestLLMFallback_SizingFollowsPrimary(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		TokenCount:        17,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 65_536, MaxOutputTokens: 8_192},
	}
	secondary := &llmmock.Provider{
		TokenCount:        99,
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8_192},
	}
	fb := newLLMFallback(primary, secondary, &llmmock.Provider{})

	if n, err := fb.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "hi"}}); err != nil || n != 17 {
		t.Errorf("CountTokens = %d, %v; want 17, nil", n, err)
	}
	if caps := fb.Capabilities(); caps.ContextWindow != 65_536 || caps.MaxOutputTokens != 8_192 {
		t.Errorf("Capabilities = %+v", caps)
	}
	if got := fb.Names(); !slices.Equal(got, []string{"cerebras", "openai", "ollama"}) {
		t.Errorf("Names = %v", got)
	}
}
