package llm_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/voxscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxscribe/pkg/provider/llm/mock"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msgs []llm.Message
		want int
	}{
		{name: "none", msgs: nil, want: 0},
		{name: "empty content", msgs: []llm.Message{{Role: llm.RoleUser}}, want: 4},
		{name: "eight chars", msgs: []llm.Message{{Role: llm.RoleUser, Content: "abcdefgh"}}, want: 6},
		{name: "rounds up", msgs: []llm.Message{{Role: llm.RoleSystem, Content: "abcde"}, {Role: llm.RoleUser, Content: "a"}}, want: 2 + 4 + 1 + 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := llm.EstimateTokens(tc.msgs); got != tc.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestConversation(t *testing.T) {
	t.Parallel()

	user := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	if got := (llm.CompletionRequest{Messages: user}).Conversation(); len(got) != 1 {
		t.Errorf("without system prompt = %+v", got)
	}
	got := (llm.CompletionRequest{SystemPrompt: "be brief", Messages: user}).Conversation()
	if len(got) != 2 || got[0].Role != llm.RoleSystem || got[0].Content != "be brief" || got[1] != user[0] {
		t.Errorf("with system prompt = %+v", got)
	}
}

func TestCheckFits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *llmmock.Provider
		req      llm.CompletionRequest
		wantErr  error
	}{
		{
			name:     "unknown window",
			provider: &llmmock.Provider{TokenCount: 1 << 30},
		},
		{
			name: "fits with model reply budget",
			provider: &llmmock.Provider{TokenCount: 900, ModelCapabilities: llm.ModelCapabilities{
				ContextWindow: 1000, MaxOutputTokens: 100,
			}},
		},
		{
			name: "overflows with model reply budget",
			provider: &llmmock.Provider{TokenCount: 901, ModelCapabilities: llm.ModelCapabilities{
				ContextWindow: 1000, MaxOutputTokens: 100,
			}},
			wantErr: llm.ErrContextOverflow,
		},
		{
			name: "request budget wins",
			provider: &llmmock.Provider{TokenCount: 901, ModelCapabilities: llm.ModelCapabilities{
				ContextWindow: 1000, MaxOutputTokens: 100,
			}},
			req: llm.CompletionRequest{MaxTokens: 50},
		},
		{
			name: "count error",
			provider: &llmmock.Provider{CountTokensErr: errBoom, ModelCapabilities: llm.ModelCapabilities{
				ContextWindow: 1000,
			}},
			wantErr: errBoom,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := llm.CheckFits(tc.provider, tc.req)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("CheckFits: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("CheckFits = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

var errBoom = errors.New("boom")
