package llmcorrect_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/voxscribe/internal/transcript/llmcorrect"
	llm "github.com/MrWong99/voxscribe/pkg/provider/llm"
	"github.com/MrWong99/voxscribe/pkg/provider/llm/mock"
)

var vocabulary = []string{"Snowpark", "Cortex Analyst"}

func replying(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestCorrector_Request(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     []llmcorrect.Option
		doubtful []string
		wantMsg  string
		wantTemp float64
		wantMax  int
	}{
		{name: "defaults", wantMsg: "deploy with snow park", wantTemp: 0.1, wantMax: 1024},
		{
			name:     "options",
			opts:     []llmcorrect.Option{llmcorrect.WithTemperature(0.5), llmcorrect.WithMaxTokens(64)},
			wantMsg:  "deploy with snow park",
			wantTemp: 0.5, wantMax: 64,
		},
		{
			name:     "doubtful words",
			doubtful: []string{"snow", "park"},
			wantMsg:  "Transcript: deploy with snow park\n\nLow-confidence words that may be misheard: snow, park",
			wantTemp: 0.1, wantMax: 1024,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := replying(`{"corrected_text": "deploy with Snowpark", "corrections": []}`)
			if _, _, err := llmcorrect.New(p, tt.opts...).Correct(t.Context(), "deploy with snow park", vocabulary, tt.doubtful); err != nil {
				t.Fatalf("Correct: %v", err)
			}
			req, ok := p.LastCompleteRequest()
			if !ok {
				t.Fatal("LLM not called")
			}
			for _, term := range vocabulary {
				if !strings.Contains(req.SystemPrompt, "- "+term+"\n") {
					t.Errorf("system prompt lacks %q", term)
				}
			}
			if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != tt.wantMsg {
				t.Errorf("messages = %+v", req.Messages)
			}
			if req.Temperature != tt.wantTemp || req.MaxTokens != tt.wantMax {
				t.Errorf("Temperature=%v MaxTokens=%d", req.Temperature, req.MaxTokens)
			}
		})
	}
}

func TestCorrector_Replies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		reply     string
		want      string
		wantFixes []string // corrected terms, in order
	}{
		{
			name:  "declared corrections applied",
			input: "ask cortex and a list about snow park.",
			reply: `{"corrected_text": "ask Cortex Analyst about Snowpark.", "corrections": [
				{"original": "cortex and a list", "corrected": "Cortex Analyst", "confidence": 0.8},
				{"original": "snow park", "corrected": "Snowpark", "confidence": 0.9}]}`,
			want:      "ask Cortex Analyst about Snowpark.",
			wantFixes: []string{"Cortex Analyst", "Snowpark"},
		},
		{
			name:  "undeclared rewrite reverted",
			input: "snow park runs quickly",
			reply: `{"corrected_text": "Snowpark runs fast", "corrections": [
				{"original": "snow park", "corrected": "Snowpark", "confidence": 0.9}]}`,
			want:      "Snowpark runs quickly",
			wantFixes: []string{"Snowpark"},
		},
		{
			name:      "markdown fence",
			input:     "snowpack works",
			reply:     "```json\n{\"corrected_text\": \"Snowpark works\", \"corrections\": [{\"original\": \"snowpack\", \"corrected\": \"Snowpark\", \"confidence\": 0.7}]}\n```",
			want:      "Snowpark works",
			wantFixes: []string{"Snowpark"},
		},
		{
			name:  "no-op corrections dropped",
			input: "Snowpark works",
			reply: `{"corrected_text": "Snowpark works", "corrections": [{"original": "Snowpark", "corrected": "Snowpark", "confidence": 1}]}`,
			want:  "Snowpark works",
		},
		{name: "empty corrected text", input: "snow park", reply: `{"corrected_text": "", "corrections": []}`, want: "snow park"},
		{name: "prose", input: "snow park is great", reply: "Sorry, I cannot help with that.", want: "snow park is great"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, fixes, err := llmcorrect.New(replying(tt.reply)).Correct(t.Context(), tt.input, vocabulary, nil)
			if err != nil {
				t.Fatalf("Correct: %v", err)
			}
			if text != tt.want {
				t.Errorf("text = %q, want %q", text, tt.want)
			}
			var got []string
			for _, f := range fixes {
				got = append(got, f.Corrected)
			}
			if strings.Join(got, "|") != strings.Join(tt.wantFixes, "|") {
				t.Errorf("corrections = %+v, want %v", fixes, tt.wantFixes)
			}
		})
	}
}

func TestCorrector_LeavesTextAlone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *mock.Provider
		text     string
		vocab    []string
		wantCall bool
	}{
		{name: "no vocabulary", provider: &mock.Provider{}, text: "some text"},
		{name: "blank text", provider: &mock.Provider{}, text: "   ", vocab: vocabulary},
		{
			name: "context too small",
			provider: &mock.Provider{
				TokenCount:        8_000,
				ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8_192},
			},
			text:  "snow park",
			vocab: vocabulary,
		},
		{name: "nil response", provider: &mock.Provider{}, text: "snow park", vocab: vocabulary, wantCall: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, fixes, err := llmcorrect.New(tt.provider).Correct(t.Context(), tt.text, tt.vocab, nil)
			if err != nil || text != tt.text || len(fixes) != 0 {
				t.Errorf("got (%q, %v, %v), want the input unchanged", text, fixes, err)
			}
			if called := tt.provider.CompleteCallCount() > 0; called != tt.wantCall {
				t.Errorf("LLM called = %v, want %v", called, tt.wantCall)
			}
		})
	}
}

func TestCorrector_ProviderError(t *testing.T) {
	t.Parallel()

	c := llmcorrect.New(&mock.Provider{CompleteErr: context.DeadlineExceeded})
	text, _, err := c.Correct(t.Context(), "snow park", vocabulary, nil)
	if err == nil || text != "snow park" {
		t.Errorf("got (%q, %v), want the input and an error", text, err)
	}
}
