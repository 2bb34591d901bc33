package transcript_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxscribe/internal/transcript"
	"github.com/MrWong99/voxscribe/internal/transcript/llmcorrect"
	"github.com/MrWong99/voxscribe/internal/transcript/phonetic"
	llm "github.com/MrWong99/voxscribe/pkg/provider/llm"
	"github.com/MrWong99/voxscribe/pkg/provider/llm/mock"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// tableMatcher is a PhoneticMatcher that matches exact lowercase phrases.
type tableMatcher map[string]string

func (m tableMatcher) Match(word string, _ []string) (string, float64, bool) {
	if term, ok := m[strings.ToLower(word)]; ok {
		return term, 0.9, true
	}
	return word, 0, false
}

func makeTranscript(text string, words ...stt.WordDetail) stt.Transcript {
	return stt.Transcript{
		Text:       text,
		IsFinal:    true,
		Confidence: 0.85,
		Words:      words,
		Timestamp:  time.Second,
		Duration:   3 * time.Second,
	}
}

func llmReturning(content string) *mock.Provider {
	return &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

func TestCorrectionPipeline_PhoneticSentence(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(phonetic.New()))
	tr := makeTranscript("we deploy on snow park then ask cortecks about the snowflake warehouse.")

	result, err := p.Correct(context.Background(), tr, []string{"Snowpark", "Cortex", "Snowflake"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	want := "we deploy on Snowpark then ask Cortex about the Snowflake warehouse."
	if result.Corrected != want {
		t.Errorf("Corrected = %q\nwant        %q", result.Corrected, want)
	}
	var originals []string
	for _, c := range result.Corrections {
		if c.Method != "phonetic" {
			t.Errorf("method = %q, want phonetic", c.Method)
		}
		originals = append(originals, c.Original)
	}
	if got := strings.Join(originals, "|"); got != "snow park|cortecks|snowflake" {
		t.Errorf("corrected spans = %q", got)
	}
	if result.Original.Text != tr.Text {
		t.Errorf("Original.Text = %q", result.Original.Text)
	}
}

func TestCorrectionPipeline_KeepsPunctuation(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(tableMatcher{
		"snow park":      "Snowpark",
		"cortex analyst": "Cortex Analyst",
	}))
	tr := makeTranscript(`try snow park, or "cortex analyst"!`)

	result, err := p.Correct(context.Background(), tr, []string{"Snowpark", "Cortex Analyst"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if want := `try Snowpark, or "Cortex Analyst"!`; result.Corrected != want {
		t.Errorf("Corrected = %q, want %q", result.Corrected, want)
	}
	if len(result.Corrections) != 2 {
		t.Errorf("corrections = %+v", result.Corrections)
	}
}

func TestCorrectionPipeline_ExactTermIsNotACorrection(t *testing.T) {
	t.Parallel()

	p := transcript.NewPipeline(transcript.WithPhoneticMatcher(tableMatcher{"snowpark": "Snowpark"}))
	tr := makeTranscript("Snowpark  is   ready")

	result, err := p.Correct(context.Background(), tr, []string{"Snowpark"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if result.Corrected != tr.Text {
		t.Errorf("Corrected = %q, want text untouched", result.Corrected)
	}
	if len(result.Corrections) != 0 {
		t.Errorf("corrections = %+v", result.Corrections)
	}
}

func TestCorrectionPipeline_LLMOnly(t *testing.T) {
	t.Parallel()

	provider := llmReturning(`{"corrected_text": "Cortex arrived.", "corrections": [{"original": "cortecks", "corrected": "Cortex", "confidence": 0.88}]}`)
	p := transcript.NewPipeline(transcript.WithLLMCorrector(llmcorrect.New(provider)))

	// Without per-word data the LLM always runs.
	result, err := p.Correct(context.Background(), makeTranscript("cortecks arrived."), []string{"Cortex"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if provider.CompleteCallCount() != 1 {
		t.Fatalf("LLM calls = %d, want 1", provider.CompleteCallCount())
	}
	if result.Corrected != "Cortex arrived." {
		t.Errorf("Corrected = %q", result.Corrected)
	}
	if len(result.Corrections) != 1 || result.Corrections[0].Method != "llm" || result.Corrections[0].Confidence != 0.88 {
		t.Errorf("corrections = %+v", result.Corrections)
	}
}

func TestCorrectionPipeline_HighConfidenceSkipsLLM(t *testing.T) {
	t.Parallel()

	provider := llmReturning(`{"corrected_text": "x", "corrections": []}`)
	p := transcript.NewPipeline(
		transcript.WithLLMCorrector(llmcorrect.New(provider)),
		transcript.WithLLMOnLowConfidence(0.5),
	)
	tr := makeTranscript("cortex speaks",
		stt.WordDetail{Word: "cortex", Confidence: 0.95},
		stt.WordDetail{Word: "speaks", Confidence: 0.98},
	)
	if _, err := p.Correct(context.Background(), tr, []string{"Cortex"}); err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if n := provider.CompleteCallCount(); n != 0 {
		t.Errorf("LLM calls = %d, want 0", n)
	}
}

func TestCorrectionPipeline_LowConfidenceSpansReachLLM(t *testing.T) {
	t.Parallel()

	provider := llmReturning(`{"corrected_text": "Snowpark runs on Cortex", "corrections": [{"original": "cortecks", "corrected": "Cortex", "confidence": 0.7}]}`)
	p := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(tableMatcher{"snow park": "Snowpark"}),
		transcript.WithLLMCorrector(llmcorrect.New(provider)),
	)
	tr := makeTranscript("snow park runs on cortecks",
		stt.WordDetail{Word: "snow", Confidence: 0.3},
		stt.WordDetail{Word: "park", Confidence: 0.4},
		stt.WordDetail{Word: "runs", Confidence: 0.9},
		stt.WordDetail{Word: "on", Confidence: 0.9},
		stt.WordDetail{Word: "cortecks", Confidence: 0.2},
	)

	result, err := p.Correct(context.Background(), tr, []string{"Snowpark", "Cortex"})
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	req, ok := provider.LastCompleteRequest()
	if !ok {
		t.Fatal("LLM was not called")
	}
	msg := req.Messages[0].Content
	if !strings.HasPrefix(msg, "Transcript: Snowpark runs on cortecks") {
		t.Errorf("LLM should see the phonetic output, got %q", msg)
	}
	if !strings.HasSuffix(msg, "misheard: cortecks") {
		t.Errorf("only untouched low-confidence words should be flagged, got %q", msg)
	}
	if result.Corrected != "Snowpark runs on Cortex" {
		t.Errorf("Corrected = %q", result.Corrected)
	}
	if len(result.Corrections) != 2 || result.Corrections[0].Method != "phonetic" || result.Corrections[1].Method != "llm" {
		t.Errorf("corrections = %+v", result.Corrections)
	}
}

func TestCorrectionPipeline_LLMErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	p := transcript.NewPipeline(transcript.WithLLMCorrector(llmcorrect.New(&mock.Provider{CompleteErr: boom})))
	_, err := p.Correct(context.Background(), makeTranscript("cortecks"), []string{"Cortex"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestCorrectionPipeline_EmptyVocabularyOrNoStages(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	withStages := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithLLMCorrector(llmcorrect.New(provider)),
	)
	tr := makeTranscript("snow park speaks.")

	for name, run := range map[string]func() (*transcript.CorrectedTranscript, error){
		"empty vocabulary": func() (*transcript.CorrectedTranscript, error) {
			return withStages.Correct(context.Background(), tr, nil)
		},
		"no stages": func() (*transcript.CorrectedTranscript, error) {
			return transcript.NewPipeline().Correct(context.Background(), tr, []string{"Snowpark"})
		},
	} {
		result, err := run()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if result.Corrected != tr.Text || len(result.Corrections) != 0 || result.Corrections == nil {
			t.Errorf("%s: got %q with %v", name, result.Corrected, result.Corrections)
		}
	}
	if provider.CompleteCallCount() != 0 {
		t.Error("LLM must not run without vocabulary")
	}
}
