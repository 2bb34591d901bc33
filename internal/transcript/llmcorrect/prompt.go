package llmcorrect

import (
	"encoding/json"
	"fmt"
	"strings"
)

const instructions = `You correct speech recognition transcripts.

Fix product names, acronyms and technical terms that were misheard. Rules:
- ONLY replace words that are misheard versions of a vocabulary term below.
- Keep every other word, the grammar, punctuation and sentence structure.
- When unsure whether a word is a misheard term, leave it.
- Write corrected terms exactly as spelled in the vocabulary.

Vocabulary:
`

const replyFormat = `
Answer with ONLY this JSON object, no markdown and no prose:
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original words>", "corrected": "<vocabulary term>", "confidence": <0.0-1.0>}
  ]
}

Without corrections, return an empty corrections array and the input as corrected_text.`

// systemPrompt lists vocabulary one term per line between the rules and
// the reply format.
func systemPrompt(vocabulary []string) string {
	var b strings.Builder
	b.WriteString(instructions)
	for _, term := range vocabulary {
		b.WriteString("- ")
		b.WriteString(term)
		b.WriteByte('\n')
	}
	b.WriteString(replyFormat)
	return b.String()
}

// userMessage is the bare transcript, or the transcript plus the words the
// recogniser was unsure about.
func userMessage(text string, doubtful []string) string {
	if len(doubtful) == 0 {
		return text
	}
	return "Transcript: " + text + "\n\nLow-confidence words that may be misheard: " + strings.Join(doubtful, ", ")
}

type reply struct {
	CorrectedText string       `json:"corrected_text"`
	Corrections   []Correction `json:"corrections"`
}

// decodeReply parses the model's JSON, tolerating a markdown code fence.
// An empty corrected_text means "no change". Declared corrections that are
// empty or no-ops are dropped.
func decodeReply(content, original string) (string, []Correction, error) {
	var r reply
	if err := json.Unmarshal([]byte(unfence(content)), &r); err != nil {
		return "", nil, fmt.Errorf("llm corrector: decode reply: %w", err)
	}
	if r.CorrectedText == "" {
		return original, nil, nil
	}
	kept := r.Corrections[:0]
	for _, c := range r.Corrections {
		if c.Original != "" && c.Original != c.Corrected {
			kept = append(kept, c)
		}
	}
	return r.CorrectedText, kept, nil
}

func unfence(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = strings.TrimPrefix(rest, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
