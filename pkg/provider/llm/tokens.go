package llm

import "fmt"

// EstimateTokens approximates the token footprint of messages at roughly four
// characters per token plus a fixed per-message overhead for role and
// formatting. It overcounts rather than undercounts for English text.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}

// CheckFits returns an error wrapping [ErrContextOverflow] when req, counted
// by p, does not leave room for the reply in p's context window. The reply
// budget is req.MaxTokens, or the model's MaxOutputTokens when unset.
// Providers with an unknown window always fit.
func CheckFits(p Provider, req CompletionRequest) error {
	caps := p.Capabilities()
	if caps.ContextWindow <= 0 {
		return nil
	}
	n, err := p.CountTokens(req.Conversation())
	if err != nil {
		return fmt.Errorf("llm: count tokens: %w", err)
	}
	reply := req.MaxTokens
	if reply <= 0 {
		reply = caps.MaxOutputTokens
	}
	if n+reply > caps.ContextWindow {
		return fmt.Errorf("%w: %d prompt + %d reply tokens, window is %d",
			ErrContextOverflow, n, reply, caps.ContextWindow)
	}
	return nil
}
