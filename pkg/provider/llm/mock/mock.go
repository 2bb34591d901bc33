// Package mock provides a recording [llm.Provider] for tests.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello."}}
//	refiner, _ := cleanup.New(p)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxscribe/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from its fields and records every call. Set the
// fields before use; they are read under the lock.
type Provider struct {
	mu sync.Mutex

	// CompleteFunc, when set, computes the reply and wins over
	// CompleteResponse and CompleteErr. It runs without the lock held.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount and CountTokensErr are returned by CountTokens.
	TokenCount     int
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities. The zero value has an
	// unknown context window, so [llm.CheckFits] always passes.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls lists Complete invocations in order.
	CompleteCalls []CompleteCall
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// CompleteCallCount returns how often Complete was called.
func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastCompleteRequest returns the most recent request, or false when Complete
// was never called.
func (p *Provider) LastCompleteRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}

// CountTokens implements [llm.Provider].
func (p *Provider) CountTokens([]llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}
