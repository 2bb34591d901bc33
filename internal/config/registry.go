package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxscribe/pkg/provider/llm"
	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// ErrProviderNotRegistered means no factory exists for the configured name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factorySet holds the constructors of one provider kind.
type factorySet[P any] struct {
	kind string
	fns  map[string]func(ProviderEntry) (P, error)
}

func newFactorySet[P any](kind string) factorySet[P] {
	return factorySet[P]{kind: kind, fns: make(map[string]func(ProviderEntry) (P, error))}
}

func (s factorySet[P]) create(entry ProviderEntry) (P, error) {
	fn, ok := s.fns[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.kind, entry.Name)
	}
	return fn(entry)
}

// Registry builds providers from config entries by name. Registration
// normally happens once at startup; it is safe for concurrent use anyway.
type Registry struct {
	mu  sync.RWMutex
	llm factorySet[llm.Provider]
	stt factorySet[stt.Provider]
}

// NewRegistry returns a Registry with nothing registered.
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactorySet[llm.Provider]("llm"),
		stt: newFactorySet[stt.Provider]("stt"),
	}
}

// RegisterLLM adds or replaces the LLM factory called name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm.fns[name] = factory
	r.mu.Unlock()
}

// RegisterSTT adds or replaces the STT factory called name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	r.stt.fns[name] = factory
	r.mu.Unlock()
}

// Names lists the registered names of kind ("stt" or "llm"), sorted. Any
// other kind yields nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.stt.kind:
		return slices.Sorted(maps.Keys(r.stt.fns))
	case r.llm.kind:
		return slices.Sorted(maps.Keys(r.llm.fns))
	}
	return nil
}

// CreateLLM runs the factory registered for entry.Name, or fails with
// [ErrProviderNotRegistered].
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateSTT is the STT counterpart of [Registry.CreateLLM].
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}
