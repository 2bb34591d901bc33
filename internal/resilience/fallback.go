package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed means no backend of a [FallbackGroup] produced a result.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is copied into one breaker per backend, named after it.
	CircuitBreaker CircuitBreakerConfig

	// OnError is told about every backend failure except a rejection by an
	// open breaker.
	OnError func(name string, err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds interchangeable backends in priority order, each behind
// its own circuit breaker. A cancelled context is not a backend failure: it
// ends the attempt without touching the breaker counts.
//
// Add backends before sharing the group. Running it is concurrency-safe.
type FallbackGroup[T any] struct {
	backends []backend[T]
	onError  func(string, error)
	log      *slog.Logger
	template CircuitBreakerConfig
}

// NewFallbackGroup starts a group whose first backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{onError: cfg.OnError, log: log, template: cfg.CircuitBreaker}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend with the lowest priority so far.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	bc := fg.template
	bc.Name = name
	fg.backends = append(fg.backends, backend[T]{name: name, value: fallback, breaker: NewCircuitBreaker(bc)})
}

// Names lists the backends in priority order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.backends))
	for _, b := range fg.backends {
		out = append(out, b.name)
	}
	return out
}

// Primary returns the highest-priority backend.
func (fg *FallbackGroup[T]) Primary() T { return fg.backends[0].value }

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

// ExecuteWithResult returns the result of the first backend for which fn
// succeeds. Backends behind an open breaker are skipped. If none succeeds the
// error wraps [ErrAllFailed] and the last failure.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var last error
	for i, b := range fg.backends {
		probe, err := b.breaker.admit()
		if err != nil {
			fg.log.Debug("skipping provider with open circuit", "provider", b.name)
			last = err
			continue
		}

		res, err := fn(b.value)
		if errors.Is(err, context.Canceled) {
			b.breaker.settle(probe, nil)
			return zero, err
		}
		b.breaker.settle(probe, err)
		if err == nil {
			return res, nil
		}

		last = err
		if fg.onError != nil {
			fg.onError(b.name, err)
		}
		if i+1 < len(fg.backends) {
			fg.log.Warn("provider failed, trying next", "provider", b.name, "next", fg.backends[i+1].name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
