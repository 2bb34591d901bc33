// Package resilience keeps transcription and cleanup working when a backend
// misbehaves. [CircuitBreaker] stops calling a backend after repeated
// failures and probes it again after a cool-down. [FallbackGroup] lines up a
// primary and its fallbacks, each behind its own breaker, so a local whisper
// server that went away is bypassed in favour of a hosted one.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] without running the
// call while the breaker is open or its probe budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// defaults noted below.
type CircuitBreakerConfig struct {
	// Name labels log lines, usually the provider name.
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before an open breaker lets probes
	// through. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax successful probes close the breaker again. At most this
	// many probes run per half-open period. Default 3.
	HalfOpenMax int
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	return c
}

// CircuitBreaker counts consecutive failures of the calls it wraps.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	openedAt  time.Time
	probes    int // started in the current half-open period
	successes int // finished successfully in the current half-open period
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// State reports the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen] even before the next call moves it there.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// Execute runs fn unless the breaker rejects it with [ErrCircuitOpen], and
// returns fn's error unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// admit decides whether a call may run and whether it counts as a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if !cb.cooledDown() {
			return false, ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateClosed {
		return false, nil
	}
	if cb.probes >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.probes++
	return true, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && probe:
		cb.moveTo(StateOpen)
	case err != nil:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.moveTo(StateOpen)
		}
	case probe:
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.HalfOpenMax {
			cb.moveTo(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// moveTo switches state and resets the counters of the new state. cb.mu
// must be held.
func (cb *CircuitBreaker) moveTo(s State) {
	from := cb.state
	cb.state = s
	cb.failures, cb.probes, cb.successes = 0, 0, 0
	if s == StateOpen {
		cb.openedAt = cb.now()
	}

	attrs := []any{"name", cb.cfg.Name, "from", from.String(), "to", s.String()}
	if s == StateOpen {
		slog.Warn("circuit breaker opened", attrs...)
		return
	}
	slog.Info("circuit breaker state change", attrs...)
}
