// Package resilience provides circuit breaker and provider failover primitives
// for the transcription backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops calling a backend after repeated failures. [FallbackGroup] composes
// several instances of one provider type with per-entry circuit breakers so
// that a failing primary is bypassed in favour of healthy fallbacks.
// [STTFallback] applies this to [stt.Transcriber].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker
// refuses a call: it is open, or half-open with every probe slot taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker defaults applied by [NewCircuitBreaker] to zero config fields.
const (
	DefaultMaxFailures    = 5
	DefaultResetTimeout   = 30 * time.Second
	DefaultHalfOpenProbes = 3
)

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout has passed since it opened.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successful probes close the breaker; one failed probe re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive backend failures that opens a
	// closed breaker. Default: [DefaultMaxFailures].
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before admitting probes.
	// Default: [DefaultResetTimeout].
	ResetTimeout time.Duration

	// HalfOpenProbes is both the number of probes admitted while half-open and
	// the number of successful probes needed to close again.
	// Default: [DefaultHalfOpenProbes].
	HalfOpenProbes int

	// IsFailure decides whether an error returned by the protected call counts
	// against the backend. Errors for which it returns false are passed through
	// without touching the failure counters. Default: [IsBackendFailure].
	IsFailure func(error) bool

	// OnStateChange, when set, is called after every state transition. It runs
	// with the breaker's lock held and must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// Now reads the clock. Default: [time.Now].
	Now func() time.Time
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = DefaultHalfOpenProbes
	}
	if c.IsFailure == nil {
		c.IsFailure = IsBackendFailure
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// IsBackendFailure reports whether err should count against a backend. A
// cancelled caller context is the caller's decision, not a backend fault.
func IsBackendFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int       // consecutive backend failures while closed
	openedAt time.Time // when the breaker last opened
	inFlight int       // admitted probes that have not settled yet
	passed   int       // successful probes in the current half-open round
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero config fields
// take their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.applyDefaults()
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn when the breaker admits the call and accounts for its
// outcome. A refused call returns [ErrCircuitOpen] without running fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and reports whether it runs as a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		cb.inFlight, cb.passed = 0, 0
		cb.transition(StateHalfOpen)
	}
	if cb.state != StateHalfOpen {
		return false, nil
	}
	if cb.inFlight+cb.passed >= cb.cfg.HalfOpenProbes {
		return false, ErrCircuitOpen
	}
	cb.inFlight++
	return true, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && cb.cfg.IsFailure(err)
	if probe {
		cb.inFlight--
		// A probe may settle after another probe already re-opened the breaker.
		if cb.state != StateHalfOpen {
			return
		}
		switch {
		case failed:
			cb.trip()
		case err == nil:
			cb.passed++
			if cb.passed >= cb.cfg.HalfOpenProbes {
				cb.failures = 0
				cb.transition(StateClosed)
			}
		}
		return
	}

	switch {
	case err == nil:
		cb.failures = 0
	case failed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			slog.Warn("circuit breaker opened",
				"name", cb.cfg.Name,
				"consecutive_failures", cb.failures)
			cb.trip()
		}
	}
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.cfg.Now()
	cb.transition(StateOpen)
}

// transition moves the breaker to s. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(s State) {
	from := cb.state
	if from == s {
		return
	}
	cb.state = s
	slog.Info("circuit breaker state change",
		"name", cb.cfg.Name, "from", from.String(), "to", s.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, s)
	}
}

// State returns the breaker's current [State]. An open breaker whose reset
// timeout has passed reports [StateHalfOpen]; the transition itself happens
// on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Admits reports whether a call made now would run rather than fail with
// [ErrCircuitOpen]. A half-open breaker admits only while probe slots are
// free.
func (cb *CircuitBreaker) Admits() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
	case StateHalfOpen:
		return cb.inFlight+cb.passed < cb.cfg.HalfOpenProbes
	default:
		return true
	}
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures, cb.inFlight, cb.passed = 0, 0, 0
	cb.transition(StateClosed)
}
