package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. The error also wraps one [AttemptError] per entry.
var ErrAllFailed = errors.New("all providers failed")

// AttemptError is the failure of one named entry inside an [ErrAllFailed]
// error. Skipped is set when the entry's breaker refused the call.
type AttemptError struct {
	Provider string
	Skipped  bool
	Err      error
}

func (e *AttemptError) Error() string { return e.Provider + ": " + e.Err.Error() }

func (e *AttemptError) Unwrap() error { return e.Err }

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is copied for every entry, with Name set to the entry
	// name.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt is called after every call that reached a provider, with a
	// nil err on success. Calls refused by an open breaker are not reported.
	OnAttempt func(ctx context.Context, name string, err error)
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries a preferred value first and falls back to the others in
// registration order, each guarded by its own [CircuitBreaker].
//
// Register every entry before sharing the group between goroutines.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry behind the ones already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.members = append(fg.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
}

// Names lists the entries in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, 0, len(fg.members))
	for _, m := range fg.members {
		names = append(names, m.name)
	}
	return names
}

// States maps each entry name to its breaker state.
func (fg *FallbackGroup[T]) States() map[string]State {
	states := make(map[string]State, len(fg.members))
	for _, m := range fg.members {
		states[m.name] = m.breaker.State()
	}
	return states
}

// Available reports whether at least one breaker would admit a call now. A
// half-open entry whose probe slots are all taken does not count.
func (fg *FallbackGroup[T]) Available() bool {
	for _, m := range fg.members {
		if m.breaker.Admits() {
			return true
		}
	}
	return false
}

// Reset closes every breaker of the group.
func (fg *FallbackGroup[T]) Reset() {
	for _, m := range fg.members {
		m.breaker.Reset()
	}
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn with each entry in turn and returns the first
// successful result. Entries whose breaker is open are skipped. Once ctx is
// done no further entry is tried and the context error is returned.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero     R
		failures []error
	)
	for i := range fg.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m := &fg.members[i]

		var (
			result  R
			reached bool
		)
		err := m.breaker.Execute(func() error {
			reached = true
			var err error
			result, err = fn(m.value)
			return err
		})
		if reached && fg.cfg.OnAttempt != nil {
			fg.cfg.OnAttempt(ctx, m.name, err)
		}
		if err == nil {
			return result, nil
		}

		failures = append(failures, &AttemptError{Provider: m.name, Skipped: !reached, Err: err})
		if !reached {
			slog.DebugContext(ctx, "provider skipped, circuit open", "provider", m.name)
			continue
		}
		slog.WarnContext(ctx, "provider failed", "provider", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(failures...))
}
