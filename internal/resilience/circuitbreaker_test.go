package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced clock for breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fail() error    { return errTest }
func succeed() error { return nil }

// openBreaker returns a breaker on clk that has already tripped.
func openBreaker(t *testing.T, clk *fakeClock, probes int) *CircuitBreaker {
	t.Helper()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:           "whisper",
		MaxFailures:    2,
		ResetTimeout:   time.Minute,
		HalfOpenProbes: probes,
		Now:            clk.Now,
	})
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", 2, got)
	}
	return cb
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.cfg.MaxFailures != DefaultMaxFailures {
		t.Errorf("MaxFailures = %d, want %d", cb.cfg.MaxFailures, DefaultMaxFailures)
	}
	if cb.cfg.ResetTimeout != DefaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", cb.cfg.ResetTimeout, DefaultResetTimeout)
	}
	if cb.cfg.HalfOpenProbes != DefaultHalfOpenProbes {
		t.Errorf("HalfOpenProbes = %d, want %d", cb.cfg.HalfOpenProbes, DefaultHalfOpenProbes)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedAccounting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		calls []func() error
		want  State
	}{
		{name: "success", calls: []func() error{succeed}, want: StateClosed},
		{name: "below threshold", calls: []func() error{fail, fail}, want: StateClosed},
		{name: "at threshold", calls: []func() error{fail, fail, fail}, want: StateOpen},
		{name: "success resets the count", calls: []func() error{fail, fail, succeed, fail, fail}, want: StateClosed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, ResetTimeout: time.Hour})
			for _, call := range tc.calls {
				_ = cb.Execute(call)
			}
			if got := cb.State(); got != tc.want {
				t.Errorf("state = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	t.Parallel()

	cb := openBreaker(t, newFakeClock(), 1)
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestCircuitBreaker_ReportsHalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	cb := openBreaker(t, clk, 1)

	clk.Advance(59 * time.Second)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state before timeout = %v, want open", got)
	}
	clk.Advance(time.Second)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state at timeout = %v, want half-open", got)
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterProbes(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	cb := openBreaker(t, clk, 2)
	clk.Advance(time.Minute)

	for i := range 2 {
		if err := cb.Execute(succeed); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", got)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	cb := openBreaker(t, clk, 3)
	clk.Advance(time.Minute)

	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("probe err = %v, want errTest", err)
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", got)
	}
	// The reset timeout restarts from the failed probe.
	clk.Advance(59 * time.Second)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want still open", got)
	}
}

func TestCircuitBreaker_HalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	cb := openBreaker(t, clk, 1)
	clk.Advance(time.Minute)

	release := make(chan struct{})
	admitted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(admitted)
			<-release
			return nil
		})
	}()
	<-admitted

	if cb.Admits() {
		t.Error("Admits = true while the only probe slot is taken")
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen while the slot is taken", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_Admits(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	cb := openBreaker(t, clk, 1)
	if cb.Admits() {
		t.Error("Admits = true while open")
	}
	clk.Advance(time.Minute)
	if !cb.Admits() {
		t.Error("Admits = false after the reset timeout")
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !cb.Admits() {
		t.Error("Admits = false after closing")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := openBreaker(t, newFakeClock(), 1)
	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after reset", got)
	}
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_CancelledCallsAreNeutral(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	for range 5 {
		err := cb.Execute(func() error { return fmt.Errorf("upload: %w", context.Canceled) })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed: cancellations must not trip the breaker", got)
	}
}

func TestCircuitBreaker_CancelledProbeFreesItsSlot(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	cb := openBreaker(t, clk, 1)
	clk.Advance(time.Minute)

	_ = cb.Execute(func() error { return context.Canceled })
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe after cancelled probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestCircuitBreaker_CustomIsFailure(t *testing.T) {
	t.Parallel()

	errBadInput := errors.New("bad input")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		IsFailure:    func(err error) bool { return !errors.Is(err, errBadInput) },
	})

	_ = cb.Execute(func() error { return errBadInput })
	if cb.State() != StateClosed {
		t.Fatal("client-side errors should not open the breaker")
	}
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatal("backend errors should open the breaker")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:           "whisper",
		MaxFailures:    1,
		ResetTimeout:   time.Second,
		HalfOpenProbes: 1,
		Now:            clk.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(fail)
	clk.Advance(time.Second)
	_ = cb.Execute(succeed)

	want := []string{
		"whisper:closed->open",
		"whisper:open->half-open",
		"whisper:half-open->closed",
	}
	if diff := cmp.Diff(want, transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}
