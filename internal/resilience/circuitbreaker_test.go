package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock lets tests move a breaker past its cool-down without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(cfg)
	b.now = clock.now
	return b, clock
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "llm"})
	if b.cfg.MaxFailures != 5 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 2 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.cfg.Logger == nil {
		t.Error("logger not defaulted")
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3})

	for i := 0; i < 2; i++ {
		if err := b.Do(fail); !errors.Is(err, errTest) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", b.State())
	}
	_ = b.Do(fail)
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while open")
	}
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3})

	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	_ = b.Do(fail)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})

	err := b.Do(func() error { return fmt.Errorf("upstream: %w", context.Canceled) })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	_ = b.Do(func() error { return context.DeadlineExceeded })
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenClosesAfterProbes(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Probes: 2})

	_ = b.Do(fail)
	clock.advance(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state before cool-down = %v", b.State())
	}
	clock.advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after cool-down = %v", b.State())
	}

	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe 1: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state after 1 probe = %v, want half-open", b.State())
	}
	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe 2: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after 2 probes = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute})

	_ = b.Do(fail)
	clock.advance(time.Minute)
	if err := b.Do(fail); !errors.Is(err, errTest) {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Probes: 1})

	_ = b.Do(fail)
	clock.advance(time.Minute)

	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(func() error { <-release; return nil })
	}()

	// Wait for the probe to be admitted.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.Lock()
		admitted := b.inflight == 1
		b.mu.Unlock()
		if admitted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("probe never admitted")
		}
		time.Sleep(time.Millisecond)
	}

	if err := b.Do(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second probe: got %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancelledProbeFreesSlot(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Probes: 1})

	_ = b.Do(fail)
	clock.advance(time.Minute)
	_ = b.Do(func() error { return context.Canceled })

	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe after cancellation: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})

	_ = b.Do(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(succeed); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
