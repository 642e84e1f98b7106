// Package resilience wraps the request/response providers used by the study
// assistant with per-backend circuit breakers and ordered failover.
//
// A [Breaker] trips after a run of failed calls and rejects further calls
// until a cool-down has passed. A [Group] holds a primary backend and its
// fallbacks, each with its own breaker, and routes a call to the first one
// that is healthy and answers without error. The typed wrappers in this
// package ([LLM], [Speech], [Transcriber], [Images]) make a Group usable
// wherever the plain provider interface is expected.
//
// Cancelled or expired contexts are never counted against a backend.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the cool-down
	// has passed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. A failed
	// probe re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the lower-case name of the state.
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

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log records, usually the backend name.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long an open breaker waits before probing.
	// Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. Default: 2.
	Probes int

	// Logger receives state transitions. Default: slog.Default().
	Logger *slog.Logger
}

func (c *BreakerConfig) applyDefaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Probes <= 0 {
		c.Probes = 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inflight  int // probes admitted in the current half-open window
	successes int // probes that succeeded in the current half-open window
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do runs fn unless the breaker rejects the call, in which case it returns
// [ErrCircuitOpen] without calling fn. The error from fn is returned as is.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen {
		if b.inflight >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.inflight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		if !probe {
			b.failures = 0
			return
		}
		if b.state != StateHalfOpen {
			return
		}
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.transition(StateClosed)
		}

	case countsAsFailure(err):
		if probe {
			if b.state == StateHalfOpen {
				b.transition(StateOpen)
			}
			return
		}
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.transition(StateOpen)
		}

	default:
		// The caller gave up. Hand the probe slot back.
		if probe && b.state == StateHalfOpen {
			b.inflight--
		}
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.inflight = 0
	b.successes = 0
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		b.cfg.Logger.Warn("circuit breaker opened", "name", b.cfg.Name, "from", from.String(), "failures", b.failures)
	case StateClosed:
		b.failures = 0
		b.cfg.Logger.Info("circuit breaker closed", "name", b.cfg.Name, "from", from.String())
	case StateHalfOpen:
		b.cfg.Logger.Info("circuit breaker probing", "name", b.cfg.Name)
	}
}

// State reports the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call to Do.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
