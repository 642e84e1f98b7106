package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when no backend of a [Group] produced a result.
// The error also wraps each backend's own error.
var ErrAllFailed = errors.New("all providers failed")

// Observer is notified after every attempt a [Group] makes against one of
// its backends. Rejected attempts (open breaker) are not reported.
type Observer func(ctx context.Context, backend string, d time.Duration, err error)

// GroupConfig configures a [Group].
type GroupConfig struct {
	// Breaker is the template for each backend's breaker. Its Name is
	// replaced by the backend name.
	Breaker BreakerConfig

	// Logger receives failover records. Default: slog.Default().
	Logger *slog.Logger

	// Observer, if set, sees every attempt.
	Observer Observer
}

type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group routes calls to a primary backend and, when that fails or its
// breaker is open, to fallbacks in the order they were added.
//
// Add must not be called concurrently with Call; all other use is safe for
// concurrent callers.
type Group[T any] struct {
	cfg      GroupConfig
	backends []backend[T]
}

// NewGroup returns a group whose only backend is primary.
func NewGroup[T any](name string, primary T, cfg GroupConfig) *Group[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = cfg.Logger
	}
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback backend.
func (g *Group[T]) Add(name string, value T) {
	bc := g.cfg.Breaker
	bc.Name = name
	g.backends = append(g.backends, backend[T]{name: name, value: value, breaker: NewBreaker(bc)})
}

// Names lists the backends in call order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.backends))
	for i, b := range g.backends {
		names[i] = b.name
	}
	return names
}

// Primary returns the first backend.
func (g *Group[T]) Primary() T {
	return g.backends[0].value
}

// State reports the breaker state of the named backend.
func (g *Group[T]) State(name string) (State, bool) {
	for _, b := range g.backends {
		if b.name == name {
			return b.breaker.State(), true
		}
	}
	return StateClosed, false
}

// Call runs fn against the backends in order and returns the first
// successful result. It stops early once ctx is done.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.backends {
		b := &g.backends[i]
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var (
			out     R
			started time.Time
		)
		err := b.breaker.Do(func() error {
			started = time.Now()
			var err error
			out, err = fn(b.value)
			return err
		})
		if !started.IsZero() && g.cfg.Observer != nil {
			g.cfg.Observer(ctx, b.name, time.Since(started), err)
		}
		if err == nil {
			if i > 0 {
				g.cfg.Logger.Info("served by fallback provider", "provider", b.name)
			}
			return out, nil
		}
		if !countsAsFailure(err) {
			return zero, err
		}
		if errors.Is(err, ErrCircuitOpen) {
			g.cfg.Logger.Debug("skipping provider, circuit open", "provider", b.name)
		} else {
			g.cfg.Logger.Warn("provider failed, trying next", "provider", b.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
