// Package breaker implements the per-provider circuit breaker that shields
// the service from flaky upstream APIs. One Breaker exists per provider
// endpoint, created at process start and mutated only here.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/finagent/stablepay"
)

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
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

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens the
	// circuit.
	DefaultFailureThreshold = 5
	// DefaultCoolDown is how long the circuit stays open before the next call
	// attempt is let through as a trial.
	DefaultCoolDown = 60 * time.Second
)

// ErrOpen is returned (wrapped in a domain error) when the circuit is open
// and the cool-down has not elapsed. The upstream is not contacted.
var ErrOpen = stablepay.NewError(stablepay.KindUnavailable, "circuit breaker is open", nil)

// Config tunes a Breaker.
type Config struct {
	Name             string
	FailureThreshold int
	CoolDown         time.Duration

	// IsFailure reports whether an error counts toward the failure threshold.
	// Errors it rejects propagate to the caller without touching circuit
	// state. Defaults to counting transient domain errors only.
	IsFailure func(error) bool

	// OnStateChange, if set, is invoked after every transition.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// New creates a breaker in the closed state; zero config fields take defaults.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultCoolDown
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return stablepay.KindOf(err) == stablepay.KindTransient
		}
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn under circuit-breaker accounting. While the circuit is open and
// the cool-down has not elapsed, Do fails fast with ErrOpen and fn is never
// invoked. The first call after the cool-down moves the circuit to half-open
// and is let through as a trial.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}
	if b.cfg.IsFailure(err) {
		b.onFailure()
	}
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) < b.cfg.CoolDown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
