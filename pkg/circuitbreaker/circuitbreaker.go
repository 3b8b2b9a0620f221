// Package circuitbreaker stops calling a failing dependency for a cooldown
// period. The remote code runner sits behind one so that a dead sandbox does
// not add its timeout to every submission.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without calling the dependency while the breaker is
// open, or while a half-open probe is already in flight.
var ErrOpen = errors.New("circuitbreaker: open")

// Settings configures a Breaker. Zero values take the defaults noted.
type Settings struct {
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// Probes consecutive successful half-open calls close it again. Default 2.
	Probes int

	// Cooldown is how long the breaker stays open. Default 30s.
	Cooldown time.Duration

	// IsFailure decides which errors count. Nil counts every error.
	IsFailure func(error) bool

	OnStateChange func(name string, from, to State)

	// Clock is used by tests.
	Clock func() time.Time
}

// Stats are lifetime counters.
type Stats struct {
	Calls    int
	Failures int
	Rejected int
}

// Breaker guards calls to one dependency.
type Breaker struct {
	s Settings

	mu       sync.Mutex
	state    State
	streak   int
	probing  bool
	openedAt time.Time
	stats    Stats
}

// New creates a closed breaker.
func New(s Settings) *Breaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.Probes <= 0 {
		s.Probes = 2
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
	return &Breaker{s: s}
}

// ForRemoteRunner is the breaker used in front of the remote code runner.
func ForRemoteRunner(onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:          "code-runner",
		MaxFailures:   5,
		Probes:        2,
		Cooldown:      30 * time.Second,
		OnStateChange: onStateChange,
	})
}

// Do calls fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// DoOr is Do with a fallback that runs when the call was rejected.
func (b *Breaker) DoOr(ctx context.Context, fn func(context.Context) error, fallback func(cause error) error) error {
	err := b.Do(ctx, fn)
	if errors.Is(err, ErrOpen) {
		return fallback(err)
	}
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldownElapsed()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if !b.probing {
			b.probing = true
			return nil
		}
	}
	b.stats.Rejected++
	return ErrOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Calls++
	failed := err != nil && (b.s.IsFailure == nil || b.s.IsFailure(err))
	if failed {
		b.stats.Failures++
	}

	switch b.state {
	case Closed:
		if !failed {
			b.streak = 0
			return
		}
		b.streak++
		if b.streak >= b.s.MaxFailures {
			b.moveTo(Open)
		}
	case HalfOpen:
		b.probing = false
		if failed {
			b.moveTo(Open)
			return
		}
		b.streak++
		if b.streak >= b.s.Probes {
			b.moveTo(Closed)
		}
	}
}

// cooldownElapsed moves an open breaker to half-open. Callers hold mu.
func (b *Breaker) cooldownElapsed() {
	if b.state == Open && b.s.Clock().Sub(b.openedAt) >= b.s.Cooldown {
		b.moveTo(HalfOpen)
	}
}

// moveTo changes state. Callers hold mu.
func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.streak = 0
	b.probing = false
	if to == Open {
		b.openedAt = b.s.Clock()
	}
	if b.s.OnStateChange != nil {
		b.s.OnStateChange(b.s.Name, from, to)
	}
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldownElapsed()
	return b.state
}

// Stats returns the counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset closes the breaker and clears the counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.streak = 0
	b.probing = false
	b.stats = Stats{}
}

func (b *Breaker) Name() string { return b.s.Name }
