package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"equity-alerts/internal/series"
)

// State is a breaker position. Values double as the scanner_source_breaker_state gauge.
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
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the provider while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker counts consecutive provider faults. At threshold it opens and
// rejects fetches until cooldown has passed since the last fault, then lets a
// single probe through: success closes it, failure reopens it.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to State)

	mu       sync.Mutex
	state    State
	streak   int
	openedAt time.Time
	inFlight bool
	trips    int
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// OnTransition observes state changes. It runs with the breaker locked and
// must not call back into it.
func OnTransition(fn func(from, to State)) BreakerOption {
	return func(b *Breaker) { b.onChange = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker opens after threshold consecutive faults and probes after cooldown.
func NewBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State reports the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips counts closed/half-open to open transitions.
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// acquire admits a call or returns ErrCircuitOpen.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.move(StateHalfOpen)
		b.inFlight = true
	case StateHalfOpen:
		if b.inFlight {
			return ErrCircuitOpen
		}
		b.inFlight = true
	}
	return nil
}

// release records the outcome of an admitted call. fault reports a provider
// failure; anything else counts as healthy.
func (b *Breaker) release(fault bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inFlight = false
	if !fault {
		b.streak = 0
		if b.state == StateHalfOpen {
			b.move(StateClosed)
		}
		return
	}
	b.streak++
	if b.state == StateHalfOpen || b.streak >= b.threshold {
		b.openedAt = b.now()
		b.move(StateOpen)
	}
}

func (b *Breaker) move(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	switch to {
	case StateOpen:
		b.trips++
	case StateClosed:
		b.streak = 0
	}
	if b.onChange != nil {
		b.onChange(from, to)
		return
	}
	slog.Warn("datasource: breaker state change", "from", from.String(), "to", to.String())
}

// Guarded is a Source behind a Breaker. ErrNoData and caller cancellation
// are answers, not provider faults; a fetch that runs past its deadline is a
// fault.
type Guarded struct {
	Source
	breaker *Breaker
}

// WithBreaker guards src with b.
func WithBreaker(src Source, b *Breaker) *Guarded {
	return &Guarded{Source: src, breaker: b}
}

// Breaker returns the guarding breaker.
func (g *Guarded) Breaker() *Breaker { return g.breaker }

func (g *Guarded) FetchBars(ctx context.Context, symbol string, interval Interval, rng Range) (*series.Series, error) {
	if err := g.breaker.acquire(); err != nil {
		return nil, fmt.Errorf("fetch %s from %s: %w", symbol, g.Source.Name(), err)
	}
	s, err := g.Source.FetchBars(ctx, symbol, interval, rng)
	canceled := errors.Is(ctx.Err(), context.Canceled)
	fault := err != nil && !errors.Is(err, ErrNoData) && !canceled
	g.breaker.release(fault)
	return s, err
}
