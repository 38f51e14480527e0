package transport

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows calls through; failures are counted.
	StateClosed State = iota
	// StateOpen rejects calls immediately until the reset timeout elapses.
	StateOpen
	// StateHalfOpen allows a single trial call after the reset timeout.
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

// Breaker is a Closed/Open/HalfOpen circuit breaker over consecutive
// failures. Safe for concurrent use, though in this pipeline only the
// single flush worker drives transitions.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time // injectable clock for tests

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker that opens after threshold
// consecutive failures and allows a trial call after resetTimeout.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open and
// the reset timeout has elapsed, it transitions to half-open and admits
// exactly one trial call.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// A trial call is already in flight; reject until it settles.
		return false
	default:
		return false
	}
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// Failure records a failed call. In the closed state it opens the breaker
// once the consecutive-failure threshold is reached; in half-open it
// reopens immediately and restarts the reset timeout.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
