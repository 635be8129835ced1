package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

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
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing dependency for timeout after
// maxFailures consecutive failures, then lets trial calls through.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	maxFailures   int
	timeout       time.Duration
	halfOpenMax   int
	onStateChange func(from, to State)
	now           func() time.Time
}

type Option func(*CircuitBreaker)

// WithStateChange registers a hook called, under the breaker's lock, on
// every transition.
func WithStateChange(fn func(from, to State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// WithHalfOpenSuccesses sets how many trial successes close the circuit.
func WithHalfOpenSuccesses(n int) Option {
	return func(cb *CircuitBreaker) {
		cb.halfOpenMax = n
	}
}

func New(maxFailures int, timeout time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		timeout:     timeout,
		halfOpenMax: 3,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call may proceed, moving an expired open
// circuit to half-open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.timeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.successes = 0
	}
	return nil
}

// Record feeds the outcome of a call allowed by Allow.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
		return
	}

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.transition(StateClosed)
			cb.failures = 0
		}
		return
	}
	cb.failures = 0
}

// Execute runs fn if the circuit allows it and records the result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
