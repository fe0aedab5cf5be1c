// Package breaker implements a circuit breaker around the external
// moderation dependency. One instance is shared per dependency endpoint for
// the life of the process: CLOSED under normal operation, OPEN after a run
// of consecutive failures (every call rejected without touching the
// dependency), HALF_OPEN after the cooldown, admitting exactly one probe.
package breaker

import (
	"context"
	"sync"
	"time"

	platformerrors "photosort-server-go/internal/platform/errors"
)

// State enumerates the breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateChangeFunc is notified on every state transition.
type StateChangeFunc func(from, to State)

// CircuitBreaker guards calls to a single dependency endpoint.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold    int
	recoveryTimeout     time.Duration
	consecutiveFailures int
	lastFailure         time.Time
	state               State

	now           func() time.Time
	onStateChange StateChangeFunc
}

// New creates a breaker tripping after failureThreshold consecutive
// failures and staying open for recoveryTimeout.
func New(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// OnStateChange registers a transition callback. Must be set before use.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// State returns the current state, accounting for cooldown expiry.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// ConsecutiveFailures returns the current failure run length.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Execute runs fn through the breaker. An open breaker rejects immediately
// without invoking fn. After the cooldown exactly one caller is admitted as
// a half-open probe; its outcome decides whether the breaker closes again.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, notify, err := cb.admit()
	cb.fire(notify)
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	cb.fire(cb.settle(probe, callErr))
	return callErr
}

type stateChange struct {
	from, to State
}

// admit decides whether a call may proceed and whether it is the half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, notify *stateChange, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return false, nil, nil
	case StateHalfOpen:
		// A probe is already in flight.
		return false, nil, platformerrors.New(platformerrors.KindBreaker, "admit",
			"circuit breaker is half-open, probe in flight")
	default: // StateOpen
		if cb.now().Sub(cb.lastFailure) < cb.recoveryTimeout {
			return false, nil, platformerrors.New(platformerrors.KindBreaker, "admit",
				"circuit breaker is open, failing fast")
		}
		return true, cb.transition(StateHalfOpen), nil
	}
}

// settle records the call outcome.
func (cb *CircuitBreaker) settle(probe bool, callErr error) *stateChange {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if callErr == nil {
		cb.consecutiveFailures = 0
		if cb.state != StateClosed {
			return cb.transition(StateClosed)
		}
		return nil
	}

	cb.consecutiveFailures++
	cb.lastFailure = cb.now()

	if probe {
		// Failed probe reopens the breaker and restarts the cooldown.
		return cb.transition(StateOpen)
	}

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		return cb.transition(StateOpen)
	}
	return nil
}

// transition switches state and returns the pending notification.
// Caller holds the lock; the callback is fired after release so that
// subscribers cannot deadlock on the breaker.
func (cb *CircuitBreaker) transition(to State) *stateChange {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) fire(change *stateChange) {
	if change == nil {
		return
	}
	cb.mu.Lock()
	fn := cb.onStateChange
	cb.mu.Unlock()
	if fn != nil {
		fn(change.from, change.to)
	}
}

// setClock replaces the time source, for tests.
func (cb *CircuitBreaker) setClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}
