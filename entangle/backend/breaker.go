package backend

import (
	"sync"
	"time"
)

// BreakerState is the operating mode of a CircuitBreaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests flow
	BreakerOpen                         // requests rejected until the reset timeout passes
	BreakerHalfOpen                     // a limited number of probe requests flow
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// A CircuitBreaker stops traffic to a failing backend after maxFailures
// consecutive failures, and lets up to halfOpenMax probe requests through once
// resetTimeout has passed. halfOpenMax probe successes close it again; any
// probe failure reopens it.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	failures     int
	state        BreakerState
	openedAt     time.Time
	probes       int
	successes    int

	// now is swapped out in tests.
	now func() time.Time
}

// NewCircuitBreaker returns a closed breaker. Non-positive maxFailures and
// halfOpenMax are treated as 1.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if halfOpenMax < 1 {
		halfOpenMax = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  halfOpenMax,
		now:          time.Now,
	}
}

// Allow reports whether a request may proceed. A request admitted while
// half-open takes one of the probe slots.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.state = BreakerHalfOpen
		cb.probes, cb.successes = 0, 0
	}
	if cb.probes >= cb.halfOpenMax {
		return false
	}
	cb.probes++
	return true
}

// Available reports whether Allow would admit a request, without taking a
// probe slot.
func (cb *CircuitBreaker) Available() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		return cb.now().Sub(cb.openedAt) >= cb.resetTimeout
	}
	return cb.probes < cb.halfOpenMax
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.probes, cb.successes = 0, 0
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerHalfOpen:
		cb.open()
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.open()
		}
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.probes, cb.successes = 0, 0
}

// State returns the current mode without advancing it.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
