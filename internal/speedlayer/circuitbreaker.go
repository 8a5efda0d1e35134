package speedlayer

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's state, adapted from the
// mutex-guarded isolation state machine elsewhere in the stack: here
// there are three states instead of six, and the "escalation" direction
// (Closed→Open) is driven by a trailing error rate rather than a
// severity score, with a HalfOpen probe standing in for decay.
type BreakerState uint8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// outcome is one call's pass/fail result, kept in a ring buffer to
// compute a trailing error rate over Window.
type outcome struct {
	at     time.Time
	failed bool
}

// CircuitBreaker opens when a configurable error rate is exceeded
// within a trailing window (§4.4). While open, escalations fail closed
// (deny) unless the caller holds system.admin.
type CircuitBreaker struct {
	mu    sync.Mutex
	state BreakerState

	errorThreshold float64
	window         time.Duration
	cooldown       time.Duration

	enteredOpenAt time.Time
	history       []outcome
	halfOpenTrial bool
}

// NewCircuitBreaker constructs a closed breaker.
func NewCircuitBreaker(errorThreshold float64, window, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:          BreakerClosed,
		errorThreshold: errorThreshold,
		window:         window,
		cooldown:       cooldown,
	}
}

// State returns the current breaker state, advancing Open→HalfOpen if
// the cooldown has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeTransitionToHalfOpenLocked() {
	if cb.state == BreakerOpen && time.Since(cb.enteredOpenAt) >= cb.cooldown {
		cb.state = BreakerHalfOpen
		cb.halfOpenTrial = false
	}
}

// Allow reports whether a new upstream delegation may proceed right
// now. In HalfOpen, only a single trial call is admitted at a time.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionToHalfOpenLocked()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if cb.halfOpenTrial {
			return false
		}
		cb.halfOpenTrial = true
		return true
	default: // BreakerOpen
		return false
	}
}

// Record reports the outcome of an upstream delegation call and updates
// the breaker's state.
func (cb *CircuitBreaker) Record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.history = append(cb.history, outcome{at: now, failed: failed})
	cb.pruneLocked(now)

	if cb.state == BreakerHalfOpen {
		if failed {
			cb.state = BreakerOpen
			cb.enteredOpenAt = now
		} else {
			cb.state = BreakerClosed
			cb.history = nil
		}
		return
	}

	if cb.state == BreakerClosed && cb.errorRateLocked() >= cb.errorThreshold && len(cb.history) > 0 {
		cb.state = BreakerOpen
		cb.enteredOpenAt = now
	}
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.window)
	i := 0
	for i < len(cb.history) && cb.history[i].at.Before(cutoff) {
		i++
	}
	cb.history = cb.history[i:]
}

func (cb *CircuitBreaker) errorRateLocked() float64 {
	if len(cb.history) == 0 {
		return 0
	}
	var failed int
	for _, o := range cb.history {
		if o.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(cb.history))
}
