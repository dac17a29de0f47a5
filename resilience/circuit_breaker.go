package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed - normal operation, requests pass through
	StateClosed CircuitBreakerState = iota
	// StateHalfOpen - trial state, successes close the circuit again
	StateHalfOpen
	// StateOpen - failing fast, requests are rejected without running
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds the thresholds for one breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in CLOSED that
	// trips the circuit.
	FailureThreshold int
	// OpenTimeout is how long the circuit fails fast before allowing a
	// trial request.
	OpenTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// required to close the circuit.
	SuccessThreshold int
	// MonitoringWindow bounds how long a failure streak is remembered in
	// CLOSED. A failure arriving later than this after the previous one
	// starts a new streak. Zero keeps streaks forever.
	MonitoringWindow time.Duration
}

// DefaultCircuitBreakerConfig returns the default circuit breaker configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c CircuitBreakerConfig) normalize() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.MonitoringWindow < 0 {
		c.MonitoringWindow = 0
	}
	return c
}

// StateChangeHook is invoked after a breaker changes state. Hooks run
// outside the breaker lock and may call back into the breaker.
type StateChangeHook func(operation string, from, to CircuitBreakerState)

// BreakerStatus is a point-in-time snapshot of one breaker.
type BreakerStatus struct {
	Operation     string              `json:"operation"`
	State         CircuitBreakerState `json:"-"`
	StateName     string              `json:"state"`
	Failures      int                 `json:"failures"`
	Successes     int                 `json:"successes"`
	NextAttempt   time.Time           `json:"next_attempt,omitzero"`
	LastFailure   time.Time           `json:"last_failure,omitzero"`
	Requests      uint64              `json:"requests"`
	TotalFailures uint64              `json:"total_failures"`
}

// CircuitBreaker implements the circuit breaker pattern for a single named
// operation. All state lives behind one mutex so transitions apply in
// completion order; separate operations never share a lock.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	clock  Clock
	hook   StateChangeHook

	mu            sync.Mutex
	state         CircuitBreakerState
	failures      int
	successes     int
	nextAttempt   time.Time
	lastFailure   time.Time
	requests      uint64
	totalFailures uint64
}

// NewCircuitBreaker creates a breaker for the named operation.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.normalize(),
		clock:  SystemClock,
	}
}

// Allow checks whether a request may proceed. In OPEN it returns a
// CircuitOpenError until the open timeout has elapsed, at which point the
// breaker moves to HALF_OPEN and the request is admitted as a trial.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	now := cb.clock.Now()
	if cb.state == StateOpen {
		if now.Before(cb.nextAttempt) {
			err := &CircuitOpenError{Operation: cb.name, Until: cb.nextAttempt}
			cb.mu.Unlock()
			return err
		}
		cb.successes = 0
		cb.setStateLocked(StateHalfOpen)
		cb.requests++
		from, to := StateOpen, StateHalfOpen
		cb.mu.Unlock()
		cb.fireHook(from, to)
		return nil
	}
	cb.requests++
	cb.mu.Unlock()
	return nil
}

// RecordSuccess reports a successful call through the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var fired bool
	var from CircuitBreakerState
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			from = cb.state
			cb.failures = 0
			cb.successes = 0
			cb.setStateLocked(StateClosed)
			fired = true
		}
	case StateOpen:
		// a call that was admitted earlier finished after the circuit
		// re-opened; the result no longer changes anything
	}
	cb.mu.Unlock()
	if fired {
		cb.fireHook(from, StateClosed)
	}
}

// RecordFailure reports a failed call through the breaker. In CLOSED the
// consecutive-failure counter advances toward the threshold; in HALF_OPEN a
// single failure re-opens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	now := cb.clock.Now()
	prev := cb.lastFailure
	cb.lastFailure = now
	cb.totalFailures++
	var fired bool
	var from CircuitBreakerState
	switch cb.state {
	case StateClosed:
		if cb.config.MonitoringWindow > 0 && !prev.IsZero() && now.Sub(prev) > cb.config.MonitoringWindow {
			cb.failures = 0
		}
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			from = cb.state
			cb.nextAttempt = now.Add(cb.config.OpenTimeout)
			cb.setStateLocked(StateOpen)
			fired = true
		}
	case StateHalfOpen:
		from = cb.state
		cb.nextAttempt = now.Add(cb.config.OpenTimeout)
		cb.setStateLocked(StateOpen)
		fired = true
	case StateOpen:
		// nextAttempt was fixed when the circuit tripped; late failures
		// only update lastFailure
	}
	cb.mu.Unlock()
	if fired {
		cb.fireHook(from, StateOpen)
	}
}

// Execute runs fn through the breaker, recording the outcome. When the
// circuit is open fn is not invoked. A context that died before or during
// the call is not held against the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn(ctx)
	if err == nil {
		cb.RecordSuccess()
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	cb.RecordFailure()
	return err
}

// State returns the current state without side effects. An expired open
// window still reports OPEN until the next Allow admits a trial request.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Successes returns the consecutive success count in HALF_OPEN.
func (cb *CircuitBreaker) Successes() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.successes
}

// Status returns a snapshot of the breaker.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStatus{
		Operation:     cb.name,
		State:         cb.state,
		StateName:     cb.state.String(),
		Failures:      cb.failures,
		Successes:     cb.successes,
		NextAttempt:   cb.nextAttempt,
		LastFailure:   cb.lastFailure,
		Requests:      cb.requests,
		TotalFailures: cb.totalFailures,
	}
}

// Reset forces the breaker to CLOSED and clears its counters. Resetting an
// already-closed breaker is a no-op.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.failures = 0
	cb.successes = 0
	cb.nextAttempt = time.Time{}
	changed := from != StateClosed
	if changed {
		cb.setStateLocked(StateClosed)
	}
	cb.mu.Unlock()
	if changed {
		cb.fireHook(from, StateClosed)
	}
}

// ForceOpen trips the breaker as if the failure threshold had been reached.
// The circuit recovers through the normal HALF_OPEN path after OpenTimeout.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	from := cb.state
	changed := from != StateOpen
	cb.nextAttempt = cb.clock.Now().Add(cb.config.OpenTimeout)
	if changed {
		cb.setStateLocked(StateOpen)
	}
	cb.mu.Unlock()
	if changed {
		cb.fireHook(from, StateOpen)
	}
}

func (cb *CircuitBreaker) setStateLocked(state CircuitBreakerState) {
	cb.state = state
}

func (cb *CircuitBreaker) fireHook(from, to CircuitBreakerState) {
	if cb.hook != nil {
		cb.hook(cb.name, from, to)
	}
}
