package pipeline

import (
	"sync"
	"time"

	"github.com/repr0bated/substrate/xerrors"
)

// CircuitState mirrors resilience.CircuitState's three-state machine.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig is the threshold-based subset of the teacher's
// resilience.CircuitBreakerConfig: this port adapts the simpler
// failure-count/recovery-timeout mode (the teacher itself keeps this as
// a documented legacy path behind the full sliding-window
// implementation) since one agent per pipeline step doesn't need a
// rolling error-rate window — a plain count is enough signal.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // how long Open holds before probing Half-Open
	SuccessThreshold int           // consecutive Half-Open successes needed to close
}

// DefaultCircuitBreakerConfig matches the teacher's defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker guards one agent: once it trips, calls are rejected
// without invoking the agent at all until the recovery timeout passes.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	state            CircuitState
	consecutiveFails int
	halfOpenSuccess  int
	openedAt         time.Time

	nowFn func() time.Time
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: StateClosed, nowFn: time.Now}
}

// CanExecute reports whether a call should be allowed through right
// now, transitioning Open -> HalfOpen once the recovery timeout elapses.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if cb.nowFn().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.halfOpenSuccess = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess clears the failure streak and, in HalfOpen, counts
// toward closing the circuit again.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	if cb.state == StateHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.halfOpenSuccess = 0
		}
	}
}

// RecordFailure counts a failure and trips the breaker once the
// threshold is hit (in Closed) or immediately reopens it (in HalfOpen,
// where a single failure means the dependency still isn't healthy).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = cb.nowFn()
		cb.halfOpenSuccess = 0
	case StateClosed:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = cb.nowFn()
		}
	}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ErrCircuitOpen is returned by Execute when the breaker rejects a call
// outright.
var ErrCircuitOpen = xerrors.NewFrameworkError("pipeline.CircuitBreaker", "agent", "", xerrors.ErrAgentUnresponsive)

// Execute runs fn if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.CanExecute() {
		return ErrCircuitOpen
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
