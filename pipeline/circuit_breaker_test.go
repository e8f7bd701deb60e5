package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute, SuccessThreshold: 1})

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute(), "CanExecute must reject calls while open")
}

func TestCircuitBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	fixed := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second, SuccessThreshold: 1})
	cb.nowFn = func() time.Time { return fixed }

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State(), "expected open after single failure with threshold 1")

	cb.nowFn = func() time.Time { return fixed.Add(20 * time.Second) }
	assert.True(t, cb.CanExecute(), "breaker must allow a probe call once recovery timeout elapses")
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 0, SuccessThreshold: 2})
	cb.RecordFailure()
	cb.CanExecute() // transitions to half-open since RecoveryTimeout is 0

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State(), "expected to stay half-open after only 1 of 2 required successes")
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: 0, SuccessThreshold: 2})
	cb.RecordFailure()
	cb.CanExecute()
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.State(), "a half-open failure must reopen the breaker")
}

func TestCircuitBreakerExecuteRejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour, SuccessThreshold: 1})
	cb.RecordFailure()

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
