package resilience

import (
	"errors"
	"net/http"
	"testing"
	"time"

	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func newBreaker(threshold uint) (*CircuitBreaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		CoolDown:         10 * time.Second,
	}, logger.Discard())
	cb.now = func() time.Time { return now }
	return cb, &now
}

var (
	serverDown = func() error { return apperrors.NewAPIStatusError("op", http.StatusBadGateway) }
	notFound   = func() error { return apperrors.NewAPIStatusError("op", http.StatusNotFound) }
	ok         = func() error { return nil }
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newBreaker(3)

	for i := 0; i < 3; i++ {
		assert.Equal(t, apperrors.CodeAPIStatus, apperrors.GetErrorCode(cb.Execute(serverDown)))
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.True(t, errors.Is(err, apperrors.ErrCircuitOpen))
	assert.False(t, called)
}

func TestCircuitBreakerIgnoresClientErrors(t *testing.T) {
	cb, _ := newBreaker(2)
	for i := 0; i < 5; i++ {
		_ = cb.Execute(notFound)
	}
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb, now := newBreaker(1)
	var states []CircuitBreakerState
	cb.OnStateChange(func(s CircuitBreakerState) { states = append(states, s) })

	_ = cb.Execute(serverDown)
	assert.Equal(t, StateOpen, cb.GetState())

	*now = now.Add(11 * time.Second)
	assert.NoError(t, cb.Execute(ok))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []CircuitBreakerState{StateOpen, StateHalfOpen, StateClosed}, states)
}

func TestCircuitBreakerReopensOnFailedProbe(t *testing.T) {
	cb, now := newBreaker(1)
	_ = cb.Execute(serverDown)

	*now = now.Add(11 * time.Second)
	_ = cb.Execute(serverDown)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.EqualValues(t, 2, cb.GetMetrics()["open_circuit_count"])
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb, _ := newBreaker(0)
	for i := 0; i < 10; i++ {
		_ = cb.Execute(serverDown)
	}
	assert.Equal(t, StateClosed, cb.GetState())

	var nilBreaker *CircuitBreaker
	assert.NoError(t, nilBreaker.Execute(ok))
}
