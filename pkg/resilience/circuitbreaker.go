package resilience

import (
	"net/http"
	"sync"
	"time"

	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"
)

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means calls reach the API
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means calls fail fast without touching the network
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means a limited number of probe calls are let through
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Zero disables the breaker.
	FailureThreshold uint

	// SuccessThreshold is the number of probe successes that closes it again
	SuccessThreshold uint

	// CoolDown is how long the circuit stays open before probing
	CoolDown time.Duration
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		CoolDown:         30 * time.Second,
	}
}

// CircuitBreaker stops hammering an API that is down. It never retries a
// call; it only refuses to start one while open.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	log   *logger.Logger
	now   func() time.Time
	mutex sync.Mutex

	state           CircuitBreakerState
	failureCount    uint
	successCount    uint
	probeInFlight   uint
	nextAttemptTime time.Time
	openCount       uint64
	onStateChange   func(CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &CircuitBreaker{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		state: StateClosed,
	}
}

// OnStateChange registers a callback for state transitions (metrics)
func (cb *CircuitBreaker) OnStateChange(fn func(CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the circuit breaker
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb == nil || cb.cfg.FailureThreshold == 0 {
		return fn()
	}

	if !cb.allowRequest() {
		cb.log.Warn("Circuit breaker preventing request", "name", cb.cfg.Name)
		return apperrors.ErrCircuitOpen
	}

	err := fn()
	if countsAsFailure(err) {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return err
}

// countsAsFailure decides which errors say something about API health.
// Client-side 4xx responses do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch apperrors.GetErrorCode(err) {
	case apperrors.CodeNetwork:
		return true
	case apperrors.CodeAPIStatus:
		return apperrors.GetStatusCode(err) >= http.StatusInternalServerError
	}
	return false
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.successCount = 0
		cb.probeInFlight = 1
		return true
	case StateHalfOpen:
		if cb.probeInFlight >= cb.cfg.SuccessThreshold {
			return false
		}
		cb.probeInFlight++
		return true
	}
	return false
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.failureCount = 0
			cb.probeInFlight = 0
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

// open must be called with the mutex held
func (cb *CircuitBreaker) open() {
	cb.openCount++
	cb.probeInFlight = 0
	cb.nextAttemptTime = cb.now().Add(cb.cfg.CoolDown)
	cb.transition(StateOpen)
	cb.log.Warn("Circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failureCount,
		"next_attempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

// transition must be called with the mutex held
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	if to != StateOpen {
		cb.log.Info("Circuit breaker state changed", "name", cb.cfg.Name, "state", string(to))
	}
	if cb.onStateChange != nil {
		cb.onStateChange(to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// GetMetrics returns a snapshot for the health endpoint
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return map[string]interface{}{
		"name":               cb.cfg.Name,
		"state":              string(cb.state),
		"consecutive_errors": cb.failureCount,
		"open_circuit_count": cb.openCount,
	}
}
