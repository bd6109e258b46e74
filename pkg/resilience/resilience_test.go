package resilience

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"relaychat-backend/pkg/logger"
)

func init() {
	logger.InitDefault()
}

func TestExecute_PassesThroughWhileClosed(t *testing.T) {
	breaker := NewPublishResilience()

	calls := 0
	err := breaker.Execute("publish", func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitBreakerClosed, breaker.GetCircuitBreakerState())
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	breaker := NewPublishResilience()
	brokerDown := errors.New("connection refused")

	for i := 0; i < failureThreshold; i++ {
		err := breaker.Execute("publish", func() error { return brokerDown })
		assert.ErrorIs(t, err, brokerDown)
	}

	assert.Equal(t, CircuitBreakerOpen, breaker.GetCircuitBreakerState())

	// While open the operation is rejected without being attempted
	calls := 0
	err := breaker.Execute("publish", func() error {
		calls++
		return nil
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, 0, calls)
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	breaker := NewPublishResilience()
	brokerDown := errors.New("connection refused")

	breaker.Execute("publish", func() error { return brokerDown })
	breaker.Execute("publish", func() error { return brokerDown })
	assert.NoError(t, breaker.Execute("publish", func() error { return nil }))

	// Two more failures should not trip the breaker after the reset
	breaker.Execute("publish", func() error { return brokerDown })
	breaker.Execute("publish", func() error { return brokerDown })
	assert.Equal(t, CircuitBreakerClosed, breaker.GetCircuitBreakerState())
}

func TestHalfOpen_ReopensOnProbeFailure(t *testing.T) {
	breaker := NewPublishResilience()
	brokerDown := errors.New("connection refused")

	for i := 0; i < failureThreshold; i++ {
		breaker.Execute("publish", func() error { return brokerDown })
	}
	assert.Equal(t, CircuitBreakerOpen, breaker.GetCircuitBreakerState())

	// Simulate the cooldown elapsing
	breaker.mu.Lock()
	breaker.lastFailureTime = breaker.lastFailureTime.Add(-2 * cooldownPeriod)
	breaker.mu.Unlock()

	err := breaker.Execute("publish", func() error { return brokerDown })
	assert.ErrorIs(t, err, brokerDown)
	assert.Equal(t, CircuitBreakerOpen, breaker.GetCircuitBreakerState())
}

func TestHalfOpen_ClosesOnProbeSuccess(t *testing.T) {
	breaker := NewPublishResilience()
	brokerDown := errors.New("connection refused")

	for i := 0; i < failureThreshold; i++ {
		breaker.Execute("publish", func() error { return brokerDown })
	}

	breaker.mu.Lock()
	breaker.lastFailureTime = breaker.lastFailureTime.Add(-2 * cooldownPeriod)
	breaker.mu.Unlock()

	assert.NoError(t, breaker.Execute("publish", func() error { return nil }))
	assert.Equal(t, CircuitBreakerClosed, breaker.GetCircuitBreakerState())
}
