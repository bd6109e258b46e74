package resilience

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"relaychat-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

const (
	failureThreshold = 3
	cooldownPeriod   = 10 * time.Second
	halfOpenLimit    = 3
)

// PublishResilience wraps event fan-out with a circuit breaker. Publishes
// are fire and forget, so the breaker fails fast instead of retrying:
// while Redis is down we stop hammering it and callers fall back to
// their logged-and-continue path.
type PublishResilience struct {
	mu                  sync.RWMutex
	state               CircuitBreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	metrics             *publishMetrics
}

// publishMetrics tracks fan-out health
type publishMetrics struct {
	requestsTotal       *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	circuitBreakerState prometheus.Gauge
}

var (
	publishMetricsInstance *publishMetrics
	publishMetricsOnce     sync.Once
)

// init registers fan-out metrics with Prometheus
func init() {
	publishMetricsOnce.Do(func() {
		publishMetricsInstance = &publishMetrics{
			requestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "event_publish_requests_total",
					Help: "Total number of event publish attempts",
				},
				[]string{"operation", "status"},
			),
			errorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "event_publish_errors_total",
					Help: "Total number of event publish errors",
				},
				[]string{"operation", "error_type"},
			),
			circuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "event_publish_circuit_breaker_state",
				Help: "State of event publish circuit breaker (0=closed, 1=half_open, 2=open)",
			}),
		}
		prometheus.MustRegister(publishMetricsInstance.requestsTotal)
		prometheus.MustRegister(publishMetricsInstance.errorsTotal)
		prometheus.MustRegister(publishMetricsInstance.circuitBreakerState)
	})
}

// NewPublishResilience creates a new fan-out circuit breaker
func NewPublishResilience() *PublishResilience {
	return &PublishResilience{
		state:   CircuitBreakerClosed,
		metrics: publishMetricsInstance,
	}
}

// Execute runs a publish operation guarded by the circuit breaker
func (r *PublishResilience) Execute(operation string, fn func() error) error {
	if !r.allow(operation) {
		r.metrics.requestsTotal.WithLabelValues(operation, "circuit_breaker_open").Inc()
		return fmt.Errorf("event broker temporarily unavailable (circuit breaker open)")
	}

	err := fn()
	if err == nil {
		r.recordSuccess(operation)
		r.metrics.requestsTotal.WithLabelValues(operation, "success").Inc()
		return nil
	}

	r.recordFailure(operation, err)
	r.metrics.errorsTotal.WithLabelValues(operation, classifyError(err)).Inc()
	r.metrics.requestsTotal.WithLabelValues(operation, "failure").Inc()
	return err
}

// allow decides whether a request may proceed in the current state
func (r *PublishResilience) allow(operation string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case CircuitBreakerClosed:
		return true
	case CircuitBreakerOpen:
		if time.Since(r.lastFailureTime) > cooldownPeriod {
			r.state = CircuitBreakerHalfOpen
			r.halfOpenAttempts = 0
			r.metrics.circuitBreakerState.Set(1)
			logger.Warn("event publish circuit breaker HALF-OPEN",
				zap.String("operation", operation),
			)
			return true
		}
		return false
	case CircuitBreakerHalfOpen:
		if r.halfOpenAttempts >= halfOpenLimit {
			return false
		}
		r.halfOpenAttempts++
		return true
	}
	return true
}

func (r *PublishResilience) recordSuccess(operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != CircuitBreakerClosed {
		logger.Info("event publish circuit breaker CLOSED - broker recovered",
			zap.String("operation", operation),
		)
		r.metrics.circuitBreakerState.Set(0)
	}
	r.state = CircuitBreakerClosed
	r.consecutiveFailures = 0
	r.halfOpenAttempts = 0
	r.lastFailureTime = time.Time{}
}

func (r *PublishResilience) recordFailure(operation string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveFailures++
	r.lastFailureTime = time.Now()

	if r.state == CircuitBreakerHalfOpen || r.consecutiveFailures >= failureThreshold {
		if r.state != CircuitBreakerOpen {
			logger.Error("event publish circuit breaker OPEN - too many consecutive failures",
				zap.String("operation", operation),
				zap.Int("consecutive_failures", r.consecutiveFailures),
				zap.Error(err),
			)
		}
		r.state = CircuitBreakerOpen
		r.metrics.circuitBreakerState.Set(2)
	}
}

// GetCircuitBreakerState returns the current circuit breaker state
func (r *PublishResilience) GetCircuitBreakerState() CircuitBreakerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "circuit breaker"):
		return "circuit_breaker"
	default:
		return "unknown"
	}
}
