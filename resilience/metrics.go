package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_retry_attempts_total",
		Help: "Retry attempts by operation and result.",
	}, []string{"operation", "result"})

	metricRetryBackoff = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resilience_retry_backoff_seconds",
		Help:    "Backoff applied between retry attempts.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"operation"})

	metricStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_circuit_state_changes_total",
		Help: "Circuit breaker state transitions.",
	}, []string{"operation", "from", "to"})

	metricCircuitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_circuit_requests_total",
		Help: "Requests seen by circuit breakers, by state and result.",
	}, []string{"operation", "state", "result"})

	metricCircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resilience_circuit_open",
		Help: "1 when the operation's circuit breaker is open.",
	}, []string{"operation"})

	metricDeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_deadletter_published_total",
		Help: "Dead-letter records published for terminal failures.",
	}, []string{"operation", "severity"})

	metricEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resilience_escalations_total",
		Help: "Escalation notifications emitted.",
	}, []string{"operation", "severity", "reason"})
)
