package resilience

import "time"

// OperationContext carries the metadata for one protected invocation. The
// Operation name keys the circuit breaker and labels all telemetry emitted
// for the call.
type OperationContext struct {
	// Operation names the protected call, e.g. "payment.charge". Required.
	Operation string
	// Severity gates escalation of terminal failures. Defaults to MEDIUM.
	Severity Severity
	// UserID optionally correlates the failure with an end user.
	UserID string
	// RequestID optionally correlates the failure with an inbound request.
	RequestID string
	// Metadata carries free-form labels into dead-letter records.
	Metadata map[string]string
	// Timestamp is when the invocation started. Zero means "now".
	Timestamp time.Time
}

func (o OperationContext) withDefaults(now time.Time) OperationContext {
	if o.Severity == "" {
		o.Severity = SeverityMedium
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = now
	}
	return o
}
