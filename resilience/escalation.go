package resilience

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/logger"
	"github.com/cockroachdb/errors"
)

// Reason states why an escalation was raised.
type Reason string

const (
	ReasonRetryExhausted Reason = "RETRY_EXHAUSTED"
	ReasonCircuitOpen    Reason = "CIRCUIT_OPEN"
	ReasonUnrecoverable  Reason = "UNRECOVERABLE"
)

// EscalationNotification is sent to operators when a failure needs human
// attention: retry exhaustion on a HIGH or CRITICAL operation, a circuit
// opening, or an explicitly unrecoverable error.
type EscalationNotification struct {
	Operation    string    `json:"operation"`
	Severity     Severity  `json:"severity"`
	Reason       Reason    `json:"reason"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Escalator delivers escalation notifications.
type Escalator interface {
	Escalate(ctx context.Context, notification *EscalationNotification) error
}

// EventingEscalator publishes notifications to SubjectEscalations using
// fan-out delivery, so every listening operator console sees them.
type EventingEscalator struct {
	client eventing.Client
	logger logger.Logger
}

var _ Escalator = (*EventingEscalator)(nil)

// NewEventingEscalator returns an escalator that publishes notifications
// over the event client.
func NewEventingEscalator(log logger.Logger, client eventing.Client) *EventingEscalator {
	return &EventingEscalator{
		client: client,
		logger: log.With(map[string]interface{}{"component": "escalation"}),
	}
}

func (e *EventingEscalator) Escalate(ctx context.Context, notification *EscalationNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return errors.Wrap(err, "failed to marshal escalation")
	}
	err = e.client.Publish(ctx, SubjectEscalations, payload,
		eventing.WithHeader("operation", notification.Operation),
		eventing.WithHeader("severity", notification.Severity.String()),
		eventing.WithHeader("reason", string(notification.Reason)),
	)
	if err != nil {
		return errors.Wrap(err, "failed to publish escalation")
	}
	e.logger.Debug("escalated %s for %s", notification.Reason, notification.Operation)
	return nil
}

// LogEscalator writes notifications to the log, ERROR for CRITICAL and WARN
// otherwise. It is the default when no eventing client is configured.
type LogEscalator struct {
	logger logger.Logger
}

var _ Escalator = (*LogEscalator)(nil)

// NewLogEscalator returns an escalator that writes to the logger.
func NewLogEscalator(log logger.Logger) *LogEscalator {
	return &LogEscalator{logger: log.With(map[string]interface{}{"component": "escalation"})}
}

func (e *LogEscalator) Escalate(ctx context.Context, notification *EscalationNotification) error {
	log := e.logger.With(map[string]interface{}{
		"operation": notification.Operation,
		"severity":  notification.Severity.String(),
		"reason":    string(notification.Reason),
		"attempts":  notification.Attempts,
	})
	if notification.Severity == SeverityCritical {
		log.Error("escalation: %s", notification.ErrorMessage)
	} else {
		log.Warn("escalation: %s", notification.ErrorMessage)
	}
	return nil
}
