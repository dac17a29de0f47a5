package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/logger"
	"github.com/agentuity/go-resilience/mask"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Subjects failure telemetry is published on.
const (
	SubjectDeadLetter   = "resilience.deadletter"
	SubjectEscalations  = "resilience.escalations"
	SubjectCircuitState = "resilience.circuit_state"
)

const maxStackBytes = 4096

// DeadLetterRecord captures a terminal failure for offline inspection and
// replay. Values that look sensitive (URLs, emails, tokens) are masked
// before the record leaves the process.
type DeadLetterRecord struct {
	ID           string            `json:"id"`
	Fingerprint  string            `json:"fingerprint"`
	Operation    string            `json:"operation"`
	Severity     Severity          `json:"severity"`
	ErrorMessage string            `json:"error_message"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorType    string            `json:"error_type,omitempty"`
	Attempts     int               `json:"attempts"`
	UserID       string            `json:"user_id,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Stack        string            `json:"stack,omitempty"`
	Service      string            `json:"service,omitempty"`
	Environment  string            `json:"environment,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// fingerprint produces a stable short hash so repeated failures of the same
// shape can be grouped downstream.
func fingerprint(operation, code, message string) string {
	h := xxhash.New()
	h.WriteString(operation)
	h.WriteString("|")
	h.WriteString(code)
	h.WriteString("|")
	h.WriteString(message)
	return strconv.FormatUint(h.Sum64(), 16)
}

// errorTypeName reports the concrete type of the root cause. Plain message
// errors (stdlib, cockroachdb leaves) add nothing over the message and map
// to "".
func errorTypeName(err error) string {
	name := fmt.Sprintf("%T", errors.UnwrapAll(err))
	switch name {
	case "*errors.errorString", "*errutil.leafError", "*fmt.wrapError":
		return ""
	}
	return name
}

func newDeadLetterRecord(opctx OperationContext, err error, attempts int) *DeadLetterRecord {
	code := CodeOf(err)
	record := &DeadLetterRecord{
		ID:           uuid.New().String(),
		Fingerprint:  fingerprint(opctx.Operation, code, err.Error()),
		Operation:    opctx.Operation,
		Severity:     opctx.Severity,
		ErrorMessage: err.Error(),
		ErrorCode:    code,
		ErrorType:    errorTypeName(err),
		Attempts:     attempts,
		UserID:       mask.Value(opctx.UserID),
		RequestID:    opctx.RequestID,
		Timestamp:    opctx.Timestamp,
	}
	if len(opctx.Metadata) > 0 {
		record.Metadata = make(map[string]string, len(opctx.Metadata))
		for k, v := range opctx.Metadata {
			record.Metadata[k] = mask.Value(v)
		}
	}
	// keep the stack when the error chain captured one
	if verbose := fmt.Sprintf("%+v", err); verbose != err.Error() {
		if len(verbose) > maxStackBytes {
			verbose = verbose[:maxStackBytes]
		}
		record.Stack = verbose
	}
	return record
}

// DeadLetterSink receives records for terminal failures. Implementations
// must tolerate being called concurrently.
type DeadLetterSink interface {
	Publish(ctx context.Context, record *DeadLetterRecord) error
}

// EventingSink publishes dead-letter records as JSON to the durable
// SubjectDeadLetter stream.
type EventingSink struct {
	client eventing.Client
	logger logger.Logger
}

var _ DeadLetterSink = (*EventingSink)(nil)

// NewEventingSink returns a sink that appends records to the dead-letter
// stream.
func NewEventingSink(log logger.Logger, client eventing.Client) *EventingSink {
	return &EventingSink{
		client: client,
		logger: log.With(map[string]interface{}{"component": "deadletter"}),
	}
}

func (s *EventingSink) Publish(ctx context.Context, record *DeadLetterRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal dead-letter record")
	}
	opts := []eventing.PublishOption{
		eventing.WithHeader("operation", record.Operation),
		eventing.WithHeader("severity", record.Severity.String()),
		eventing.WithHeader("fingerprint", record.Fingerprint),
	}
	if record.ErrorCode != "" {
		opts = append(opts, eventing.WithHeader("code", record.ErrorCode))
	}
	if record.Environment != "" {
		opts = append(opts, eventing.WithHeader("environment", record.Environment))
	}
	if err := s.client.QueuePublish(ctx, SubjectDeadLetter, payload, opts...); err != nil {
		return errors.Wrap(err, "failed to publish dead-letter record")
	}
	s.logger.Debug("published dead-letter record %s for %s", record.ID, record.Operation)
	return nil
}

// LogSink records dead letters in the log only. It is the default when no
// eventing client is configured.
type LogSink struct {
	logger logger.Logger
}

var _ DeadLetterSink = (*LogSink)(nil)

// NewLogSink returns a sink that writes records to the logger.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{logger: log.With(map[string]interface{}{"component": "deadletter"})}
}

func (s *LogSink) Publish(ctx context.Context, record *DeadLetterRecord) error {
	s.logger.With(map[string]interface{}{
		"id":          record.ID,
		"operation":   record.Operation,
		"severity":    record.Severity.String(),
		"fingerprint": record.Fingerprint,
		"attempts":    record.Attempts,
	}).Error("dead letter: %s", record.ErrorMessage)
	return nil
}
