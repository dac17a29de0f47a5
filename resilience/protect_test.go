package resilience

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-resilience/logger"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu      sync.Mutex
	err     error
	records []*DeadLetterRecord
}

func (s *captureSink) Publish(ctx context.Context, record *DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *captureSink) Records() []*DeadLetterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*DeadLetterRecord, len(s.records))
	copy(out, s.records)
	return out
}

type captureEscalator struct {
	mu    sync.Mutex
	notes []*EscalationNotification
}

func (e *captureEscalator) Escalate(ctx context.Context, notification *EscalationNotification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notes = append(e.notes, notification)
	return nil
}

func (e *captureEscalator) Notifications() []*EscalationNotification {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*EscalationNotification, len(e.notes))
	copy(out, e.notes)
	return out
}

type protectorHarness struct {
	clock     *fakeClock
	log       *logger.TestLogger
	sink      *captureSink
	escalator *captureEscalator
	protector *Protector
}

func newHarness(opts ...Option) *protectorHarness {
	h := &protectorHarness{
		clock:     newFakeClock(),
		log:       logger.NewTestLogger(),
		sink:      &captureSink{},
		escalator: &captureEscalator{},
	}
	base := []Option{
		WithClock(h.clock),
		WithLogger(h.log),
		WithSink(h.sink),
		WithEscalator(h.escalator),
	}
	h.protector = New(append(base, opts...)...)
	return h
}

func noJitterRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:        maxRetries,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestProtectorRequiresOperation(t *testing.T) {
	h := newHarness()
	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return nil
	}

	assert.ErrorIs(t, h.protector.ExecuteWithRetry(context.Background(), OperationContext{}, fn), ErrNoOperation)
	assert.ErrorIs(t, h.protector.ExecuteWithCircuitBreaker(context.Background(), OperationContext{}, fn), ErrNoOperation)
	assert.ErrorIs(t, h.protector.ExecuteWithFullProtection(context.Background(), OperationContext{}, fn), ErrNoOperation)
	assert.ErrorIs(t, h.protector.HandleUnrecoverableError(context.Background(), OperationContext{}, errors.New("boom")), ErrNoOperation)
	assert.Zero(t, calls)
}

func TestProtectorRetryRecovery(t *testing.T) {
	h := newHarness(WithRetryConfig(noJitterRetry(3)))

	calls := 0
	err := h.protector.ExecuteWithRetry(context.Background(), OperationContext{Operation: "flaky.op"}, func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return Transient(fmt.Errorf("blip %d", calls))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.clock.Sleeps())
	assert.Empty(t, h.sink.Records(), "a recovered operation leaves no dead letter")
	assert.Empty(t, h.escalator.Notifications())
	assert.True(t, h.log.Contains("recovered on attempt 4"))
}

func TestProtectorRetryExhaustion(t *testing.T) {
	h := newHarness(WithRetryConfig(noJitterRetry(2)))

	baseErr := Transient(errors.New("upstream down"))
	calls := 0
	err := h.protector.ExecuteWithRetry(context.Background(), OperationContext{Operation: "sync.op"}, func(ctx context.Context) error {
		calls++
		return baseErr
	})

	assert.Equal(t, 3, calls)
	if err != baseErr {
		t.Fatalf("caller must receive the operation's own error, got %v", err)
	}

	records := h.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "sync.op", records[0].Operation)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, "upstream down", records[0].ErrorMessage)

	assert.Equal(t, 1, h.protector.CircuitBreakerStatus()["sync.op"].Failures,
		"exhaustion marks the breaker exactly once")
	assert.Empty(t, h.escalator.Notifications(), "MEDIUM severity does not escalate")
	assert.True(t, h.log.Contains("failed after 3 attempts"))
}

func TestProtectorNonRetryableStopsImmediately(t *testing.T) {
	h := newHarness()

	baseErr := WithCode(errors.New("missing customer id"), CodeValidationError)
	calls := 0
	err := h.protector.ExecuteWithRetry(context.Background(), OperationContext{Operation: "payment.charge"}, func(ctx context.Context) error {
		calls++
		return baseErr
	})

	assert.Equal(t, 1, calls, "validation failures must not be retried")
	if err != baseErr {
		t.Fatalf("caller must receive the operation's own error, got %v", err)
	}
	assert.Empty(t, h.clock.Sleeps())

	records := h.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, CodeValidationError, records[0].ErrorCode)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Equal(t, 1, h.protector.CircuitBreakerStatus()["payment.charge"].Failures)
}

func TestProtectorEscalationSeverityGate(t *testing.T) {
	tests := []struct {
		severity Severity
		want     int
	}{
		{SeverityLow, 0},
		{SeverityMedium, 0},
		{SeverityHigh, 1},
		{SeverityCritical, 1},
	}
	for _, tt := range tests {
		t.Run(tt.severity.String(), func(t *testing.T) {
			h := newHarness(WithRetryConfig(noJitterRetry(1)))
			err := h.protector.ExecuteWithRetry(context.Background(),
				OperationContext{Operation: "op", Severity: tt.severity, RequestID: "req-9"},
				func(ctx context.Context) error { return Transient(errors.New("down")) })
			require.Error(t, err)

			notes := h.escalator.Notifications()
			require.Len(t, notes, tt.want)
			if tt.want > 0 {
				assert.Equal(t, ReasonRetryExhausted, notes[0].Reason)
				assert.Equal(t, tt.severity, notes[0].Severity)
				assert.Equal(t, 2, notes[0].Attempts)
				assert.Equal(t, "down", notes[0].ErrorMessage)
				assert.Equal(t, "req-9", notes[0].RequestID)
			}
		})
	}
}

func TestProtectorPolicySeverityFloor(t *testing.T) {
	h := newHarness(
		WithRetryConfig(noJitterRetry(0)),
		WithPolicies(map[string]Policy{"billing.close": {Severity: SeverityHigh}}),
	)

	// an unspecified severity is raised to the policy floor
	err := h.protector.ExecuteWithRetry(context.Background(),
		OperationContext{Operation: "billing.close"},
		func(ctx context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	records := h.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, SeverityHigh, records[0].Severity)

	// a call above the floor keeps its own severity
	err = h.protector.ExecuteWithRetry(context.Background(),
		OperationContext{Operation: "billing.close", Severity: SeverityCritical},
		func(ctx context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	records = h.sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, SeverityCritical, records[1].Severity)
}

func TestProtectorPolicyRetryOverride(t *testing.T) {
	h := newHarness(
		WithRetryConfig(noJitterRetry(3)),
		WithPolicies(map[string]Policy{"no.retries": {Retry: &RetryConfig{MaxRetries: 0}}}),
	)
	fail := func(calls *int) RetryableFunc {
		return func(ctx context.Context) error {
			*calls++
			return Transient(errors.New("down"))
		}
	}

	var overridden, defaulted int
	require.Error(t, h.protector.ExecuteWithRetry(context.Background(), OperationContext{Operation: "no.retries"}, fail(&overridden)))
	require.Error(t, h.protector.ExecuteWithRetry(context.Background(), OperationContext{Operation: "other.op"}, fail(&defaulted)))

	assert.Equal(t, 1, overridden, "policy with zero retries must invoke once")
	assert.Equal(t, 4, defaulted, "other operations keep the protector default")
}

func TestProtectorCircuitBreakerOnly(t *testing.T) {
	h := newHarness(WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 5, OpenTimeout: time.Minute, SuccessThreshold: 2}))

	calls := 0
	fail := func(ctx context.Context) error {
		calls++
		return errors.New("down")
	}
	for i := 0; i < 5; i++ {
		require.Error(t, h.protector.ExecuteWithCircuitBreaker(context.Background(), OperationContext{Operation: "payment.charge"}, fail))
	}
	assert.Equal(t, 5, calls)
	assert.Equal(t, "OPEN", h.protector.CircuitBreakerStatus()["payment.charge"].StateName)

	// the sixth call fails fast without invoking the work
	err := h.protector.ExecuteWithCircuitBreaker(context.Background(), OperationContext{Operation: "payment.charge"}, fail)
	assert.Equal(t, 5, calls)
	require.ErrorIs(t, err, ErrCircuitOpen)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "payment.charge", openErr.Operation)
	assert.Equal(t, h.clock.Now().Add(time.Minute), openErr.Until)

	assert.Empty(t, h.sink.Records(), "the breaker-only path reports no dead letters")
	assert.True(t, h.log.Contains("circuit breaker CLOSED -> OPEN"))
}

func TestProtectorFullProtectionCircuitOpen(t *testing.T) {
	h := newHarness(
		WithRetryConfig(noJitterRetry(0)),
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute, SuccessThreshold: 1}),
	)

	calls := 0
	fail := func(ctx context.Context) error {
		calls++
		return errors.New("down")
	}
	opctx := OperationContext{Operation: "payment.charge", Severity: SeverityHigh}

	// the attempt marks the breaker once through Execute and once at
	// retry exit, so threshold 2 trips on the first terminal failure
	require.Error(t, h.protector.ExecuteWithFullProtection(context.Background(), opctx, fail))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "OPEN", h.protector.CircuitBreakerStatus()["payment.charge"].StateName)

	err := h.protector.ExecuteWithFullProtection(context.Background(), opctx, fail)
	assert.Equal(t, 1, calls, "open circuit must not invoke the work")
	require.ErrorIs(t, err, ErrCircuitOpen)

	records := h.sink.Records()
	require.Len(t, records, 2)
	assert.Empty(t, records[0].ErrorCode)
	assert.Equal(t, CodeCircuitOpen, records[1].ErrorCode)

	var reasons []Reason
	for _, n := range h.escalator.Notifications() {
		reasons = append(reasons, n.Reason)
	}
	assert.Equal(t, []Reason{ReasonCircuitOpen, ReasonRetryExhausted, ReasonCircuitOpen}, reasons,
		"circuit trip, then terminal exhaustion, then the fast-failed call")
}

func TestProtectorFullProtectionRecovers(t *testing.T) {
	h := newHarness(
		WithRetryConfig(noJitterRetry(0)),
		WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: 30 * time.Second, SuccessThreshold: 1}),
	)
	opctx := OperationContext{Operation: "inventory.sync"}

	require.Error(t, h.protector.ExecuteWithFullProtection(context.Background(), opctx,
		func(ctx context.Context) error { return errors.New("down") }))
	require.Equal(t, "OPEN", h.protector.CircuitBreakerStatus()["inventory.sync"].StateName)

	h.clock.Advance(30 * time.Second)
	calls := 0
	err := h.protector.ExecuteWithFullProtection(context.Background(), opctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "the trial request runs the work")
	assert.Equal(t, "CLOSED", h.protector.CircuitBreakerStatus()["inventory.sync"].StateName)
}

func TestProtectorContextCanceled(t *testing.T) {
	h := newHarness()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := h.protector.ExecuteWithRetry(ctx, OperationContext{Operation: "op"}, func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Empty(t, h.sink.Records(), "giving up is not an operation failure")
	assert.Zero(t, h.protector.CircuitBreakerStatus()["op"].Failures)

	// a context that was dead on arrival never invokes the work
	err = h.protector.ExecuteWithRetry(ctx, OperationContext{Operation: "op"}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestProtectorHandleUnrecoverableError(t *testing.T) {
	h := newHarness()

	baseErr := errors.New("data corruption detected")
	err := h.protector.HandleUnrecoverableError(context.Background(),
		OperationContext{Operation: "ledger.write", Severity: SeverityLow}, baseErr)
	if err != baseErr {
		t.Fatalf("unrecoverable errors pass through unchanged, got %v", err)
	}

	records := h.sink.Records()
	require.Len(t, records, 1, "the dead letter is recorded at any severity")
	assert.Equal(t, 0, records[0].Attempts)
	assert.Empty(t, h.escalator.Notifications(), "LOW severity does not page anyone")

	err = h.protector.HandleUnrecoverableError(context.Background(),
		OperationContext{Operation: "ledger.write", Severity: SeverityCritical}, baseErr)
	require.Error(t, err)
	notes := h.escalator.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, ReasonUnrecoverable, notes[0].Reason)
	assert.Equal(t, SeverityCritical, notes[0].Severity)

	assert.NoError(t, h.protector.HandleUnrecoverableError(context.Background(), OperationContext{Operation: "ledger.write"}, nil))
	assert.Len(t, h.sink.Records(), 2, "nil error records nothing")
}

func TestProtectorServiceTags(t *testing.T) {
	h := newHarness(WithService("billing", "production"), WithRetryConfig(noJitterRetry(0)))

	_ = h.protector.ExecuteWithRetry(context.Background(),
		OperationContext{Operation: "payment.charge"},
		func(ctx context.Context) error { return errors.New("down") })

	records := h.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "billing", records[0].Service)
	assert.Equal(t, "production", records[0].Environment)
}

func TestProtectorServiceTagsFromEnv(t *testing.T) {
	t.Setenv(EnvService, "checkout")
	t.Setenv(EnvEnvironment, "staging")
	h := newHarness()

	_ = h.protector.HandleUnrecoverableError(context.Background(),
		OperationContext{Operation: "ledger.write"}, errors.New("corrupt"))

	records := h.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "checkout", records[0].Service)
	assert.Equal(t, "staging", records[0].Environment)
}

func TestProtectorStatusResetHealth(t *testing.T) {
	h := newHarness(WithBreakerConfig(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Minute, SuccessThreshold: 1}))

	require.Error(t, h.protector.ExecuteWithCircuitBreaker(context.Background(),
		OperationContext{Operation: "broken.op"},
		func(ctx context.Context) error { return errors.New("down") }))

	health := h.protector.HealthCheck()
	assert.False(t, health.Healthy)
	assert.Equal(t, []string{"broken.op"}, health.OpenOperations)

	assert.False(t, h.protector.ResetCircuitBreaker("never.seen"))
	assert.True(t, h.protector.ResetCircuitBreaker("broken.op"))
	assert.True(t, h.protector.HealthCheck().Healthy)
}

func TestExecuteReturnsValue(t *testing.T) {
	h := newHarness(WithRetryConfig(noJitterRetry(2)))

	calls := 0
	got, err := Execute(context.Background(), h.protector, OperationContext{Operation: "lookup.op"},
		func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", Transient(errors.New("blip"))
			}
			return "hello", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 2, calls)

	gotInt, err := Execute(context.Background(), h.protector, OperationContext{Operation: "lookup.fail"},
		func(ctx context.Context) (int, error) {
			return 42, WithCode(errors.New("nope"), CodeValidationError)
		})
	require.Error(t, err)
	assert.Zero(t, gotInt, "errors return the zero value")
}

func TestProtectorSinkFailureDoesNotMaskError(t *testing.T) {
	h := newHarness(WithRetryConfig(noJitterRetry(0)))
	h.sink.err = errors.New("redis unavailable")

	baseErr := errors.New("down")
	err := h.protector.ExecuteWithRetry(context.Background(), OperationContext{Operation: "op"},
		func(ctx context.Context) error { return baseErr })
	if err != baseErr {
		t.Fatalf("sink failures must never replace the operation's error, got %v", err)
	}
	assert.True(t, h.log.Contains("failed to publish dead-letter record"))
}
