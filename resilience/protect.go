package resilience

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/agentuity/go-resilience/eventing"
	"github.com/agentuity/go-resilience/logger"
	"github.com/cockroachdb/errors"
)

// ErrNoOperation is returned when an OperationContext has no operation name.
var ErrNoOperation = errors.New("operation name is required")

// Protector composes the retry executor, circuit breakers, dead-letter sink
// and escalation into one entry point. Construct it with New; the zero value
// is not usable.
type Protector struct {
	logger      logger.Logger
	clock       Clock
	events      eventing.Client
	registry    *Registry
	sink        DeadLetterSink
	escalator   Escalator
	retryConfig RetryConfig
	policies    map[string]Policy
	service     string
	environment string
}

// Option configures a Protector.
type Option func(*Protector)

// WithLogger sets the logger. Defaults to a console logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Protector) {
		p.logger = log
	}
}

// WithEventing publishes dead letters, escalations and breaker state changes
// over the given client instead of only logging them.
func WithEventing(client eventing.Client) Option {
	return func(p *Protector) {
		p.events = client
	}
}

// WithClock injects a clock, letting tests drive backoff and breaker
// timeouts with virtual time.
func WithClock(clock Clock) Option {
	return func(p *Protector) {
		p.clock = clock
	}
}

// WithRetryConfig sets the default retry configuration.
func WithRetryConfig(config RetryConfig) Option {
	return func(p *Protector) {
		p.retryConfig = config.normalize()
	}
}

// WithBreakerConfig sets the default circuit breaker configuration.
func WithBreakerConfig(config CircuitBreakerConfig) Option {
	return func(p *Protector) {
		p.registry = NewRegistry(config)
	}
}

// WithSink overrides the dead-letter sink.
func WithSink(sink DeadLetterSink) Option {
	return func(p *Protector) {
		p.sink = sink
	}
}

// WithEscalator overrides the escalator.
func WithEscalator(escalator Escalator) Option {
	return func(p *Protector) {
		p.escalator = escalator
	}
}

// WithClassifier overrides retryability classification for all operations.
func WithClassifier(retryable func(error) bool) Option {
	return func(p *Protector) {
		p.retryConfig.Retryable = retryable
	}
}

// WithPolicies sets per-operation overrides for retry, breaker and severity.
func WithPolicies(policies map[string]Policy) Option {
	return func(p *Protector) {
		p.policies = policies
	}
}

// WithService tags outgoing dead-letter records with the producing service
// and environment. Defaults come from RESILIENCE_SERVICE and RESILIENCE_ENV.
func WithService(service, environment string) Option {
	return func(p *Protector) {
		p.service = service
		p.environment = environment
	}
}

// New constructs a Protector. Without options it retries with defaults,
// keeps breaker state in-process and reports failures through the logger.
func New(opts ...Option) *Protector {
	p := &Protector{
		clock:       SystemClock,
		retryConfig: DefaultRetryConfig(),
		policies:    make(map[string]Policy),
		service:     os.Getenv(EnvService),
		environment: os.Getenv(EnvEnvironment),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.NewConsoleLogger()
	}
	if p.registry == nil {
		p.registry = NewRegistry(DefaultCircuitBreakerConfig())
	}
	p.registry.clock = p.clock
	for operation, policy := range p.policies {
		if policy.Breaker != nil {
			p.registry.Configure(operation, *policy.Breaker)
		}
	}
	if p.sink == nil {
		if p.events != nil {
			p.sink = NewEventingSink(p.logger, p.events)
		} else {
			p.sink = NewLogSink(p.logger)
		}
	}
	if p.escalator == nil {
		if p.events != nil {
			p.escalator = NewEventingEscalator(p.logger, p.events)
		} else {
			p.escalator = NewLogEscalator(p.logger)
		}
	}
	p.registry.OnStateChange(p.onStateChange)
	return p
}

// Registry exposes the breaker registry for operator tooling (force-open,
// per-operation inspection).
func (p *Protector) Registry() *Registry {
	return p.registry
}

func (p *Protector) prepare(opctx OperationContext) (OperationContext, error) {
	if opctx.Operation == "" {
		return opctx, ErrNoOperation
	}
	opctx = opctx.withDefaults(p.clock.Now())
	if policy, ok := p.policies[opctx.Operation]; ok && policy.Severity != "" {
		if !opctx.Severity.AtLeast(policy.Severity) {
			opctx.Severity = policy.Severity
		}
	}
	return opctx, nil
}

func (p *Protector) retryConfigFor(operation string) RetryConfig {
	if policy, ok := p.policies[operation]; ok && policy.Retry != nil {
		config := *policy.Retry
		if config.Retryable == nil {
			config.Retryable = p.retryConfig.Retryable
		}
		return config.normalize()
	}
	return p.retryConfig
}

func (p *Protector) opLogger(opctx OperationContext) logger.Logger {
	return p.logger.With(map[string]interface{}{"operation": opctx.Operation})
}

// contextDied reports whether err is the caller's context giving up, which
// is never recorded against the operation.
func contextDied(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// ExecuteWithRetry runs fn under the retry policy. A terminal failure is
// recorded against the operation's breaker, published to the dead-letter
// sink and escalated when the severity is HIGH or CRITICAL. The returned
// error is the last error fn produced.
func (p *Protector) ExecuteWithRetry(ctx context.Context, opctx OperationContext, fn RetryableFunc) error {
	opctx, err := p.prepare(opctx)
	if err != nil {
		return err
	}
	attempts, err := retryLoop(ctx, p.clock, p.opLogger(opctx), opctx.Operation, p.retryConfigFor(opctx.Operation), fn)
	if err == nil {
		return nil
	}
	if contextDied(ctx, err) {
		return err
	}
	p.recordTerminalFailure(ctx, opctx, err, attempts)
	return err
}

// ExecuteWithCircuitBreaker runs fn through the operation's breaker only,
// with no retries. When the circuit is open fn is not invoked and a
// CircuitOpenError is returned.
func (p *Protector) ExecuteWithCircuitBreaker(ctx context.Context, opctx OperationContext, fn RetryableFunc) error {
	opctx, err := p.prepare(opctx)
	if err != nil {
		return err
	}
	cb := p.registry.Get(opctx.Operation)
	state := cb.State()
	err = cb.Execute(ctx, fn)
	switch {
	case err == nil:
		metricCircuitRequests.WithLabelValues(opctx.Operation, state.String(), "success").Inc()
	case errors.Is(err, ErrCircuitOpen):
		metricCircuitRequests.WithLabelValues(opctx.Operation, state.String(), "rejected").Inc()
	default:
		metricCircuitRequests.WithLabelValues(opctx.Operation, state.String(), "failure").Inc()
	}
	return err
}

// ExecuteWithFullProtection wraps every retry attempt in the operation's
// breaker. While the circuit is open, attempts fail fast without invoking
// fn; the default classifier treats the fast-fail as not retryable, so the
// call returns promptly with a CircuitOpenError.
func (p *Protector) ExecuteWithFullProtection(ctx context.Context, opctx OperationContext, fn RetryableFunc) error {
	opctx, err := p.prepare(opctx)
	if err != nil {
		return err
	}
	cb := p.registry.Get(opctx.Operation)
	wrapped := func(ctx context.Context) error {
		return cb.Execute(ctx, fn)
	}
	attempts, err := retryLoop(ctx, p.clock, p.opLogger(opctx), opctx.Operation, p.retryConfigFor(opctx.Operation), wrapped)
	if err == nil {
		return nil
	}
	if contextDied(ctx, err) {
		return err
	}
	p.recordTerminalFailure(ctx, opctx, err, attempts)
	return err
}

// HandleUnrecoverableError publishes err to the dead-letter sink without
// retries or breaker involvement, escalating when the severity is HIGH or
// CRITICAL. It returns err unchanged so callers can pass their failure
// straight through.
func (p *Protector) HandleUnrecoverableError(ctx context.Context, opctx OperationContext, err error) error {
	if err == nil {
		return nil
	}
	opctx, perr := p.prepare(opctx)
	if perr != nil {
		return perr
	}
	telemetryCtx := context.WithoutCancel(ctx)
	p.publishDeadLetter(telemetryCtx, opctx, err, 0)
	if opctx.Severity.AtLeast(SeverityHigh) {
		p.escalate(telemetryCtx, opctx, err, 0, ReasonUnrecoverable)
	}
	return err
}

// CircuitBreakerStatus returns a snapshot of every breaker keyed by
// operation name.
func (p *Protector) CircuitBreakerStatus() map[string]BreakerStatus {
	return p.registry.Status()
}

// ResetCircuitBreaker forces the operation's breaker to CLOSED. It reports
// false when the operation has no breaker yet.
func (p *Protector) ResetCircuitBreaker(operation string) bool {
	return p.registry.Reset(operation)
}

// HealthCheck summarizes breaker states and process-host memory.
func (p *Protector) HealthCheck() Health {
	return p.registry.HealthCheck()
}

// recordTerminalFailure marks the breaker, publishes the dead letter and
// escalates when warranted. Telemetry failures are logged, never returned:
// the caller always sees the operation's own error.
func (p *Protector) recordTerminalFailure(ctx context.Context, opctx OperationContext, err error, attempts int) {
	p.registry.Get(opctx.Operation).RecordFailure()
	telemetryCtx := context.WithoutCancel(ctx)
	p.publishDeadLetter(telemetryCtx, opctx, err, attempts)
	if opctx.Severity.AtLeast(SeverityHigh) {
		reason := ReasonRetryExhausted
		if errors.Is(err, ErrCircuitOpen) {
			reason = ReasonCircuitOpen
		}
		p.escalate(telemetryCtx, opctx, err, attempts, reason)
	}
}

func (p *Protector) publishDeadLetter(ctx context.Context, opctx OperationContext, err error, attempts int) {
	record := newDeadLetterRecord(opctx, err, attempts)
	record.Timestamp = p.clock.Now()
	record.Service = p.service
	record.Environment = p.environment
	if sinkErr := p.sink.Publish(ctx, record); sinkErr != nil {
		p.opLogger(opctx).Error("failed to publish dead-letter record: %s", sinkErr)
		return
	}
	metricDeadLetters.WithLabelValues(opctx.Operation, opctx.Severity.String()).Inc()
}

func (p *Protector) escalate(ctx context.Context, opctx OperationContext, err error, attempts int, reason Reason) {
	notification := &EscalationNotification{
		Operation:    opctx.Operation,
		Severity:     opctx.Severity,
		Reason:       reason,
		ErrorMessage: err.Error(),
		Attempts:     attempts,
		RequestID:    opctx.RequestID,
		Timestamp:    p.clock.Now(),
	}
	if escErr := p.escalator.Escalate(ctx, notification); escErr != nil {
		p.opLogger(opctx).Error("failed to escalate: %s", escErr)
		return
	}
	metricEscalations.WithLabelValues(opctx.Operation, opctx.Severity.String(), string(reason)).Inc()
}

type stateChangeEvent struct {
	Operation string    `json:"operation"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *Protector) onStateChange(operation string, from, to CircuitBreakerState) {
	log := p.logger.With(map[string]interface{}{"operation": operation})
	if to == StateOpen {
		log.Warn("circuit breaker %s -> %s", from, to)
	} else {
		log.Info("circuit breaker %s -> %s", from, to)
	}
	metricStateChanges.WithLabelValues(operation, from.String(), to.String()).Inc()
	if to == StateOpen {
		metricCircuitOpen.WithLabelValues(operation).Set(1)
	} else {
		metricCircuitOpen.WithLabelValues(operation).Set(0)
	}
	if from == StateClosed && to == StateOpen {
		notification := &EscalationNotification{
			Operation: operation,
			Severity:  SeverityHigh,
			Reason:    ReasonCircuitOpen,
			Timestamp: p.clock.Now(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.escalator.Escalate(ctx, notification); err != nil {
			log.Error("failed to escalate circuit open: %s", err)
		} else {
			metricEscalations.WithLabelValues(operation, SeverityHigh.String(), string(ReasonCircuitOpen)).Inc()
		}
	}
	if p.events != nil {
		event := stateChangeEvent{
			Operation: operation,
			From:      from.String(),
			To:        to.String(),
			Timestamp: p.clock.Now(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			payload, err := json.Marshal(event)
			if err != nil {
				return
			}
			if err := p.events.Publish(ctx, SubjectCircuitState, payload,
				eventing.WithHeader("operation", operation)); err != nil {
				log.Error("failed to publish state change: %s", err)
			}
		}()
	}
}

// Execute runs a value-returning function under full protection. On error
// the zero value of T is returned alongside the operation's error.
func Execute[T any](ctx context.Context, p *Protector, opctx OperationContext, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.ExecuteWithFullProtection(ctx, opctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
