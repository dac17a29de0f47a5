package resilience

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Well-known error codes recognized by the default classifier. Services that
// return coded errors at their boundaries get exact classification instead
// of the substring fallback.
const (
	CodeTimeout             = "TIMEOUT"
	CodeConnectionError     = "CONNECTION_ERROR"
	CodeNetworkError        = "NETWORK_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeTemporaryFailure    = "TEMPORARY_FAILURE"
	CodeRateLimit           = "RATE_LIMIT"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeAuthenticationError = "AUTHENTICATION_ERROR"
	CodeAuthorizationError  = "AUTHORIZATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodePermanentFailure    = "PERMANENT_FAILURE"
	CodeCircuitOpen         = "CIRCUIT_BREAKER_OPEN"
)

// ErrCircuitOpen matches any CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitOpenError is returned when a call is rejected because the
// operation's circuit breaker is open. It is the only error the breaker
// synthesizes; the protected function is not invoked.
type CircuitOpenError struct {
	Operation string
	Until     time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s until %s", e.Operation, e.Until.Format(time.RFC3339))
}

func (e *CircuitOpenError) ErrorCode() string {
	return CodeCircuitOpen
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

var kindTransient = errors.New("transient failure")
var kindPermanent = errors.New("permanent failure")

// Transient tags err as retryable regardless of its text or code.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kindTransient)
}

// Permanent tags err as not retryable regardless of its text or code.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, kindPermanent)
}

// IsTransient reports whether err was tagged with Transient.
func IsTransient(err error) bool {
	return errors.Is(err, kindTransient)
}

// IsPermanent reports whether err was tagged with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, kindPermanent)
}

// Coded is implemented by errors that carry a stable string code.
type Coded interface {
	ErrorCode() string
}

type codedError struct {
	cause error
	code  string
}

func (e *codedError) Error() string {
	return e.cause.Error()
}

func (e *codedError) ErrorCode() string {
	return e.code
}

func (e *codedError) Cause() error {
	return e.cause
}

func (e *codedError) Unwrap() error {
	return e.cause
}

func (e *codedError) Format(s fmt.State, verb rune) {
	errors.FormatError(e, s, verb)
}

// WithCode attaches a stable string code to err. The original error remains
// reachable through errors.Is and errors.As.
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &codedError{cause: err, code: code}
}

// CodeOf returns the first error code found in the chain, or the empty
// string when none is present.
func CodeOf(err error) string {
	for e := err; e != nil; e = errors.UnwrapOnce(e) {
		if coded, ok := e.(Coded); ok {
			return coded.ErrorCode()
		}
	}
	return ""
}
