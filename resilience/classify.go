package resilience

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var retryableCodes = map[string]bool{
	CodeTimeout:            true,
	CodeConnectionError:    true,
	CodeNetworkError:       true,
	CodeServiceUnavailable: true,
	CodeTemporaryFailure:   true,
	CodeRateLimit:          true,
}

var permanentCodes = map[string]bool{
	CodeValidationError:     true,
	CodeAuthenticationError: true,
	CodeAuthorizationError:  true,
	CodeNotFound:            true,
	CodePermanentFailure:    true,
}

var retryableGRPC = map[codes.Code]bool{
	codes.Unavailable:       true,
	codes.DeadlineExceeded:  true,
	codes.ResourceExhausted: true,
	codes.Aborted:           true,
}

var permanentGRPC = map[codes.Code]bool{
	codes.InvalidArgument:    true,
	codes.NotFound:           true,
	codes.PermissionDenied:   true,
	codes.Unauthenticated:    true,
	codes.FailedPrecondition: true,
}

// retryablePatterns is the substring fallback for errors that carry neither
// a kind tag nor a code. Matching is case-insensitive.
var retryablePatterns = []string{
	"timeout",
	"connection",
	"network",
	"service unavailable",
	"temporary",
	"rate limit",
}

// DefaultRetryable decides whether an error is worth retrying. Explicit
// signals win over heuristics: kind tags first, then string codes, then gRPC
// status codes, and only then the substring fallback on the error text.
// Context cancellation and circuit fast-fails are never retryable here.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if IsTransient(err) {
		return true
	}
	if code := CodeOf(err); code != "" {
		if retryableCodes[code] {
			return true
		}
		if permanentCodes[code] {
			return false
		}
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.OK {
		if retryableGRPC[s.Code()] {
			return true
		}
		if permanentGRPC[s.Code()] {
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
