package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"wrapped cancellation", errors.Wrap(context.Canceled, "query aborted"), false},
		{"circuit open", &CircuitOpenError{Operation: "x", Until: time.Now()}, false},

		{"tagged transient", Transient(errors.New("weird glitch")), true},
		{"tagged permanent", Permanent(errors.New("connection timeout")), false},

		{"code timeout", WithCode(errors.New("deadline hit"), CodeTimeout), true},
		{"code connection", WithCode(errors.New("refused"), CodeConnectionError), true},
		{"code rate limit", WithCode(errors.New("slow down"), CodeRateLimit), true},
		{"code validation", WithCode(errors.New("bad input"), CodeValidationError), false},
		{"code auth", WithCode(errors.New("who are you"), CodeAuthenticationError), false},
		{"code not found", WithCode(errors.New("nope"), CodeNotFound), false},
		{"unknown code falls through to text", WithCode(errors.New("connection reset"), "SOMETHING_ELSE"), true},

		{"grpc unavailable", status.Error(codes.Unavailable, "server draining"), true},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc aborted", status.Error(codes.Aborted, "conflict"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad field"), false},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "no"), false},
		{"grpc failed precondition", status.Error(codes.FailedPrecondition, "not ready"), false},

		{"text timeout", errors.New("request timeout after 5s"), true},
		{"text connection", errors.New("Connection refused"), true},
		{"text network", errors.New("network is unreachable"), true},
		{"text service unavailable", errors.New("503 Service Unavailable"), true},
		{"text temporary", errors.New("temporary glitch, retry later"), true},
		{"text rate limit", errors.New("rate limit exceeded"), true},

		{"plain error", errors.New("invalid checksum"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultRetryable(tt.err))
		})
	}
}

func TestExplicitTagBeatsText(t *testing.T) {
	// the message says timeout, but the boundary tagged it permanent
	err := Permanent(errors.New("timeout while validating schema"))
	assert.False(t, DefaultRetryable(err))

	// and the reverse: nothing in the text suggests retrying, but the
	// boundary knows better
	err = Transient(errors.New("checksum mismatch"))
	assert.True(t, DefaultRetryable(err))
}

func TestCodeBeatsText(t *testing.T) {
	err := WithCode(errors.New("connection pool exhausted"), CodePermanentFailure)
	assert.False(t, DefaultRetryable(err))
}
