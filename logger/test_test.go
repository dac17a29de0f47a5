package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTestLoggerCaptures(t *testing.T) {
	l := NewTestLogger()
	l.Debug("connecting to %s", "redis")
	l.Warn("slow response")
	l.Error("gave up")

	entries := l.Entries()
	assert.Len(t, entries, 3)
	assert.Equal(t, "DEBUG", entries[0].Severity)
	assert.Equal(t, "connecting to redis", entries[0].Formatted())
	assert.Equal(t, 1, l.CountSeverity("ERROR"))
	assert.True(t, l.Contains("slow response"))
	assert.False(t, l.Contains("never logged"))
}

func TestTestLoggerDerivedShareLog(t *testing.T) {
	l := NewTestLogger()
	derived := l.With(map[string]interface{}{"operation": "inventory.sync"})
	derived.Info("starting")
	derived.WithPrefix("retry").Info("attempt failed")

	assert.Len(t, l.Entries(), 2)
	assert.True(t, l.Contains("attempt failed"))
}

func TestTestLoggerStack(t *testing.T) {
	a := NewTestLogger()
	b := NewTestLogger()
	stacked := a.Stack(b)
	stacked.Info("fan out")

	assert.True(t, a.Contains("fan out"))
	assert.True(t, b.Contains("fan out"))
}

func TestTestLoggerFatalDoesNotExit(t *testing.T) {
	l := NewTestLogger()
	l.Fatal("unrecoverable")
	assert.Equal(t, 1, l.CountSeverity("FATAL"))
}
