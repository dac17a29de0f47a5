package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TestLogEntry is a single captured log call.
type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// Formatted returns the rendered message.
func (e TestLogEntry) Formatted() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testLogState struct {
	mu   sync.Mutex
	logs []TestLogEntry
}

// TestLogger captures log calls for assertions in tests. Loggers derived
// with With/WithPrefix/Stack record into the same backing log.
type TestLogger struct {
	metadata map[string]interface{}
	state    *testLogState
	child    Logger
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{state: &testLogState{}}
}

// Entries returns a copy of everything logged so far.
func (c *TestLogger) Entries() []TestLogEntry {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	out := make([]TestLogEntry, len(c.state.logs))
	copy(out, c.state.logs)
	return out
}

// Contains reports whether any rendered log line contains substr.
func (c *TestLogger) Contains(substr string) bool {
	for _, e := range c.Entries() {
		if strings.Contains(e.Formatted(), substr) {
			return true
		}
	}
	return false
}

// CountSeverity returns the number of entries logged at the given severity.
func (c *TestLogger) CountSeverity(severity string) int {
	var n int
	for _, e := range c.Entries() {
		if e.Severity == severity {
			n++
		}
	}
	return n
}

func (c *TestLogger) record(severity string, msg string, args ...interface{}) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.logs = append(c.state.logs, TestLogEntry{severity, msg, args})
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	child := c.child
	if child != nil {
		child = child.With(metadata)
	}
	return &TestLogger{metadata: kv, state: c.state, child: child}
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARN", msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

// Fatal records the entry but does not exit, so tests can assert on it.
func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.record("FATAL", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *TestLogger) Stack(next Logger) Logger {
	return &TestLogger{metadata: c.metadata, state: c.state, child: next}
}
