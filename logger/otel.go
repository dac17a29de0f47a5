package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/log"
)

type otelLogger struct {
	ctx      context.Context
	logger   log.Logger
	metadata map[string]interface{}
	prefixes []string
	logLevel LogLevel
	child    Logger
}

var _ Logger = (*otelLogger)(nil)

func toLogValue(val interface{}) log.Value {
	switch v := val.(type) {
	case string:
		return log.StringValue(v)
	case bool:
		return log.BoolValue(v)
	case int:
		return log.IntValue(v)
	case int64:
		return log.Int64Value(v)
	case float64:
		return log.Float64Value(v)
	case time.Time:
		return log.StringValue(v.Format(time.RFC3339Nano))
	case time.Duration:
		return log.StringValue(v.String())
	case error:
		return log.StringValue(v.Error())
	case fmt.Stringer:
		return log.StringValue(v.String())
	default:
		return log.StringValue(fmt.Sprintf("%v", v))
	}
}

func (c *otelLogger) clone() *otelLogger {
	metadata := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	return &otelLogger{
		ctx:      c.ctx,
		logger:   c.logger,
		metadata: metadata,
		prefixes: prefixes,
		logLevel: c.logLevel,
		child:    c.child,
	}
}

func (c *otelLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	if clone.child != nil {
		clone.child = clone.child.With(metadata)
	}
	return clone
}

func (c *otelLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	clone.prefixes = append(clone.prefixes, prefix)
	if clone.child != nil {
		clone.child = clone.child.WithPrefix(prefix)
	}
	return clone
}

func (c *otelLogger) WithContext(ctx context.Context) Logger {
	clone := c.clone()
	clone.ctx = ctx
	if clone.child != nil {
		clone.child = clone.child.WithContext(ctx)
	}
	return clone
}

func (c *otelLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func (c *otelLogger) emit(level LogLevel, severity log.Severity, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	formatted := msg
	if len(args) > 0 {
		formatted = fmt.Sprintf(msg, args...)
	}
	if len(c.prefixes) > 0 {
		formatted = strings.Join(c.prefixes, " ") + " " + formatted
	}
	var record log.Record
	record.SetTimestamp(time.Now())
	record.SetSeverity(severity)
	record.SetSeverityText(level.String())
	record.SetBody(log.StringValue(ansiStripper.ReplaceAllString(formatted, "")))
	if len(c.metadata) > 0 {
		attrs := make([]log.KeyValue, 0, len(c.metadata))
		for k, v := range c.metadata {
			attrs = append(attrs, log.KeyValue{Key: k, Value: toLogValue(v)})
		}
		record.AddAttributes(attrs...)
	}
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger.Emit(ctx, record)
}

func (c *otelLogger) Trace(msg string, args ...interface{}) {
	c.emit(LevelTrace, log.SeverityTrace, msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *otelLogger) Debug(msg string, args ...interface{}) {
	c.emit(LevelDebug, log.SeverityDebug, msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *otelLogger) Info(msg string, args ...interface{}) {
	c.emit(LevelInfo, log.SeverityInfo, msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *otelLogger) Warn(msg string, args ...interface{}) {
	c.emit(LevelWarn, log.SeverityWarn, msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *otelLogger) Error(msg string, args ...interface{}) {
	c.emit(LevelError, log.SeverityError, msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *otelLogger) Fatal(msg string, args ...interface{}) {
	c.emit(LevelError, log.SeverityFatal, msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
	os.Exit(1)
}

func (c *otelLogger) Stack(next Logger) Logger {
	clone := c.clone()
	clone.child = next
	return clone
}

// NewOtelLogger returns a Logger which emits records through the provided
// OpenTelemetry log.Logger.
func NewOtelLogger(l log.Logger, levels ...LogLevel) Logger {
	level := LevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &otelLogger{logger: l, logLevel: level}
}
