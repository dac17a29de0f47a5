// Package eventing carries failure telemetry (dead letters, escalations,
// breaker state changes) over Redis. Plain pub/sub handles transient
// notifications; streams with consumer groups handle durable records.
package eventing

import (
	"context"
)

// Message represents a message received from the event system
type Message interface {
	Data() []byte
	Headers() Headers
}

// Headers represents message headers that can be used for both map operations and propagation
type Headers map[string]string

func (h Headers) Get(key string) string {
	return h[key]
}

func (h Headers) Set(key string, value string) {
	h[key] = value
}

func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

type MessageCallback func(ctx context.Context, msg Message)

type Subscriber interface {
	// Close stops the subscriber
	Close() error
}

type PublishOption func(*publishOptions)

type publishOptions struct {
	headers [][]string
}

func WithHeader(key, value string) PublishOption {
	return func(o *publishOptions) {
		o.headers = append(o.headers, []string{key, value})
	}
}

// Client defines the interface for event clients
type Client interface {
	// Publish publishes a message to a subject using fan-out delivery
	Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	// QueuePublish appends a message to a durable subject consumed by a group
	QueuePublish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error
	// Subscribe subscribes to a subject
	Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error)
	// QueueSubscribe subscribes to a durable subject as a member of the named group
	QueueSubscribe(ctx context.Context, subject, group string, cb MessageCallback) (Subscriber, error)
	// Close closes the client
	Close() error
}
