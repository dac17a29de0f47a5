package eventing

import (
	"context"
	"strings"
	"time"

	"github.com/agentuity/go-resilience/logger"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/savsgio/gotils/strconv"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultStreamMaxLen = 1000

// wireMessage is the msgpack envelope placed on the wire.
type wireMessage struct {
	Body     []byte  `msgpack:"body"`
	Headers_ Headers `msgpack:"headers"`
}

func (m *wireMessage) Data() []byte {
	return m.Body
}

func (m *wireMessage) Headers() Headers {
	return m.Headers_
}

func newWireMessage(data []byte, opts ...PublishOption) wireMessage {
	msg := wireMessage{
		Body:     data,
		Headers_: make(Headers),
	}
	options := &publishOptions{}
	for _, opt := range opts {
		opt(options)
	}
	for _, header := range options.headers {
		if len(header) == 2 {
			msg.Headers_[header[0]] = header[1]
		}
	}
	return msg
}

type redisSubscriber struct {
	pubsub *redis.PubSub
}

func (s *redisSubscriber) Close() error {
	return s.pubsub.Close()
}

type redisGroupSubscriber struct {
	streamKey string
	group     string
	consumer  string
	rdb       *redis.Client
	cancel    context.CancelFunc
}

func (s *redisGroupSubscriber) Close() error {
	s.cancel()
	return s.rdb.XGroupDelConsumer(context.Background(), s.streamKey, s.group, s.consumer).Err()
}

type redisClient struct {
	rdb          *redis.Client
	ctx          context.Context
	cancel       context.CancelFunc
	logger       logger.Logger
	streamMaxLen int64
}

var _ Client = (*redisClient)(nil)

type ClientOption func(*redisClient)

// WithStreamMaxLen bounds the approximate length durable subjects are
// trimmed to on publish.
func WithStreamMaxLen(n int64) ClientOption {
	return func(c *redisClient) {
		c.streamMaxLen = n
	}
}

// NewRedisClient returns a Client backed by the given Redis connection.
func NewRedisClient(ctx context.Context, log logger.Logger, rdb *redis.Client, opts ...ClientOption) (Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	client := &redisClient{
		rdb:          rdb,
		ctx:          ctx,
		cancel:       cancel,
		logger:       log.With(map[string]interface{}{"component": "eventing"}),
		streamMaxLen: defaultStreamMaxLen,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (c *redisClient) Publish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	msg := newWireMessage(data, opts...)
	// inject the trace context into the headers before starting a span
	propagator.Inject(ctx, msg.Headers_)

	spanCtx, span := tracer.Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	payload, err := msgpack.Marshal(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return errors.Wrap(err, "failed to marshal message")
	}
	if err := c.rdb.Publish(spanCtx, subject, payload).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return errors.Wrap(err, "failed to publish message")
	}
	span.SetStatus(codes.Ok, "message published")
	return nil
}

func (c *redisClient) QueuePublish(ctx context.Context, subject string, data []byte, opts ...PublishOption) error {
	msg := newWireMessage(data, opts...)
	propagator.Inject(ctx, msg.Headers_)

	spanCtx, span := tracer.Start(ctx, "QueuePublish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	payload, err := msgpack.Marshal(msg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return errors.Wrap(err, "failed to marshal message")
	}
	if err := c.rdb.XAdd(spanCtx, &redis.XAddArgs{
		Stream: subject,
		Approx: true,
		MaxLen: c.streamMaxLen,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return errors.Wrap(err, "failed to append message")
	}
	span.SetStatus(codes.Ok, "message appended")
	return nil
}

func (c *redisClient) dispatch(ctx context.Context, payload []byte, cb MessageCallback) {
	var msg wireMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		c.logger.Error("failed to decode message: %s", err)
		return
	}
	spanCtx, span := tracer.Start(
		propagator.Extract(ctx, msg.Headers_),
		"dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()
	cb(spanCtx, &msg)
}

func (c *redisClient) Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error) {
	pubsub := c.rdb.Subscribe(ctx, subject)
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case redisMsg, ok := <-ch:
				if !ok {
					return
				}
				c.dispatch(ctx, strconv.S2B(redisMsg.Payload), cb)
			}
		}
	}()
	return &redisSubscriber{pubsub: pubsub}, nil
}

func (c *redisClient) QueueSubscribe(ctx context.Context, subject, group string, cb MessageCallback) (Subscriber, error) {
	// Create the group at the start of the stream so records published
	// before the first consumer attached are still delivered.
	if err := c.rdb.XGroupCreateMkStream(ctx, subject, group, "0").Err(); err != nil && err != redis.Nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, errors.Wrap(err, "failed to create consumer group")
		}
	}

	consumer := group + "-" + uuid.New().String()
	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisGroupSubscriber{
		streamKey: subject,
		group:     group,
		consumer:  consumer,
		rdb:       c.rdb,
		cancel:    cancel,
	}

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case <-c.ctx.Done():
				return
			default:
			}
			streams, err := c.rdb.XReadGroup(subCtx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{subject, ">"},
				Count:    10,
				Block:    5 * time.Second,
			}).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if subCtx.Err() != nil || c.ctx.Err() != nil {
					return
				}
				c.logger.Error("failed to read from stream %s: %s", subject, err)
				return
			}
			for _, stream := range streams {
				for _, message := range stream.Messages {
					payload, ok := message.Values["payload"].(string)
					if !ok {
						continue
					}
					c.dispatch(subCtx, strconv.S2B(payload), cb)
					c.rdb.XAck(subCtx, subject, group, message.ID)
				}
			}
		}
	}()
	return sub, nil
}

func (c *redisClient) Close() error {
	c.cancel()
	return nil
}
