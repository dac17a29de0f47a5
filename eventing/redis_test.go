package eventing

import (
	"context"
	"testing"
	"time"

	"github.com/agentuity/go-resilience/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := newTestRedis(t)
	client, err := NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	require.NoError(t, err)
	defer client.Close()

	received := make(chan Message, 1)
	sub, err := client.Subscribe(ctx, "resilience.escalations", func(ctx context.Context, msg Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Close()

	// the subscriber goroutine needs to be attached before we publish
	time.Sleep(50 * time.Millisecond)

	err = client.Publish(ctx, "resilience.escalations", []byte(`{"operation":"payment.charge"}`),
		WithHeader("severity", "CRITICAL"))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, []byte(`{"operation":"payment.charge"}`), msg.Data())
		assert.Equal(t, "CRITICAL", msg.Headers().Get("severity"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestQueuePublishAppendsToStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := newTestRedis(t)
	client, err := NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, client.QueuePublish(ctx, "resilience.deadletter", []byte("record")))
	}

	length, err := rdb.XLen(ctx, "resilience.deadletter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)
}

func TestQueueSubscribeDeliversBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := newTestRedis(t)
	client, err := NewRedisClient(ctx, logger.NewTestLogger(), rdb)
	require.NoError(t, err)
	defer client.Close()

	// records published before any consumer attached must still be delivered
	require.NoError(t, client.QueuePublish(ctx, "resilience.deadletter", []byte("first"),
		WithHeader("operation", "inventory.sync")))
	require.NoError(t, client.QueuePublish(ctx, "resilience.deadletter", []byte("second")))

	received := make(chan Message, 2)
	sub, err := client.QueueSubscribe(ctx, "resilience.deadletter", "drain", func(ctx context.Context, msg Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Close()

	var got []Message
	for len(got) < 2 {
		select {
		case msg := <-received:
			got = append(got, msg)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, received %d of 2 messages", len(got))
		}
	}
	assert.Equal(t, []byte("first"), got[0].Data())
	assert.Equal(t, "inventory.sync", got[0].Headers().Get("operation"))
	assert.Equal(t, []byte("second"), got[1].Data())
}
