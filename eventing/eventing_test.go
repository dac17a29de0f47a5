package eventing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vmihailenco/msgpack/v5"
)

func TestHeaders(t *testing.T) {
	h := make(Headers)
	h.Set("operation", "payment.charge")
	h.Set("severity", "HIGH")

	assert.Equal(t, "payment.charge", h.Get("operation"))
	assert.Equal(t, "", h.Get("missing"))
	assert.ElementsMatch(t, []string{"operation", "severity"}, h.Keys())
}

func TestWireMessage(t *testing.T) {
	msg := newWireMessage([]byte(`{"id":"abc"}`),
		WithHeader("operation", "inventory.sync"),
		WithHeader("fingerprint", "deadbeef"),
	)

	buf, err := msgpack.Marshal(msg)
	assert.NoError(t, err)

	var decoded wireMessage
	assert.NoError(t, msgpack.Unmarshal(buf, &decoded))
	assert.Equal(t, []byte(`{"id":"abc"}`), decoded.Data())
	assert.Equal(t, "inventory.sync", decoded.Headers().Get("operation"))
	assert.Equal(t, "deadbeef", decoded.Headers().Get("fingerprint"))
}

func TestWireMessageIgnoresMalformedHeader(t *testing.T) {
	opt := func(o *publishOptions) {
		o.headers = append(o.headers, []string{"only-key"})
	}
	msg := newWireMessage([]byte("x"), opt)
	assert.Empty(t, msg.Headers().Keys())
}
