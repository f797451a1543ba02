package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "storefront.order.created", Topic("order", "created"))
	assert.Equal(t, "storefront.catalog.changed", Topic("catalog", "changed"))
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"localhost:9092"})
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.False(t, cfg.Async)
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	event, err := NewEvent("order.created", "ord-1", "order", map[string]string{"id": "ord-1"})
	require.NoError(t, err)
	event.WithCorrelationID("req-1")

	require.NoError(t, p.Publish(context.Background(), Topic("order", "created"), event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "storefront.order.created", msg.Topic)
	assert.Equal(t, []byte("ord-1"), msg.Key)

	carrier := NewHeaderCarrier(&msg.Headers)
	assert.Equal(t, "order.created", carrier.Get("event_type"))
	assert.Equal(t, Source, carrier.Get("source"))
	assert.Equal(t, "req-1", carrier.Get("correlation_id"))
}

func TestProducer_PublishError(t *testing.T) {
	p := &Producer{writer: &fakeWriter{err: errors.New("broker down")}, logger: testLogger()}

	event, err := NewEvent("order.created", "ord-1", "order", nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), "t", event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestPingBrokers_NoBrokers(t *testing.T) {
	err := PingBrokers(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers configured")
}
