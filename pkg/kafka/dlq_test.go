package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQTopic(t *testing.T) {
	assert.Equal(t, "storefront.dlq", DLQTopicPrefix)
	assert.Equal(t, "storefront.dlq.storefront.catalog.changed", DLQTopic("storefront.catalog.changed"))
}

func TestDLQProducer_Publish_AddsHeaders(t *testing.T) {
	w := &fakeWriter{}
	d := &DLQProducer{writer: w, logger: testLogger()}

	original := kafka.Message{
		Topic:     "storefront.catalog.changed",
		Partition: 2,
		Offset:    41,
		Key:       []byte("prod-1"),
		Value:     []byte(`{}`),
		Headers:   []kafka.Header{{Key: "event_type", Value: []byte("catalog.changed")}},
	}
	require.NoError(t, d.Publish(context.Background(), original, errors.New("cache down"), "storefront-catalog"))
	require.Len(t, w.msgs, 1)

	got := w.msgs[0]
	assert.Equal(t, "storefront.dlq.storefront.catalog.changed", got.Topic)
	assert.Equal(t, original.Key, got.Key)

	carrier := NewHeaderCarrier(&got.Headers)
	assert.Equal(t, "catalog.changed", carrier.Get("event_type"))
	assert.Equal(t, "2", carrier.Get("dlq.original_partition"))
	assert.Equal(t, "41", carrier.Get("dlq.original_offset"))
	assert.Equal(t, "storefront-catalog", carrier.Get("dlq.consumer_group"))
	assert.Equal(t, "cache down", carrier.Get("dlq.error"))
}

func TestDLQProducer_Publish_WriteError(t *testing.T) {
	d := &DLQProducer{writer: &fakeWriter{err: errors.New("no leader")}, logger: testLogger()}
	err := d.Publish(context.Background(), kafka.Message{Topic: "t"}, nil, "g")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storefront.dlq.t")
}
