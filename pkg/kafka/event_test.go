package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Fields(t *testing.T) {
	type orderCreated struct {
		OrderID    string `json:"order_id"`
		GrandTotal string `json:"grand_total"`
	}

	data := orderCreated{OrderID: "ord-1", GrandTotal: "49.00"}
	event, err := NewEvent("order.created", "ord-1", "order", data)
	require.NoError(t, err)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "order.created", event.EventType)
	assert.Equal(t, "ord-1", event.AggregateID)
	assert.Equal(t, "order", event.AggregateType)
	assert.Equal(t, Source, event.Source)
	assert.Equal(t, 1, event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 2*time.Second)

	var decoded orderCreated
	require.NoError(t, event.UnmarshalData(&decoded))
	assert.Equal(t, data, decoded)
}

func TestNewEvent_UnencodableData(t *testing.T) {
	_, err := NewEvent("x", "a", "t", make(chan int))
	require.Error(t, err)
}

func TestEvent_Chaining(t *testing.T) {
	event := &Event{}
	got := event.WithCorrelationID("corr-1").WithMetadata("seller_id", "s-1")
	assert.Same(t, event, got)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, "s-1", event.Metadata["seller_id"])
}

func TestUnmarshalEvent(t *testing.T) {
	original, err := NewEvent("catalog.changed", "prod-1", "product", map[string]string{"product_id": "prod-1"})
	require.NoError(t, err)
	original.CorrelationID = "corr-9"

	raw, err := original.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, original.EventID, restored.EventID)
	assert.Equal(t, original.CorrelationID, restored.CorrelationID)
	assert.JSONEq(t, string(original.Data), string(restored.Data))

	_, err = UnmarshalEvent([]byte(`{broken`))
	require.Error(t, err)

	bad := &Event{Data: json.RawMessage(`nope`)}
	require.Error(t, bad.UnmarshalData(&map[string]string{}))
}
