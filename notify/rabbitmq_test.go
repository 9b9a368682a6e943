package notify

import (
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-ledger/ledger"
)

func TestEventMessage(t *testing.T) {
	at := time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)
	msg, err := eventMessage(ledger.Event{
		Type:       ledger.EventPaymentRecorded,
		OrderID:    "o1",
		PaymentID:  "p1",
		Attributes: map[string]string{"amount": "12.500"},
		At:         at,
	})
	require.NoError(t, err)

	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "payment.recorded", msg.Type)
	assert.Equal(t, at, msg.Timestamp)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "o1", body["order_id"])
	assert.Equal(t, "p1", body["payment_id"])
	assert.NotContains(t, body, "session_id")
}
