package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type OrderCreated struct {
	OrderID string `json:"orderId"`
}

type OrderShipped struct {
	OrderID string `json:"orderId"`
}

type fakeSender struct {
	sent []eventuate.Message
	dest []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, destination string, msg eventuate.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	f.dest = append(f.dest, destination)
	return nil
}

func TestPublishAttachesAggregateHeaders(t *testing.T) {
	sender := &fakeSender{}
	pub := NewPublisher(sender, nil)

	err := pub.Publish(context.Background(), "Order", "order-1", OrderCreated{OrderID: "order-1"})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Order", sender.dest[0])
	msg := sender.sent[0]
	assert.Equal(t, "Order", msg.Headers[eventuate.HeaderEventAggType])
	assert.Equal(t, "order-1", msg.Headers[eventuate.HeaderEventAggregateID])
	assert.Equal(t, "order-1", msg.Headers[eventuate.HeaderPartitionID])
	assert.Contains(t, msg.Headers[eventuate.HeaderEventType], "OrderCreated")

	var decoded OrderCreated
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, "order-1", decoded.OrderID)
}

func TestPublishMultipleEventsSendsOneMessageEach(t *testing.T) {
	sender := &fakeSender{}
	pub := NewPublisher(sender, nil)

	err := pub.Publish(context.Background(), "Order", "order-1",
		OrderCreated{OrderID: "order-1"}, OrderShipped{OrderID: "order-1"})

	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
}

func TestPublishUsesRegisteredAlias(t *testing.T) {
	sender := &fakeSender{}
	registry := NewAliasRegistry()
	RegisterAlias[OrderCreated](registry, "order.created")
	pub := NewPublisher(sender, registry)

	err := pub.Publish(context.Background(), "Order", "order-1", OrderCreated{OrderID: "order-1"})
	require.NoError(t, err)

	assert.Equal(t, "order.created", sender.sent[0].Headers[eventuate.HeaderEventType])
}

func TestPublishPropagatesSenderError(t *testing.T) {
	boom := errors.New("send failed")
	pub := NewPublisher(&fakeSender{err: boom}, nil)

	err := pub.Publish(context.Background(), "Order", "order-1", OrderCreated{OrderID: "order-1"})
	assert.ErrorIs(t, err, boom)
}
