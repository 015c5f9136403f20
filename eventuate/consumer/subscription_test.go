package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/inbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeBroker is an in-process Broker: Fetch blocks delivering records
// pushed via push until ctx is canceled, letting tests drive a
// Subscription's lifecycle deterministically.
type fakeBroker struct {
	mu        sync.Mutex
	handler   RecordHandler
	ready     chan struct{}
	readyOnce sync.Once
}

func (b *fakeBroker) Fetch(ctx context.Context, subscriberID string, channels []string, handler RecordHandler) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	b.readyOnce.Do(func() { close(b.ready) })

	<-ctx.Done()
	return nil
}

func (b *fakeBroker) push(t *testing.T, partition int32, offset int64, wire wireMessage) {
	t.Helper()
	<-b.ready
	value, err := json.Marshal(wire)
	require.NoError(t, err)

	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	require.NotNil(t, handler)

	rec := FetchedRecord{Topic: "test", Partition: partition, Offset: offset, Value: value}
	handler(context.Background(), rec, func(error) {})
}

func newSubscriptionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE received_messages (
		message_id TEXT NOT NULL,
		consumer_id TEXT NOT NULL,
		creation_time DATETIME,
		PRIMARY KEY (message_id, consumer_id)
	)`).Error)
	return db
}

func TestMessageConsumerSubscribeDeliversToHandler(t *testing.T) {
	db := newSubscriptionTestDB(t)
	store := inbox.NewGormStore(db, inbox.Config{})
	broker := &fakeBroker{ready: make(chan struct{})}
	mc := NewMessageConsumer(Config{Broker: broker, DB: db, InboxStore: store})

	registry := NewHandlerRegistry()
	received := make(chan OrderCreated, 1)
	On(registry, "Order", "OrderCreated", func(ctx context.Context, env DomainEventEnvelope, event OrderCreated, scope ServiceScope) error {
		received <- event
		return nil
	})

	sub := mc.Subscribe("order-service", []string{"Order"}, registry)
	defer sub.Unsubscribe()

	broker.push(t, 0, 0, wireMessage{
		ID:      "msg-1",
		Payload: `{"orderId":"order-1"}`,
		Headers: map[string]string{
			eventuate.HeaderDestination: "Order",
			eventuate.HeaderEventType:   "OrderCreated",
		},
	})

	select {
	case event := <-received:
		assert.Equal(t, "order-1", event.OrderID)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestSubscriptionUnsubscribeIsIdempotent(t *testing.T) {
	db := newSubscriptionTestDB(t)
	store := inbox.NewGormStore(db, inbox.Config{})
	broker := &fakeBroker{ready: make(chan struct{})}
	mc := NewMessageConsumer(Config{Broker: broker, DB: db, InboxStore: store})

	sub := mc.Subscribe("order-service", []string{"Order"}, NewHandlerRegistry())
	sub.Unsubscribe()
	assert.NotPanics(t, func() { sub.Unsubscribe() })
}

func TestMessageConsumerCloseStopsEverySubscription(t *testing.T) {
	db := newSubscriptionTestDB(t)
	store := inbox.NewGormStore(db, inbox.Config{})
	broker := &fakeBroker{ready: make(chan struct{})}
	mc := NewMessageConsumer(Config{Broker: broker, DB: db, InboxStore: store})

	mc.Subscribe("order-service", []string{"Order"}, NewHandlerRegistry())

	done := make(chan struct{})
	go func() {
		mc.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close never returned")
	}

	assert.Panics(t, func() {
		mc.Subscribe("too-late", []string{"Order"}, NewHandlerRegistry())
	}, "Subscribe after Close is a programmer error")
}

func TestSubscriptionShutdownTimeoutForceCancelsSlowHandler(t *testing.T) {
	db := newSubscriptionTestDB(t)
	store := inbox.NewGormStore(db, inbox.Config{})
	broker := &fakeBroker{ready: make(chan struct{})}

	registry := NewHandlerRegistry()
	started := make(chan struct{})
	On(registry, "Order", "OrderCreated", func(ctx context.Context, env DomainEventEnvelope, event OrderCreated, scope ServiceScope) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	sub := newSubscription(SubscribeConfig{
		SubscriberID:    "order-service",
		Channels:        []string{"Order"},
		Broker:          broker,
		DB:              db,
		InboxStore:      store,
		Registry:        registry,
		ShutdownMode:    WaitForCompletion,
		ShutdownTimeout: 30 * time.Millisecond,
	}, func() {})
	sub.start()

	broker.push(t, 0, 0, wireMessage{
		ID:      "msg-1",
		Payload: `{"orderId":"order-1"}`,
		Headers: map[string]string{
			eventuate.HeaderDestination: "Order",
			eventuate.HeaderEventType:   "OrderCreated",
		},
	})
	<-started

	done := make(chan struct{})
	go func() {
		sub.stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop() never escalated past its shutdown timeout")
	}
}
