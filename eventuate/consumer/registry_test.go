package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type OrderCreated struct {
	OrderID string `json:"orderId"`
}

func TestHandlerRegistryDispatchesToRegisteredType(t *testing.T) {
	registry := NewHandlerRegistry()

	var got OrderCreated
	On(registry, "Order", "OrderCreated", func(ctx context.Context, env DomainEventEnvelope, event OrderCreated, scope ServiceScope) error {
		got = event
		return nil
	})

	target, handlers, ok := registry.lookup("Order", "OrderCreated")
	require.True(t, ok)
	require.Len(t, handlers, 1)

	decoded, err := decode(target, `{"orderId":"order-1"}`)
	require.NoError(t, err)

	err = handlers[0](context.Background(), DomainEventEnvelope{Event: decoded}, ServiceScope{})
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.OrderID)
}

func TestHandlerRegistryLookupMissReturnsFalse(t *testing.T) {
	registry := NewHandlerRegistry()
	_, _, ok := registry.lookup("Order", "Unregistered")
	assert.False(t, ok)
}

func TestHandlerRegistryAccumulatesMultipleHandlers(t *testing.T) {
	registry := NewHandlerRegistry()
	var calls int

	On(registry, "Order", "OrderCreated", func(ctx context.Context, env DomainEventEnvelope, event OrderCreated, scope ServiceScope) error {
		calls++
		return nil
	})
	On(registry, "Order", "OrderCreated", func(ctx context.Context, env DomainEventEnvelope, event OrderCreated, scope ServiceScope) error {
		calls++
		return nil
	})

	_, handlers, ok := registry.lookup("Order", "OrderCreated")
	require.True(t, ok)
	require.Len(t, handlers, 2)

	for _, h := range handlers {
		require.NoError(t, h(context.Background(), DomainEventEnvelope{Event: OrderCreated{}}, ServiceScope{}))
	}
	assert.Equal(t, 2, calls)
}

func TestServiceScopeGet(t *testing.T) {
	scope := ServiceScope{"db": "conn"}
	v, ok := scope.Get("db")
	assert.True(t, ok)
	assert.Equal(t, "conn", v)

	_, ok = scope.Get("missing")
	assert.False(t, ok)
}
