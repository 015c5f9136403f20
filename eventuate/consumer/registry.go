package consumer

import (
	"context"
	"encoding/json"
	"reflect"
)

// registration pairs a decoding target type with the handler(s)
// registered for one (aggregateType, eventType) key.
type registration struct {
	target   reflect.Type
	handlers []HandlerFunc
}

// HandlerRegistry is the (aggregateType, eventType) -> handlers table
// consulted by the type-dispatch decorator (§4.5 step 4). It is built
// once per Subscription and never mutated after Subscribe returns.
type HandlerRegistry struct {
	byKey map[string]*registration
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{byKey: make(map[string]*registration)}
}

// On registers handler to run whenever a message on aggregateType
// carries EVENT_TYPE == eventType. The payload is decoded into a fresh
// *T before handler runs; handler receives the decoded value already
// asserted to T. Multiple calls for the same (aggregateType, eventType)
// accumulate handlers; all matching handlers run for each message
// (§4.5 step 4: "invokes every matching handler").
func On[T any](r *HandlerRegistry, aggregateType, eventType string, handler func(ctx context.Context, envelope DomainEventEnvelope, event T, scope ServiceScope) error) {
	key := registryKey(aggregateType, eventType)
	reg, ok := r.byKey[key]
	if !ok {
		var zero T
		reg = &registration{target: reflect.TypeOf(zero)}
		r.byKey[key] = reg
	}
	reg.handlers = append(reg.handlers, func(ctx context.Context, env DomainEventEnvelope, scope ServiceScope) error {
		return handler(ctx, env, env.Event.(T), scope)
	})
}

// lookup returns the decode target and handlers registered for
// (aggregateType, eventType), or ok=false if none are registered --
// the "no handler for the type" silent-skip case of §4.5 step 4.
func (r *HandlerRegistry) lookup(aggregateType, eventType string) (reflect.Type, []HandlerFunc, bool) {
	reg, ok := r.byKey[registryKey(aggregateType, eventType)]
	if !ok {
		return nil, nil, false
	}
	return reg.target, reg.handlers, true
}

func registryKey(aggregateType, eventType string) string {
	return aggregateType + "\x00" + eventType
}

// decode unmarshals payload into a fresh value of target's type,
// returning it boxed as any so DomainEventEnvelope.Event can hold it.
func decode(target reflect.Type, payload string) (any, error) {
	ptr := reflect.New(target)
	if err := json.Unmarshal([]byte(payload), ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
