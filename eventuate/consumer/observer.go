package consumer

import (
	"context"
	"sync/atomic"
)

// Observer receives a notification whenever the type-dispatch decorator
// drops a message it cannot decode (SPEC_FULL.md "poison-pill counter").
// §7 only says a decode failure is "logged"; this hook exists so an
// application can also alert or export a metric without the decorator
// itself taking on a metrics dependency.
type Observer interface {
	PoisonPill(ctx context.Context, aggregateType, eventType string, err error)
}

// NoopObserver discards every notification. The zero value of
// SubscribeConfig uses it.
type NoopObserver struct{}

func (NoopObserver) PoisonPill(context.Context, string, string, error) {}

// PoisonPillCounter is a ready-to-use Observer that just counts
// occurrences, for tests and simple health checks.
type PoisonPillCounter struct {
	count atomic.Int64
}

func (o *PoisonPillCounter) PoisonPill(context.Context, string, string, error) {
	o.count.Add(1)
}

// Count returns the number of poison pills observed so far.
func (o *PoisonPillCounter) Count() int64 {
	return o.count.Load()
}
