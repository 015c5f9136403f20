/*
Package consumer implements the broker consumer lifecycle (§4.3), the
swimlane dispatcher set (§4.4), the decorator chain (§4.5) and the
Subscribe/Unsubscribe API (§6) that together make up the receive side
of the framework. The package depends only on the Broker interface
defined in broker.go; concrete transports (e.g. eventuate/kafkabroker)
implement that interface without this package knowing about sarama.
*/
package consumer

import (
	"context"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
)

// ServiceScope is the short-lived dependency-lookup context passed to
// a handler invocation (Design Notes: "service-scope abstraction").
// It is a capability-id -> instance map built once per handler
// invocation by the ScopeFactory installed with WithScopeFactory;
// without a ScopeFactory handlers receive an empty scope. This package
// never adds entries to it itself.
type ServiceScope map[string]any

// Get looks up a capability by id, returning ok=false if absent.
func (s ServiceScope) Get(id string) (any, bool) {
	v, ok := s[id]
	return v, ok
}

// DomainEventEnvelope is handed to a registered handler: the raw
// message, its aggregate routing and the decoded event body (§4.5 step
// 4).
type DomainEventEnvelope struct {
	Message       eventuate.Message
	AggregateType string
	AggregateID   string
	EventType     string
	Event         any
}

// HandlerFunc processes one decoded domain event. Returning a non-nil
// error rolls back the inbox insert for this message and halts the
// owning swimlane (§4.5 step 2, §5).
type HandlerFunc func(ctx context.Context, envelope DomainEventEnvelope, scope ServiceScope) error
