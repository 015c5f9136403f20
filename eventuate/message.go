/*
Package eventuate provides the core of a transactional messaging
framework: an outbox producer, a domain-event publisher, a broker
consumer with per-partition swimlane dispatch, and a decorator chain
that wraps handler invocation with duplicate detection, transaction
scoping and typed-event dispatch.

See the adapters sub-packages (eventuate/outbox, eventuate/inbox,
eventuate/kafkabroker) for the concrete Postgres/Kafka wiring; this
package defines the wire-level Message envelope and the interceptor and
id-generation contracts shared by producer and consumer.
*/
package eventuate

import "maps"

// Reserved header names. ID and Destination are always present on the
// wire; the rest are populated depending on how the message was sent.
const (
	HeaderID               = "ID"
	HeaderDestination      = "DESTINATION"
	HeaderDate             = "DATE"
	HeaderPartitionID      = "PARTITION_ID"
	HeaderEventType        = "EVENT_TYPE"
	HeaderEventAggType     = "EVENT_AGGREGATE_TYPE"
	HeaderEventAggregateID = "EVENT_AGGREGATE_ID"
)

// Message is the immutable envelope carried through the outbox, the
// broker and the decorator chain: a header map and an opaque payload.
// ID and Destination are convenience accessors over the HeaderID and
// HeaderDestination entries, which per §3 are always present on wire.
// Callers should treat a constructed Message as read-only; WithHeader
// returns a copy.
type Message struct {
	Payload string
	Headers map[string]string
}

// NewMessage builds a Message with a copy of the given headers so the
// caller's map can be mutated afterwards without affecting the
// envelope.
func NewMessage(payload string, headers map[string]string) Message {
	return Message{
		Payload: payload,
		Headers: cloneHeaders(headers),
	}
}

// ID returns the HeaderID header value.
func (m Message) ID() string {
	return m.RequiredHeader(HeaderID)
}

// Header returns the value of the named header and whether it was
// present.
func (m Message) Header(name string) (string, bool) {
	v, ok := m.Headers[name]
	return v, ok
}

// RequiredHeader returns the named header, panicking if it is absent.
// Used internally once invariants (§3: ID/DESTINATION always present)
// have already been established by the producer.
func (m Message) RequiredHeader(name string) string {
	v, ok := m.Headers[name]
	if !ok {
		panic("eventuate: required header missing: " + name)
	}
	return v
}

// WithHeader returns a copy of the message with the header set,
// leaving the receiver untouched.
func (m Message) WithHeader(name, value string) Message {
	out := m
	out.Headers = cloneHeaders(m.Headers)
	out.Headers[name] = value
	return out
}

// Destination returns the DESTINATION header (the topic).
func (m Message) Destination() string {
	d, _ := m.Header(HeaderDestination)
	return d
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	maps.Copy(out, h)
	return out
}
