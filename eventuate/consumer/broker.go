package consumer

import "context"

// FetchedRecord is one record read off the broker, already carrying
// its partition/offset for swimlane routing and offset tracking.
type FetchedRecord struct {
	Topic     string
	Partition int32
	Offset    int64
	Value     []byte // the JSON {"id","headers","payload"} wire format of §6
}

// RecordHandler processes one fetched record. The broker implementation
// calls this synchronously from its fetch loop, one call at a time; the handler (supplied
// by Subscription) must itself be non-blocking -- it hands the record
// to a swimlane and returns -- and must call complete exactly once,
// possibly from a different goroutine once the swimlane actually runs
// the message, to report success or failure back to the broker so it
// can decide whether to advance its offset for that partition (§4.3).
type RecordHandler func(ctx context.Context, rec FetchedRecord, complete func(error))

// Broker is the transport abstraction the consumer package depends on.
// A concrete adapter (e.g. eventuate/kafkabroker) implements this over
// a specific partitioned log; this package has zero transport-specific
// dependencies, mirroring the teacher's pkg/messaging adapter pattern.
type Broker interface {
	// Fetch joins consumer group subscriberID on channels and blocks,
	// invoking handler for each fetched record, until ctx is canceled
	// or an unrecoverable error occurs. Implementations should retry
	// transient connect/fetch failures with backoff rather than
	// returning (§7: "Broker connect/fetch failure ... subscription
	// stays alive").
	Fetch(ctx context.Context, subscriberID string, channels []string, handler RecordHandler) error
}
