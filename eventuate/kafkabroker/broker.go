// Package kafkabroker implements eventuate/consumer.Broker over Kafka
// using sarama's consumer-group API, mirroring the teacher's
// pkg/messaging/adapters/kafka producer pattern for the send side
// (SPEC_FULL.md DOMAIN STACK: "kafka -> eventuate/kafkabroker").
package kafkabroker

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/consumer"
	apperrors "github.com/chris-alexander-pop/eventuate-tram-go/pkg/errors"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/logger"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/resilience"
)

const (
	CodeConnectFailed = "KAFKABROKER_CONNECT_FAILED"
	CodePublishFailed = "KAFKABROKER_PUBLISH_FAILED"
)

// Config holds the sarama wiring a Broker needs. Brokers is the
// bootstrap address list; Version defaults to sarama's library default
// if zero.
type Config struct {
	Brokers []string
	Version sarama.KafkaVersion
	Retry   resilience.RetryConfig

	// CircuitBreaker guards each consumer-group join attempt; once
	// FailureThreshold consecutive join failures trip it, further
	// attempts fail fast with resilience.ErrCircuitOpen until Timeout
	// elapses, instead of hammering a broker that is still down.
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Broker is the Kafka implementation of consumer.Broker. A Broker fetch
// loop re-joins its consumer group with backoff on transient errors
// rather than returning, per §7's "subscription stays alive" contract.
type Broker struct {
	cfg Config
	cb  *resilience.CircuitBreaker
}

// New returns a Broker ready to Fetch or Publish against cfg.Brokers.
func New(cfg Config) *Broker {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker = resilience.DefaultCircuitBreakerConfig("kafkabroker")
	}
	return &Broker{cfg: cfg, cb: resilience.NewCircuitBreaker(cfg.CircuitBreaker)}
}

var _ consumer.Broker = (*Broker)(nil)

// Fetch joins subscriberID as a sarama consumer group over channels,
// invoking handler for each record until ctx is canceled. Connect and
// session-level failures are retried with backoff (§7) without an
// attempt limit; Fetch only returns once ctx is done.
func (b *Broker) Fetch(ctx context.Context, subscriberID string, channels []string, handler consumer.RecordHandler) error {
	saramaCfg := sarama.NewConfig()
	if b.cfg.Version != (sarama.KafkaVersion{}) {
		saramaCfg.Version = b.cfg.Version
	}
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	// manual commit: we only mark a message's offset once its swimlane
	// has actually completed it, not merely fetched it (§4.4).
	saramaCfg.Consumer.Offsets.AutoCommit.Enable = false

	// A subscription stays alive across transient broker trouble (§7),
	// so this loop never gives up on its own -- only ctx cancellation
	// (Subscription.stop) ends it. Each failed attempt backs off using
	// the same shape as resilience.Retry, just without its bounded
	// attempt count. The circuit breaker sits in front of runSession so
	// a broker that is completely down fails each attempt immediately
	// with ErrCircuitOpen instead of paying sarama's connect timeout
	// every time through the loop.
	attempt := 0
	for ctx.Err() == nil {
		err := b.cb.Execute(ctx, func(ctx context.Context) error {
			return b.runSession(ctx, subscriberID, channels, saramaCfg, handler)
		})
		if err == nil || ctx.Err() != nil {
			return nil
		}

		backoff := resilience.ExponentialBackoff(attempt, b.cfg.Retry.InitialBackoff, b.cfg.Retry.MaxBackoff, b.cfg.Retry.Jitter)
		logger.L().ErrorContext(ctx, "kafka broker session failed, backing off before retry",
			"subscriber_id", subscriberID, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		attempt++
	}
	return nil
}

// runSession creates one consumer group and runs its Consume loop until
// the group itself errors or ctx is canceled.
func (b *Broker) runSession(ctx context.Context, subscriberID string, channels []string, saramaCfg *sarama.Config, handler consumer.RecordHandler) error {
	group, err := sarama.NewConsumerGroup(b.cfg.Brokers, subscriberID, saramaCfg)
	if err != nil {
		return apperrors.New(CodeConnectFailed, "failed to create consumer group", err)
	}
	defer group.Close()

	go func() {
		for consumerErr := range group.Errors() {
			logger.L().ErrorContext(ctx, "kafka consumer group reported error",
				"subscriber_id", subscriberID, "error", consumerErr)
		}
	}()

	groupHandler := &consumerGroupHandler{handler: handler}
	for ctx.Err() == nil {
		if err := group.Consume(ctx, channels, groupHandler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// consumerGroupHandler adapts sarama's per-session callbacks to a single
// RecordHandler. ConsumeClaim hands each message to the handler and
// relies on the handler's complete callback -- invoked once the owning
// swimlane actually finishes the message -- to mark it, so offsets
// commit strictly in the order swimlanes process them (§4.4: a
// swimlane's FIFO-per-partition guarantee means complete() fires in
// increasing-offset order for any one partition).
type consumerGroupHandler struct {
	handler consumer.RecordHandler

	// mu serializes handler calls: sarama runs ConsumeClaim in its own
	// goroutine per claimed partition, and a RecordHandler is called one
	// record at a time.
	mu sync.Mutex
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			rec := consumer.FetchedRecord{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Value:     msg.Value,
			}
			h.mu.Lock()
			h.handler(ctx, rec, func(err error) {
				if err != nil {
					// leave the offset uncommitted; redelivery retries it
					// (§7: a halted swimlane does not advance).
					return
				}
				session.MarkMessage(msg, "")
				session.Commit()
			})
			h.mu.Unlock()
		}
	}
}

// Publish sends a pre-encoded wire record to topic, used by a CDC relay
// process draining the outbox table (SPEC_FULL.md DOMAIN STACK). It is
// not used by the producer/publisher packages, which only ever write to
// the outbox table and never touch the broker directly (§4.1's "never
// publishes to the broker directly").
func (b *Broker) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(b.cfg.Brokers, saramaCfg)
	if err != nil {
		return apperrors.New(CodeConnectFailed, "failed to create sync producer", err)
	}
	defer producer.Close()

	kafkaMsg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
	}
	if key != "" {
		kafkaMsg.Key = sarama.StringEncoder(key)
	}
	for k, v := range headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	if _, _, err := producer.SendMessage(kafkaMsg); err != nil {
		return apperrors.New(CodePublishFailed, "failed to publish record", err)
	}
	return nil
}
