// Command relay-demo wires the outbox producer, the domain-event
// publisher and a Kafka-backed consumer subscription together against a
// single Postgres database, the way an application embedding this
// module would. It publishes one OrderCreated event inside a business
// transaction and subscribes a handler for it; it is a wiring sample,
// not a service meant to run unattended.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/consumer"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/dbctx"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/inbox"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/kafkabroker"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/outbox"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/publisher"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/telemetry"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/config"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// appConfig is read once at startup via pkg/config, mixing database,
// broker and logging settings the way the teacher's service templates
// do.
type appConfig struct {
	DatabaseDSN  string   `env:"DATABASE_DSN" validate:"required"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	LogLevel     string   `env:"LOG_LEVEL" env-default:"INFO"`
	LogFormat    string   `env:"LOG_FORMAT" env-default:"JSON"`
}

type OrderCreated struct {
	OrderID string `json:"orderId"`
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logger.L()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	interceptors := eventuate.NewInterceptorPipeline(telemetry.New())

	outboxStore := outbox.NewGormStore(db, outbox.Config{})
	producer := outbox.NewProducer(outboxStore, nil, interceptors)
	// publish OrderCreated under the same EVENT_TYPE the handler below
	// is registered for, instead of its fully-qualified Go type name
	aliases := publisher.NewAliasRegistry()
	publisher.RegisterAlias[OrderCreated](aliases, "OrderCreated")
	pub := publisher.NewPublisher(producer, aliases)

	broker := kafkabroker.New(kafkabroker.Config{Brokers: cfg.KafkaBrokers})
	inboxStore := inbox.NewGormStore(db, inbox.Config{})
	mc := consumer.NewMessageConsumer(consumer.Config{
		Broker:       broker,
		DB:           db,
		InboxStore:   inboxStore,
		Interceptors: interceptors,
	})

	registry := consumer.NewHandlerRegistry()
	consumer.On(registry, "Order", "OrderCreated", func(ctx context.Context, env consumer.DomainEventEnvelope, event OrderCreated, scope consumer.ServiceScope) error {
		log.InfoContext(ctx, "received order created event", "order_id", event.OrderID)
		return nil
	})

	sub := mc.Subscribe("order-service", []string{"Order"}, registry,
		consumer.WithShutdownMode(consumer.WaitForCompletion),
		consumer.WithShutdownTimeout(10*time.Second),
	)
	defer sub.Unsubscribe()

	ctx := context.Background()
	if err := db.Transaction(func(tx *gorm.DB) error {
		return pub.Publish(dbctx.WithTx(ctx, tx), "Order", "order-1", OrderCreated{OrderID: "order-1"})
	}); err != nil {
		log.Error("failed to publish order created event", "error", err)
	}

	mc.Close()
}
