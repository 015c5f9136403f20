package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/inbox"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// MessageConsumer owns every Subscription created against one broker and
// database, and is the top-level handle an application shuts down on
// exit (§6). Its zero value is not usable; build one with NewMessageConsumer.
type MessageConsumer struct {
	broker       Broker
	db           *gorm.DB
	inboxStore   inbox.Store
	interceptors *eventuate.InterceptorPipeline

	mu            sync.Mutex
	subscriptions map[*Subscription]struct{}
	closed        bool
}

// Config bundles the dependencies shared by every Subscription a
// MessageConsumer creates.
type Config struct {
	Broker       Broker
	DB           *gorm.DB
	InboxStore   inbox.Store
	Interceptors *eventuate.InterceptorPipeline
}

// NewMessageConsumer wires a broker and database into a consumer ready
// to accept Subscribe calls.
func NewMessageConsumer(cfg Config) *MessageConsumer {
	return &MessageConsumer{
		broker:        cfg.Broker,
		db:            cfg.DB,
		inboxStore:    cfg.InboxStore,
		interceptors:  cfg.Interceptors,
		subscriptions: make(map[*Subscription]struct{}),
	}
}

// Subscribe binds subscriberID and channels to registry and starts
// fetching immediately, returning a handle whose Unsubscribe stops only
// this subscription (§6). subscriberID doubles as the inbox's
// consumer identity for duplicate detection (§4.5 step 2).
func (c *MessageConsumer) Subscribe(subscriberID string, channels []string, registry *HandlerRegistry, opts ...func(*SubscribeConfig)) *Subscription {
	cfg := SubscribeConfig{
		SubscriberID: subscriberID,
		Channels:     channels,
		Broker:       c.broker,
		DB:           c.db,
		InboxStore:   c.inboxStore,
		Registry:     registry,
		Interceptors: c.interceptors,
		ShutdownMode: WaitForCompletion,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		panic("eventuate: Subscribe called after Close")
	}
	var sub *Subscription
	sub = newSubscription(cfg, func() {
		c.mu.Lock()
		delete(c.subscriptions, sub)
		c.mu.Unlock()
	})
	c.subscriptions[sub] = struct{}{}
	c.mu.Unlock()

	sub.start()
	return sub
}

// WithShutdownMode sets the ShutdownMode a Subscribe call's subscription
// uses when stopped.
func WithShutdownMode(mode ShutdownMode) func(*SubscribeConfig) {
	return func(cfg *SubscribeConfig) { cfg.ShutdownMode = mode }
}

// WithShutdownTimeout bounds a WaitForCompletion shutdown; past the
// timeout any swimlane still running is force-cancelled
// (SPEC_FULL.md "WithShutdownTimeout").
func WithShutdownTimeout(d time.Duration) func(*SubscribeConfig) {
	return func(cfg *SubscribeConfig) { cfg.ShutdownTimeout = d }
}

// WithScopeFactory installs the per-invocation ServiceScope builder
// (Design Notes: "service-scope abstraction").
func WithScopeFactory(f func(ctx context.Context) ServiceScope) func(*SubscribeConfig) {
	return func(cfg *SubscribeConfig) { cfg.ScopeFactory = f }
}

// WithObserver installs the Observer notified on poison-pill drops
// (SPEC_FULL.md "poison-pill counter").
func WithObserver(o Observer) func(*SubscribeConfig) {
	return func(cfg *SubscribeConfig) { cfg.Observer = o }
}

// Close stops every active subscription, each according to its own
// ShutdownMode, and waits for all of them to finish. Idempotent.
func (c *MessageConsumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subscriptions))
	for sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			sub.stop()
			return nil
		})
	}
	_ = g.Wait()
}
