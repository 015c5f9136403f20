package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/inbox"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/logger"
	"gorm.io/gorm"
)

// ShutdownMode selects how Subscription.Stop treats a swimlane that is
// still executing a handler when shutdown begins (§5).
type ShutdownMode int

const (
	// WaitForCompletion lets the in-flight handler finish; its message
	// is processed to completion and its offset committed.
	WaitForCompletion ShutdownMode = iota
	// CancelCurrent signals cancellation to the in-flight handler via
	// its context; a cooperating handler aborts and its offset is not
	// committed.
	CancelCurrent
)

// wireMessage is the §6 broker record value: {"id","headers","payload"}.
type wireMessage struct {
	ID      string            `json:"id"`
	Headers map[string]string `json:"headers"`
	Payload string            `json:"payload"`
}

// subscriptionState mirrors §4.3's per-consumer state machine.
type subscriptionState int

const (
	stateCreated subscriptionState = iota
	stateStarted
	stateStopping
	stateStopped
)

// Subscription is a long-lived binding of a subscriberId and channel
// set to a handler registry, owning exactly one broker consumer and
// its swimlane set (§3, §6).
type Subscription struct {
	subscriberID    string
	channels        []string
	broker          Broker
	lanes           *swimlaneSet
	shutdownMode    ShutdownMode
	shutdownTimeout time.Duration

	mu     sync.Mutex
	state  subscriptionState
	cancel context.CancelFunc
	doneCh chan struct{}

	onUnsubscribe func()
}

// SubscribeConfig bundles everything needed to build a subscription's
// decorator chain and fetch loop.
type SubscribeConfig struct {
	SubscriberID string
	Channels     []string
	Broker       Broker
	DB           *gorm.DB
	InboxStore   inbox.Store
	Registry     *HandlerRegistry
	Interceptors *eventuate.InterceptorPipeline
	ShutdownMode ShutdownMode
	// ShutdownTimeout bounds a WaitForCompletion shutdown; zero means
	// wait indefinitely. Past the timeout, any swimlane still running
	// is force-cancelled (SPEC_FULL.md "WithShutdownTimeout").
	ShutdownTimeout time.Duration
	// ScopeFactory builds the per-invocation ServiceScope (Design
	// Notes: "service-scope abstraction"). May be nil.
	ScopeFactory func(ctx context.Context) ServiceScope
	// Observer, if set, is notified whenever the type-dispatch decorator
	// drops a message it cannot decode. May be nil.
	Observer Observer
}

func newSubscription(cfg SubscribeConfig, onUnsubscribe func()) *Subscription {
	interceptors := cfg.Interceptors
	if interceptors == nil {
		interceptors = eventuate.NewInterceptorPipeline()
	}

	terminal := typeDispatchTerminal(cfg.Registry, cfg.ScopeFactory, cfg.Observer)
	chain := buildChain(terminal,
		receiveInterceptorDecorator(interceptors),
		duplicateDetectDecorator(cfg.DB, cfg.InboxStore, cfg.SubscriberID),
		handleInterceptorDecorator(interceptors),
	)

	return &Subscription{
		subscriberID:    cfg.SubscriberID,
		channels:        cfg.Channels,
		broker:          cfg.Broker,
		lanes:           newSwimlaneSet(chain),
		shutdownMode:    cfg.ShutdownMode,
		shutdownTimeout: cfg.ShutdownTimeout,
		onUnsubscribe:   onUnsubscribe,
	}
}

// start begins the fetch loop in a background goroutine. Starting a
// subscription more than once is a programmer error (§4.3:
// "Start is idempotent-forbidden").
func (s *Subscription) start() {
	s.mu.Lock()
	if s.state != stateCreated {
		s.mu.Unlock()
		panic("eventuate: subscription already started")
	}
	s.state = stateStarted
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		err := s.broker.Fetch(ctx, s.subscriberID, s.channels, s.handleRecord)
		if err != nil && ctx.Err() == nil {
			logger.L().ErrorContext(ctx, "broker fetch loop exited with error",
				"subscriber_id", s.subscriberID, "error", err)
		}
	}()
}

// handleRecord decodes the wire record and routes it to the swimlane
// for its partition (§4.3, §4.4). It never blocks on handler
// execution: it enqueues and returns, so the broker's fetch loop keeps
// making progress while the swimlane drains in the background.
func (s *Subscription) handleRecord(ctx context.Context, rec FetchedRecord, complete func(error)) {
	var wire wireMessage
	if err := json.Unmarshal(rec.Value, &wire); err != nil {
		// poison pill at the envelope level (not the event payload
		// level -- that one is handled in typeDispatchTerminal): log
		// and acknowledge so a malformed record does not wedge the
		// partition (§7).
		logger.L().WarnContext(ctx, "poison pill: failed to decode wire envelope, acknowledging",
			"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
		complete(nil)
		return
	}

	msg := eventuate.NewMessage(wire.Payload, wire.Headers)
	if _, ok := msg.Header(eventuate.HeaderID); !ok {
		msg = msg.WithHeader(eventuate.HeaderID, wire.ID)
	}

	accepted := s.lanes.dispatch(rec.Partition, swimlaneTask{
		ctx:      ctx,
		msg:      msg,
		complete: complete,
	})
	if !accepted {
		logger.L().WarnContext(ctx, "swimlane stopped, dropping record (will be redelivered)",
			"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)
		complete(errors.New("swimlane stopped, record not dispatched"))
	}
}

// stop halts the fetch loop and every swimlane, per the configured
// ShutdownMode, then marks the subscription Stopped. Idempotent (§8).
func (s *Subscription) stop() {
	s.mu.Lock()
	if s.state == stateStopping || s.state == stateStopped {
		s.mu.Unlock()
		return
	}
	if s.state == stateCreated {
		s.state = stateStopped
		s.mu.Unlock()
		return
	}
	s.state = stateStopping
	cancel := s.cancel
	doneCh := s.doneCh
	s.mu.Unlock()

	cancel() // stop the fetch loop first (§5)
	<-doneCh

	cancelNow := s.shutdownMode == CancelCurrent
	if cancelNow || s.shutdownTimeout <= 0 {
		s.lanes.stopAll(cancelNow)
	} else {
		// WaitForCompletion with a bound: let every lane drain on its
		// own, but escalate to a forced cancel if that takes too long
		// (SPEC_FULL.md "WithShutdownTimeout").
		done := make(chan struct{})
		go func() {
			s.lanes.stopAll(false)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(s.shutdownTimeout):
			logger.L().WarnContext(context.Background(), "shutdown timeout exceeded, force-cancelling remaining swimlanes",
				"subscriber_id", s.subscriberID, "timeout", s.shutdownTimeout)
			s.lanes.forceCancelAll()
			<-done
		}
	}

	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
}

// Unsubscribe stops this subscription. A no-op if already stopped
// (e.g. via the owning MessageConsumer's Close) (§8).
func (s *Subscription) Unsubscribe() {
	s.stop()
	if s.onUnsubscribe != nil {
		s.onUnsubscribe()
	}
}
