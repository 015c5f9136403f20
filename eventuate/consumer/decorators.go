package consumer

import (
	"context"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/dbctx"
	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/inbox"
	apperrors "github.com/chris-alexander-pop/eventuate-tram-go/pkg/errors"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/logger"
	"gorm.io/gorm"
)

// Error codes for this package.
const (
	CodeDecodeFailed     = "CONSUMER_DECODE_FAILED"
	CodeHandlerFailed    = "CONSUMER_HANDLER_FAILED"
	CodeDuplicateMessage = "CONSUMER_DUPLICATE_MESSAGE"
)

// receiveInterceptorDecorator runs the pipeline's PreReceive/PostReceive
// hooks around everything inside it (§4.5 step 1 and step 6).
func receiveInterceptorDecorator(pipeline *eventuate.InterceptorPipeline) Decorator {
	return func(next Next) Next {
		return func(ctx context.Context, msg eventuate.Message) error {
			if err := pipeline.PreReceive(ctx, &msg); err != nil {
				return err
			}
			err := next(ctx, msg)
			pipeline.PostReceive(ctx, &msg, err)
			return err
		}
	}
}

// handleInterceptorDecorator runs the pipeline's PreHandle/PostHandle
// hooks (§4.5 step 3 and step 5), just inside duplicate-detection.
func handleInterceptorDecorator(pipeline *eventuate.InterceptorPipeline) Decorator {
	return func(next Next) Next {
		return func(ctx context.Context, msg eventuate.Message) error {
			if err := pipeline.PreHandle(ctx, &msg); err != nil {
				return err
			}
			err := next(ctx, msg)
			pipeline.PostHandle(ctx, &msg, err)
			return err
		}
	}
}

// duplicateDetectDecorator implements §4.5 step 2: it opens a
// transaction scoped to this message, attempts to claim
// (message.ID, subscriberID) in the inbox, and only invokes next --
// within that same transaction -- if the claim succeeded. A duplicate
// commits (the no-op transaction) and short-circuits; a handler error
// rolls the transaction back so the inbox row is not persisted and the
// message can be retried on redelivery (§7).
func duplicateDetectDecorator(db *gorm.DB, store inbox.Store, subscriberID string) Decorator {
	return func(next Next) Next {
		return func(ctx context.Context, msg eventuate.Message) error {
			var handlerErr error
			txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				txCtx := dbctx.WithTx(ctx, tx)

				err := store.Insert(txCtx, msg.ID(), subscriberID)
				if err == inbox.ErrDuplicate {
					logger.L().DebugContext(ctx, "duplicate message, skipping handler",
						"message_id", msg.ID(), "subscriber_id", subscriberID)
					return nil // commits the empty transaction, handler does not run
				}
				if err != nil {
					return err
				}

				handlerErr = next(txCtx, msg)
				return handlerErr // non-nil rolls back the inbox insert too
			})
			if txErr != nil && handlerErr == nil {
				// the transaction itself failed (not a rolled-back handler)
				return apperrors.New(CodeDuplicateMessage, "duplicate-detection transaction failed", txErr)
			}
			return handlerErr
		}
	}
}

// typeDispatchTerminal implements §4.5 step 4: it reads EVENT_TYPE,
// looks up handlers registered for (aggregateType, eventType), decodes
// the payload and invokes every matching handler. No handler for the
// type, or a JSON decode failure, both result in a nil return (silent
// skip, §7) -- the message is acknowledged either way.
func typeDispatchTerminal(registry *HandlerRegistry, scopeFactory func(ctx context.Context) ServiceScope, observer Observer) Next {
	if observer == nil {
		observer = NoopObserver{}
	}
	return func(ctx context.Context, msg eventuate.Message) error {
		aggregateType := msg.Destination()
		eventType, _ := msg.Header(eventuate.HeaderEventType)

		target, handlers, ok := registry.lookup(aggregateType, eventType)
		if !ok {
			logger.L().DebugContext(ctx, "no handler registered for event type, skipping",
				"aggregate_type", aggregateType, "event_type", eventType)
			return nil
		}

		event, err := decode(target, msg.Payload)
		if err != nil {
			logger.L().WarnContext(ctx, "poison pill: failed to decode event payload, acknowledging",
				"aggregate_type", aggregateType, "event_type", eventType, "error", err)
			observer.PoisonPill(ctx, aggregateType, eventType, err)
			return nil
		}

		aggregateID, _ := msg.Header(eventuate.HeaderEventAggregateID)
		envelope := DomainEventEnvelope{
			Message:       msg,
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     eventType,
			Event:         event,
		}

		scope := ServiceScope{}
		if scopeFactory != nil {
			scope = scopeFactory(ctx)
		}

		for _, h := range handlers {
			if err := h(ctx, envelope, scope); err != nil {
				return apperrors.New(CodeHandlerFailed, "handler returned an error", err)
			}
		}
		return nil
	}
}
