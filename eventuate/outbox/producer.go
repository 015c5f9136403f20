package outbox

import (
	"context"
	"time"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	apperrors "github.com/chris-alexander-pop/eventuate-tram-go/pkg/errors"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/logger"
)

// Producer implements §4.1: atomic enqueue of a message into the
// outbox, in the caller's ambient transaction.
type Producer struct {
	store       Store
	ids         eventuate.IDGenerator
	interceptor *eventuate.InterceptorPipeline
}

// NewProducer builds a Producer over store. If ids is nil, a
// MonotonicIDGenerator is used. If interceptors is nil, the pipeline is
// a no-op.
func NewProducer(store Store, ids eventuate.IDGenerator, interceptors *eventuate.InterceptorPipeline) *Producer {
	if ids == nil {
		ids = eventuate.NewMonotonicIDGenerator()
	}
	if interceptors == nil {
		interceptors = eventuate.NewInterceptorPipeline()
	}
	return &Producer{store: store, ids: ids, interceptor: interceptors}
}

// Send persists msg as an outbox row for destination, enlisted
// in the ambient transaction carried by ctx (dbctx.WithTx). See §4.1.
func (p *Producer) Send(ctx context.Context, destination string, msg eventuate.Message) error {
	if destination == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "destination must not be empty", nil)
	}
	if msg.Payload == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "message payload must not be empty", nil)
	}

	id := p.ids.NextID()
	enriched := msg.
		WithHeader(eventuate.HeaderID, id).
		WithHeader(eventuate.HeaderDestination, destination).
		WithHeader(eventuate.HeaderDate, time.Now().UTC().Format(time.RFC3339Nano))

	if err := p.interceptor.PreSend(ctx, &enriched); err != nil {
		return err
	}

	insertErr := p.store.Insert(ctx, id, destination, enriched.Headers, enriched.Payload)

	p.interceptor.PostSend(ctx, &enriched, insertErr)

	if insertErr != nil {
		logger.L().ErrorContext(ctx, "failed to insert outbox row", "destination", destination, "message_id", id, "error", insertErr)
		return insertErr
	}
	return nil
}
