// Package telemetry instruments the producer send path and the consumer
// receive path with OpenTelemetry spans and structured logging,
// mirroring the teacher's pkg/messaging InstrumentedBroker/
// InstrumentedProducer/InstrumentedConsumer wrapper pattern
// (SPEC_FULL.md DOMAIN STACK: "otel -> eventuate/telemetry"). Here the
// wrapping point is eventuate.Interceptor rather than a Broker/Producer
// pair, since both the outbox producer and the consumer decorator chain
// already run every message through the same pipeline hooks.
package telemetry

import (
	"context"
	"sync"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Interceptor traces a message's send and receive spans and logs around
// handling, wrapping eventuate.NoopInterceptor so callers only need to
// override what they use. The Interceptor interface's Pre/Post hooks
// are not context-chained (§4.6 pre hooks return only an error), so the
// span started in a Pre hook is correlated to its Post hook by message
// ID rather than carried in ctx.
type Interceptor struct {
	eventuate.NoopInterceptor
	tracer trace.Tracer

	mu        sync.Mutex
	sendSpans map[string]trace.Span
	recvSpans map[string]trace.Span
}

// New returns an Interceptor using the otel global tracer provider,
// named after the teacher's pkg/messaging tracer convention.
func New() *Interceptor {
	return &Interceptor{
		tracer:    otel.Tracer("eventuate"),
		sendSpans: make(map[string]trace.Span),
		recvSpans: make(map[string]trace.Span),
	}
}

func (i *Interceptor) PreSend(ctx context.Context, msg *eventuate.Message) error {
	_, span := i.tracer.Start(ctx, "eventuate.Send", trace.WithAttributes(
		attribute.String("eventuate.destination", msg.Destination()),
		attribute.String("eventuate.message_id", msg.ID()),
	))
	i.mu.Lock()
	i.sendSpans[msg.ID()] = span
	i.mu.Unlock()

	logger.L().InfoContext(ctx, "sending message", "destination", msg.Destination(), "message_id", msg.ID())
	return nil
}

func (i *Interceptor) PostSend(ctx context.Context, msg *eventuate.Message, sendErr error) {
	span := i.takeSpan(i.sendSpans, msg.ID())
	if span == nil {
		return
	}
	defer span.End()

	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, sendErr.Error())
		logger.L().ErrorContext(ctx, "send failed", "destination", msg.Destination(), "message_id", msg.ID(), "error", sendErr)
		return
	}
	span.SetStatus(codes.Ok, "sent")
}

func (i *Interceptor) PreReceive(ctx context.Context, msg *eventuate.Message) error {
	_, span := i.tracer.Start(ctx, "eventuate.Receive", trace.WithAttributes(
		attribute.String("eventuate.destination", msg.Destination()),
		attribute.String("eventuate.message_id", msg.ID()),
	))
	i.mu.Lock()
	i.recvSpans[msg.ID()] = span
	i.mu.Unlock()
	return nil
}

func (i *Interceptor) PostReceive(ctx context.Context, msg *eventuate.Message, handleErr error) {
	span := i.takeSpan(i.recvSpans, msg.ID())
	if span == nil {
		return
	}
	defer span.End()

	if handleErr != nil {
		span.RecordError(handleErr)
		span.SetStatus(codes.Error, handleErr.Error())
		logger.L().ErrorContext(ctx, "receive failed", "destination", msg.Destination(), "message_id", msg.ID(), "error", handleErr)
		return
	}
	span.SetStatus(codes.Ok, "received")
}

func (i *Interceptor) PreHandle(ctx context.Context, msg *eventuate.Message) error {
	logger.L().InfoContext(ctx, "handling message", "destination", msg.Destination(), "message_id", msg.ID())
	return nil
}

func (i *Interceptor) PostHandle(ctx context.Context, msg *eventuate.Message, handleErr error) {
	if handleErr != nil {
		logger.L().ErrorContext(ctx, "handle failed", "destination", msg.Destination(), "message_id", msg.ID(), "error", handleErr)
		return
	}
	logger.L().DebugContext(ctx, "handled message", "destination", msg.Destination(), "message_id", msg.ID())
}

func (i *Interceptor) takeSpan(spans map[string]trace.Span, id string) trace.Span {
	i.mu.Lock()
	defer i.mu.Unlock()
	span, ok := spans[id]
	if !ok {
		return nil
	}
	delete(spans, id)
	return span
}
