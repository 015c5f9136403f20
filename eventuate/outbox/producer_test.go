package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	inserted    bool
	id          string
	destination string
	headers     map[string]string
	payload     string
	err         error
}

func (f *fakeStore) Insert(ctx context.Context, id, destination string, headers map[string]string, payload string) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = true
	f.id = id
	f.destination = destination
	f.headers = headers
	f.payload = payload
	return nil
}

func TestProducerSendEnrichesHeaders(t *testing.T) {
	store := &fakeStore{}
	producer := NewProducer(store, nil, nil)

	msg := eventuate.NewMessage(`{"amount":10}`, nil)
	err := producer.Send(context.Background(), "Order", msg)

	require.NoError(t, err)
	require.True(t, store.inserted)
	assert.Equal(t, "Order", store.destination)
	assert.NotEmpty(t, store.id)
	assert.Equal(t, store.id, store.headers[eventuate.HeaderID])
	assert.Equal(t, "Order", store.headers[eventuate.HeaderDestination])
	assert.NotEmpty(t, store.headers[eventuate.HeaderDate])
}

func TestProducerSendRejectsEmptyDestination(t *testing.T) {
	producer := NewProducer(&fakeStore{}, nil, nil)
	err := producer.Send(context.Background(), "", eventuate.NewMessage("payload", nil))
	assert.Error(t, err)
}

func TestProducerSendRejectsEmptyPayload(t *testing.T) {
	producer := NewProducer(&fakeStore{}, nil, nil)
	err := producer.Send(context.Background(), "Order", eventuate.NewMessage("", nil))
	assert.Error(t, err)
}

func TestProducerSendPropagatesStoreError(t *testing.T) {
	boom := errors.New("insert failed")
	store := &fakeStore{err: boom}
	producer := NewProducer(store, nil, nil)

	err := producer.Send(context.Background(), "Order", eventuate.NewMessage("payload", nil))
	assert.ErrorIs(t, err, boom)
}

func TestProducerSendRunsInterceptors(t *testing.T) {
	var calls []string
	pipeline := eventuate.NewInterceptorPipeline(&recordingInterceptor{calls: &calls})
	producer := NewProducer(&fakeStore{}, nil, pipeline)

	err := producer.Send(context.Background(), "Order", eventuate.NewMessage("payload", nil))

	require.NoError(t, err)
	assert.Equal(t, []string{"pre", "post"}, calls)
}

type recordingInterceptor struct {
	eventuate.NoopInterceptor
	calls *[]string
}

func (r *recordingInterceptor) PreSend(ctx context.Context, msg *eventuate.Message) error {
	*r.calls = append(*r.calls, "pre")
	return nil
}

func (r *recordingInterceptor) PostSend(ctx context.Context, msg *eventuate.Message, err error) {
	*r.calls = append(*r.calls, "post")
}
