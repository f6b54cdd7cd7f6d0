package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// --- mock types ---

type mockJetStream struct {
	published []*nats.Msg
	fail      bool
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream"}, nil
}

func newTestPublisher(fail bool) (*Publisher, *mockJetStream) {
	js := &mockJetStream{fail: fail}
	return NewWithJetStream(js, "wikifolio-adapter"), js
}

// --- tests ---

func TestPublishEnvelope_Success(t *testing.T) {
	pub, js := newTestPublisher(false)
	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         PriceSubject,
		EventType:     "wikifolio.price",
		Version:       "1.0.0",
		Timestamp:     time.Now(),
		Payload:       json.RawMessage(`{"symbol":"wfstrategy"}`),
	}

	require.NoError(t, pub.PublishEnvelope(context.Background(), PriceSubject, env))
	require.Len(t, js.published, 1)

	msg := js.published[0]
	assert.Equal(t, PriceSubject, msg.Subject)
	assert.Equal(t, "wikifolio.price", msg.Header.Get("event_type"))
	assert.Equal(t, "wikifolio-adapter", msg.Header.Get("service"))
	assert.Equal(t, env.CorrelationID.String(), msg.Header.Get("correlation_id"))

	var parsed model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &parsed))
	assert.Equal(t, env.ID, parsed.ID)
	assert.JSONEq(t, `{"symbol":"wfstrategy"}`, string(parsed.Payload))
}

func TestPublishEnvelope_DefaultsSubjectToTopic(t *testing.T) {
	pub, js := newTestPublisher(false)
	env := &model.Envelope{ID: uuid.New(), Topic: "evt.wikifolio.custom.v1"}

	require.NoError(t, pub.PublishEnvelope(context.Background(), "", env))
	assert.Equal(t, "evt.wikifolio.custom.v1", js.published[0].Subject)
}

func TestPublishEnvelope_Failure(t *testing.T) {
	pub, _ := newTestPublisher(true)
	env := &model.Envelope{ID: uuid.New(), EventType: "wikifolio.price"}

	assert.Error(t, pub.PublishEnvelope(context.Background(), PriceSubject, env))
}

func TestPublishOrderEvent(t *testing.T) {
	pub, js := newTestPublisher(false)

	evt := model.OrderEvent{OrderID: "ord-1", WikifolioID: "wf-id-1", Status: model.OrderStatusSubmitted, Amount: 5}
	require.NoError(t, pub.PublishOrderEvent(context.Background(), evt))
	require.Len(t, js.published, 1)

	msg := js.published[0]
	assert.Equal(t, "evt.wikifolio.order.submitted.v1", msg.Subject)
	assert.Equal(t, "wikifolio.order.submitted", msg.Header.Get("event_type"))

	var env model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	var got model.OrderEvent
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "ord-1", got.OrderID)
	assert.Equal(t, int64(5), got.Amount)
}

func TestPublishPrice(t *testing.T) {
	pub, js := newTestPublisher(false)

	bid := 99.5
	require.NoError(t, pub.PublishPrice(context.Background(), model.PriceEvent{Symbol: "wfstrategy", Bid: &bid}))
	require.Len(t, js.published, 1)
	assert.Equal(t, PriceSubject, js.published[0].Subject)
}

func TestOrderSubject(t *testing.T) {
	assert.Equal(t, "evt.wikifolio.order.cancelled.v1", OrderSubject(model.OrderStatusCancelled))
	assert.Equal(t, "evt.wikifolio.order.closed.v1", OrderSubject("Closed"))
}
