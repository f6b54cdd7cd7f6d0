package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/logger"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

const (
	// OrderSubjectPrefix is followed by the lower-cased order status.
	OrderSubjectPrefix = "evt.wikifolio.order."
	PriceSubject       = "evt.wikifolio.price.v1"
)

// JetStream is the part of nats.JetStreamContext the publisher uses.
type JetStream interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher wraps a NATS connection and provides helpers for publishing canonical events.
type Publisher struct {
	js      JetStream
	service string
}

// New creates a new Publisher with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{js: js, service: service}, nil
}

// NewWithJetStream builds a publisher on an existing JetStream handle.
func NewWithJetStream(js JetStream, service string) *Publisher {
	return &Publisher{js: js, service: service}
}

// PublishEnvelope serializes and publishes a canonical event envelope to NATS.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	if subject == "" {
		subject = env.Topic
	}
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
	)
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// OrderSubject is the subject an order event with status is published on.
func OrderSubject(status string) string {
	return OrderSubjectPrefix + strings.ToLower(status) + ".v1"
}

// PublishOrderEvent emits an order state change on evt.wikifolio.order.<status>.v1.
func (p *Publisher) PublishOrderEvent(ctx context.Context, evt model.OrderEvent) error {
	subject := OrderSubject(evt.Status)
	env, err := model.NewEnvelope(subject, "wikifolio.order."+strings.ToLower(evt.Status), evt)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, subject, env)
}

// PublishPrice emits a price snapshot on evt.wikifolio.price.v1.
func (p *Publisher) PublishPrice(ctx context.Context, evt model.PriceEvent) error {
	env, err := model.NewEnvelope(PriceSubject, "wikifolio.price", evt)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}
	return p.PublishEnvelope(ctx, PriceSubject, env)
}
