package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical wrapper for every event the adapter publishes.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(topic, eventType string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Topic:         topic,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
		Payload:       data,
	}, nil
}

// OrderStatus values used in order events and the journal.
const (
	OrderStatusSubmitted = "SUBMITTED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusOpen      = "OPEN"
	OrderStatusClosed    = "CLOSED"
	// OrderStatusUnknown marks a placement whose result was never read; the
	// order has to be reconciled against the open order list.
	OrderStatusUnknown = "UNKNOWN"
)

// OrderEvent describes an order state change on a wikifolio.
type OrderEvent struct {
	OrderID     string     `json:"order_id"`
	WikifolioID string     `json:"wikifolio_id"`
	Symbol      string     `json:"symbol,omitempty"`
	ISIN        string     `json:"isin,omitempty"`
	Side        string     `json:"side,omitempty"`
	OrderType   string     `json:"order_type,omitempty"`
	Amount      int64      `json:"amount,omitempty"`
	LimitPrice  *float64   `json:"limit_price,omitempty"`
	StopPrice   *float64   `json:"stop_price,omitempty"`
	QuoteID     string     `json:"quote_id,omitempty"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// PriceEvent is a point-in-time bid/ask snapshot for a wikifolio certificate.
type PriceEvent struct {
	WikifolioID  string     `json:"wikifolio_id"`
	Symbol       string     `json:"symbol"`
	Bid          *float64   `json:"bid,omitempty"`
	Ask          *float64   `json:"ask,omitempty"`
	MidPrice     *float64   `json:"mid_price,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	CalculatedAt *time.Time `json:"calculated_at,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
