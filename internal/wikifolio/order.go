package wikifolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/httpclient"
	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
)

// SourceOrders is recorded on orders populated from the open order list.
const SourceOrders = "wikifolio.orders"

// isoMillis is the expiry format the order endpoint expects.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Order is a virtual order of a wikifolio. Listed orders are shared per id;
// an order that has not been submitted yet has no id and is not registered.
type Order struct {
	entity
	client    *Client
	wikifolio *Wikifolio
	data      OrderData

	parent   *Order
	children []*Order
}

// Order returns the shared instance for an order id.
func (w *Wikifolio) Order(id string) *Order {
	return w.client.orders.InstanceOf(id, func() *Order {
		o := w.newOrder()
		o.data.ID = nonEmpty(id)
		return o
	})
}

// NewOrder returns a fresh, unsubmitted order for this wikifolio.
func (w *Wikifolio) NewOrder() *Order {
	return w.newOrder()
}

func (w *Wikifolio) newOrder() *Order {
	o := &Order{client: w.client, wikifolio: w}
	o.init("order")
	return o
}

// Wikifolio returns the order's wikifolio.
func (o *Order) Wikifolio() *Wikifolio { return o.wikifolio }

// Data returns a snapshot of the loaded fields.
func (o *Order) Data() OrderData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.data
}

// ID returns the order id, or "" before submission.
func (o *Order) ID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return deref(o.data.ID)
}

// Parent returns the group's main order for a take-profit or stop-loss leg.
func (o *Order) Parent() *Order {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.parent
}

// Children returns the legs attached to a main order.
func (o *Order) Children() []*Order {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*Order(nil), o.children...)
}

// Set merges update without recording a source.
func (o *Order) Set(update OrderData) *Order {
	o.merge(update, "")
	return o
}

func (o *Order) merge(update OrderData, tag string) {
	o.mu.Lock()
	apply(&o.data, &update)
	o.markLocked(tag)
	o.mu.Unlock()
}

// OrderParams is what a caller specifies when placing an order. Unset
// fields fall back to what the order already knows.
type OrderParams struct {
	Side                 Side       `json:"side,omitempty"`
	OrderType            OrderType  `json:"orderType,omitempty"`
	Amount               int64      `json:"amount,omitempty"`
	LimitPrice           *float64   `json:"limitPrice,omitempty"`
	StopPrice            *float64   `json:"stopPrice,omitempty"`
	StopLossLimitPrice   *float64   `json:"stopLossLimitPrice,omitempty"`
	StopLossStopPrice    *float64   `json:"stopLossStopPrice,omitempty"`
	TakeProfitLimitPrice *float64   `json:"takeProfitLimitPrice,omitempty"`
	UnderlyingISIN       string     `json:"underlyingIsin,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
}

// asData converts the params into an order update.
func (p OrderParams) asData() OrderData {
	d := OrderData{
		ISIN:                 nonEmpty(p.UnderlyingISIN),
		LimitPrice:           p.LimitPrice,
		StopPrice:            p.StopPrice,
		StopLossLimitPrice:   p.StopLossLimitPrice,
		StopLossStopPrice:    p.StopLossStopPrice,
		TakeProfitLimitPrice: p.TakeProfitLimitPrice,
		ExpiresAt:            p.ExpiresAt,
	}
	if p.Side != SideUnknown {
		d.Side = ptr(p.Side)
	}
	if p.OrderType != OrderTypeUnknown {
		d.OrderType = ptr(p.OrderType)
	}
	if p.Amount != 0 {
		d.Amount = ptr(p.Amount)
	}
	return d
}

func validateOrder(d OrderData) error {
	switch {
	case d.Side == nil || d.Side.ToInt() == 0:
		return fmt.Errorf("%w: side must be buy or sell", ErrInvalidOrder)
	case d.Amount == nil || *d.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	case d.ISIN == nil:
		return fmt.Errorf("%w: underlying isin is required", ErrInvalidOrder)
	case d.OrderType == nil:
		return fmt.Errorf("%w: order type is required", ErrInvalidOrder)
	}
	switch *d.OrderType {
	case OrderTypeLimit:
		if d.LimitPrice == nil {
			return fmt.Errorf("%w: limit orders need a limit price", ErrInvalidOrder)
		}
	case OrderTypeStop:
		if d.StopPrice == nil {
			return fmt.Errorf("%w: stop orders need a stop price", ErrInvalidOrder)
		}
	case OrderTypeQuote:
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, *d.OrderType)
	}
	return nil
}

// placeOrderPayload is the body of the place order call.
type placeOrderPayload struct {
	WikifolioID          string   `json:"wikifolioId"`
	Buysell              string   `json:"buysell"`
	OrderType            string   `json:"orderType"`
	Amount               int64    `json:"amount"`
	UnderlyingISIN       string   `json:"underlyingIsin"`
	LimitPrice           *float64 `json:"limitPrice,omitempty"`
	StopPrice            *float64 `json:"stopPrice,omitempty"`
	StopLossLimitPrice   *float64 `json:"stopLossLimitPrice,omitempty"`
	StopLossStopPrice    *float64 `json:"stopLossStopPrice,omitempty"`
	TakeProfitLimitPrice *float64 `json:"takeProfitLimitPrice,omitempty"`
	ValidUntil           string   `json:"validUntil,omitempty"`
	QuoteID              string   `json:"quoteId,omitempty"`
}

type placeOrderResponse struct {
	Success   bool   `json:"success"`
	OrderGUID string `json:"orderGuid"`
	Reason    string `json:"reason"`
}

// Submit places the order. The order's known fields are merged with params,
// params winning. Quote orders first negotiate a quote id. A refusal by the
// platform is an OrderRejectedError and a failure after the request may have
// been sent is an OrderOutcomeUnknownError; on success the order id is stored and
// the order registered. An order that already has an id cannot be submitted
// again.
func (o *Order) Submit(ctx context.Context, params OrderParams) (*Order, error) {
	if id := o.ID(); id != "" {
		return nil, fmt.Errorf("%w: order %s was already submitted", ErrInvalidOrder, id)
	}
	if err := o.wikifolio.require(ctx, needID); err != nil {
		return nil, err
	}

	merged := o.Data()
	update := params.asData()
	apply(&merged, &update)
	if err := validateOrder(merged); err != nil {
		metrics.IncOrder("place", "invalid")
		return nil, err
	}

	payload := placeOrderPayload{
		WikifolioID:          o.wikifolio.ID(),
		Buysell:              merged.Side.String(),
		OrderType:            merged.OrderType.String(),
		Amount:               *merged.Amount,
		UnderlyingISIN:       *merged.ISIN,
		LimitPrice:           merged.LimitPrice,
		StopPrice:            merged.StopPrice,
		StopLossLimitPrice:   merged.StopLossLimitPrice,
		StopLossStopPrice:    merged.StopLossStopPrice,
		TakeProfitLimitPrice: merged.TakeProfitLimitPrice,
	}
	if merged.ExpiresAt != nil {
		payload.ValidUntil = merged.ExpiresAt.UTC().Format(isoMillis)
	}

	logger := o.client.logger.With(
		zap.String("wikifolio", o.wikifolio.Name()),
		zap.String("side", payload.Buysell),
		zap.String("order_type", payload.OrderType),
		zap.Int64("amount", payload.Amount),
		zap.String("isin", payload.UnderlyingISIN))

	if *merged.OrderType == OrderTypeQuote {
		quoteID, err := o.client.NegotiateQuote(ctx, QuoteRequest{
			WikifolioID: payload.WikifolioID,
			ISIN:        payload.UnderlyingISIN,
			Amount:      payload.Amount,
			Side:        *merged.Side,
		})
		if err != nil {
			metrics.IncOrder("place", "quote_failed")
			return nil, err
		}
		payload.QuoteID = quoteID
		merged.QuoteID = ptr(quoteID)
	}

	var resp placeOrderResponse
	if err := o.client.postJSON(ctx, "api/virtualorder/placeorder", payload, &resp); err != nil {
		if !answered(err) {
			metrics.IncOrder("place", "unknown")
			logger.Error("wikifolio.place_order_outcome_unknown", zap.Error(err))
			return nil, &OrderOutcomeUnknownError{Wikifolio: o.wikifolio.Name(), ISIN: payload.UnderlyingISIN, Err: err}
		}
		metrics.IncOrder("place", "error")
		logger.Error("wikifolio.place_order_failed", zap.Error(err))
		return nil, err
	}
	if !resp.Success {
		metrics.IncOrder("place", "rejected")
		logger.Warn("wikifolio.order_rejected", zap.String("reason", resp.Reason))
		return nil, &OrderRejectedError{Reason: resp.Reason}
	}

	merged.ID = nonEmpty(resp.OrderGUID)
	o.merge(merged, "")
	if resp.OrderGUID != "" {
		o.client.orders.Alias(resp.OrderGUID, o)
	}
	metrics.IncOrder("place", "ok")
	logger.Info("wikifolio.order_placed", zap.String("order_id", resp.OrderGUID), zap.String("quote_id", payload.QuoteID))
	return o, nil
}

// answered reports whether err means the placement was never booked: the
// request was not sent, or the platform answered with a refusal.
func answered(err error) bool {
	var (
		status   *HTTPStatusError
		denied   *AuthorizationDeniedError
		loginErr *LoginFailedError
		missing  *MissingCredentialsError
	)
	return errors.Is(err, httpclient.ErrNotSent) ||
		errors.As(err, &status) ||
		errors.As(err, &denied) ||
		errors.As(err, &loginErr) ||
		errors.As(err, &missing)
}

// RemoveResult is the platform's answer to a cancellation.
type RemoveResult struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body,omitempty"`
	Text       string          `json:"text,omitempty"`
}

// Remove cancels the order. The platform's answer is returned as-is; the
// order itself is not modified.
func (o *Order) Remove(ctx context.Context) (*RemoveResult, error) {
	id := o.ID()
	if id == "" {
		return nil, &MissingIdentifierError{Kind: "order", Field: "id"}
	}
	if err := o.wikifolio.require(ctx, needOwnership); err != nil {
		return nil, err
	}
	if owned, _ := o.wikifolio.IsOwned(); !owned {
		metrics.IncOrder("remove", "not_owned")
		return nil, &OwnershipError{Wikifolio: o.wikifolio.Name(), Action: "remove an order"}
	}

	resp, err := o.client.Do(ctx, Request{
		Method: http.MethodPost,
		Target: "dynamic/" + o.client.Locale() + "/publish/removevirtualorder",
		JSON:   map[string]string{"order": id},
	})
	if err != nil {
		metrics.IncOrder("remove", "error")
		return nil, err
	}

	result := &RemoveResult{StatusCode: resp.StatusCode, Success: resp.StatusCode < 300}
	if json.Valid(resp.Body) {
		result.Body = json.RawMessage(resp.Body)
		var flag struct {
			Success *bool `json:"success"`
		}
		if json.Unmarshal(resp.Body, &flag) == nil && flag.Success != nil {
			result.Success = *flag.Success
		}
	} else {
		result.Text = resp.Text()
	}

	outcome := "ok"
	if !result.Success {
		outcome = "failed"
	}
	metrics.IncOrder("remove", outcome)
	o.client.logger.Info("wikifolio.order_removed",
		zap.String("wikifolio", o.wikifolio.Name()),
		zap.String("order_id", id),
		zap.Bool("success", result.Success))
	return result, nil
}

// Trade places a new order on an owned wikifolio.
func (w *Wikifolio) Trade(ctx context.Context, params OrderParams) (*Order, error) {
	if err := w.require(ctx, needID, needOwnership); err != nil {
		return nil, err
	}
	if owned, _ := w.IsOwned(); !owned {
		metrics.IncOrder("place", "not_owned")
		return nil, &OwnershipError{Wikifolio: w.Name(), Action: "place an order"}
	}
	return w.NewOrder().Submit(ctx, params)
}

// Buy places a buy order.
func (w *Wikifolio) Buy(ctx context.Context, params OrderParams) (*Order, error) {
	params.Side = SideBuy
	return w.Trade(ctx, params)
}

// Sell places a sell order.
func (w *Wikifolio) Sell(ctx context.Context, params OrderParams) (*Order, error) {
	params.Side = SideSell
	return w.Trade(ctx, params)
}
