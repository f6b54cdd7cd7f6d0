package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// ErrCancelRefused is returned when the platform answered a cancellation
// but did not remove the order.
var ErrCancelRefused = errors.New("cancellation refused by wikifolio")

// openOrdersPageSize is large enough to see every open order of a
// wikifolio in one page.
const openOrdersPageSize = 100

// EventPublisher emits order and price events.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, evt model.OrderEvent) error
	PublishPrice(ctx context.Context, evt model.PriceEvent) error
}

// Journal records order state.
type Journal interface {
	Record(ctx context.Context, evt *model.OrderEvent) error
}

// PriceCache holds the last known price per symbol.
type PriceCache interface {
	SavePriceSnapshot(ctx context.Context, price model.PriceEvent, ttl time.Duration) error
	GetPriceSnapshot(ctx context.Context, symbol string) (*model.PriceEvent, error)
}

// Service orchestrates wikifolio operations for the API and the command
// consumer: lookups, order placement and cancellation, order journaling and
// event publishing.
type Service struct {
	logger    *zap.Logger
	client    *wikifolio.Client
	publisher EventPublisher
	journal   Journal
	prices    PriceCache
	watcher   *OrderWatcher
	now       func() time.Time
}

// New constructs a service. publisher, journal and prices may be nil.
func New(logger *zap.Logger, client *wikifolio.Client, pub EventPublisher, journal Journal, prices PriceCache) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:    logger,
		client:    client,
		publisher: pub,
		journal:   journal,
		prices:    prices,
		now:       time.Now,
	}
}

// SetWatcher sets the watcher placed orders are handed to.
func (s *Service) SetWatcher(w *OrderWatcher) {
	s.watcher = w
}

// Client returns the underlying wikifolio client.
func (s *Service) Client() *wikifolio.Client {
	return s.client
}

// Wikifolio loads a wikifolio's basics and, when detailed, its page and key
// figures.
func (s *Service) Wikifolio(ctx context.Context, identifier string, detailed bool) (wikifolio.WikifolioData, error) {
	w := s.client.Wikifolio(identifier)
	if err := w.Basics(ctx, false); err != nil {
		return wikifolio.WikifolioData{}, err
	}
	if detailed {
		if err := w.Details(ctx, false); err != nil {
			return wikifolio.WikifolioData{}, err
		}
		if err := w.Analysis(ctx, false); err != nil {
			s.logger.Warn("service.analysis_unavailable",
				zap.String("wikifolio", w.Name()),
				zap.Error(err))
		}
	}
	return w.Data(), nil
}

// Price returns the certificate quote. When the platform cannot be reached
// the last snapshot is served instead, if there is one.
func (s *Service) Price(ctx context.Context, identifier string, refresh bool) (*model.PriceEvent, error) {
	w := s.client.Wikifolio(identifier)
	p, err := w.Price(ctx, refresh)
	if err != nil {
		if snap := s.snapshot(ctx, w); snap != nil {
			s.logger.Warn("service.price_from_snapshot",
				zap.String("wikifolio", w.Name()),
				zap.Error(err))
			return snap, nil
		}
		return nil, err
	}
	return PriceEvent(w, p, s.now()), nil
}

func (s *Service) snapshot(ctx context.Context, w *wikifolio.Wikifolio) *model.PriceEvent {
	if s.prices == nil || w.Symbol() == "" {
		return nil
	}
	snap, err := s.prices.GetPriceSnapshot(ctx, w.Symbol())
	if err != nil {
		return nil
	}
	return snap
}

// Portfolio returns the current holdings.
func (s *Service) Portfolio(ctx context.Context, identifier string) (*wikifolio.Portfolio, error) {
	return s.client.Wikifolio(identifier).Portfolio(ctx)
}

// Trades returns a page of executed trades.
func (s *Service) Trades(ctx context.Context, identifier string, params wikifolio.TradesParams) (*wikifolio.TradePage, error) {
	return s.client.Wikifolio(identifier).Trades(ctx, params)
}

// Search runs a wikifolio search and returns the result records.
func (s *Service) Search(ctx context.Context, params wikifolio.SearchParams) ([]wikifolio.WikifolioData, error) {
	results, err := s.client.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]wikifolio.WikifolioData, 0, len(results))
	for _, w := range results {
		out = append(out, w.Data())
	}
	return out, nil
}

// OrderView is an open order with its take-profit and stop-loss legs.
type OrderView struct {
	wikifolio.OrderData
	Legs []wikifolio.OrderData `json:"legs,omitempty"`
}

// ListOrders returns the wikifolio's open orders.
func (s *Service) ListOrders(ctx context.Context, identifier string, params wikifolio.OrdersParams) ([]OrderView, error) {
	orders, err := s.client.ListOrders(ctx, identifier, params)
	if err != nil {
		return nil, err
	}
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		view := OrderView{OrderData: o.Data()}
		for _, leg := range o.Children() {
			view.Legs = append(view.Legs, leg.Data())
		}
		out = append(out, view)
	}
	return out, nil
}

// OpenOrders lists every open order of a wikifolio, legs included.
func (s *Service) OpenOrders(ctx context.Context, identifier string) ([]*wikifolio.Order, error) {
	orders, err := s.client.ListOrders(ctx, identifier, wikifolio.OrdersParams{PageSize: openOrdersPageSize})
	if err != nil {
		return nil, err
	}
	all := make([]*wikifolio.Order, 0, len(orders))
	for _, o := range orders {
		all = append(all, o)
		all = append(all, o.Children()...)
	}
	return all, nil
}

// PlaceOrder places an order on an owned wikifolio. Rejections and
// placements with an unknown outcome are published before the error is
// returned; accepted orders are journaled, published and
// watched until they leave the open order list.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*model.OrderEvent, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	params := cmd.Params()
	s.logger.Info("service.place_order.start",
		zap.String("wikifolio", cmd.Wikifolio),
		zap.String("side", params.Side.String()),
		zap.String("order_type", params.OrderType.String()),
		zap.Int64("amount", params.Amount),
		zap.String("isin", params.UnderlyingISIN))

	w := s.client.Wikifolio(cmd.Wikifolio)
	order, err := w.Trade(ctx, params)
	if err != nil {
		var (
			rejected *wikifolio.OrderRejectedError
			unknown  *wikifolio.OrderOutcomeUnknownError
		)
		switch {
		case errors.As(err, &rejected):
			evt := s.orderEvent(w, paramsData(params), model.OrderStatusRejected)
			evt.Reason = rejected.Reason
			s.emit(ctx, &evt)
		case errors.As(err, &unknown):
			evt := s.orderEvent(w, paramsData(params), model.OrderStatusUnknown)
			evt.Reason = unknown.Err.Error()
			s.emit(context.WithoutCancel(ctx), &evt)
		}
		s.logger.Warn("service.place_order.failed",
			zap.String("wikifolio", cmd.Wikifolio),
			zap.Error(err))
		return nil, err
	}

	evt := s.orderEvent(w, order.Data(), model.OrderStatusSubmitted)
	s.emit(ctx, &evt)
	if s.watcher != nil {
		s.watcher.Watch(cmd.Wikifolio, evt)
	}

	s.logger.Info("service.place_order.done",
		zap.String("wikifolio", w.Name()),
		zap.String("order_id", evt.OrderID),
		zap.String("quote_id", evt.QuoteID))
	return &evt, nil
}

// CancelOrder removes an open order. A refusal by the platform is returned
// as ErrCancelRefused together with the platform's answer.
func (s *Service) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (*wikifolio.RemoveResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	s.logger.Info("service.cancel_order.start",
		zap.String("wikifolio", cmd.Wikifolio),
		zap.String("order_id", cmd.OrderID))

	w := s.client.Wikifolio(cmd.Wikifolio)
	order := w.Order(cmd.OrderID)
	result, err := order.Remove(ctx)
	if err != nil {
		s.logger.Warn("service.cancel_order.failed",
			zap.String("order_id", cmd.OrderID),
			zap.Error(err))
		return nil, err
	}
	if !result.Success {
		return result, fmt.Errorf("%w: order %s (status %d)", ErrCancelRefused, cmd.OrderID, result.StatusCode)
	}

	if s.watcher != nil {
		s.watcher.Forget(cmd.OrderID)
	}
	evt := s.orderEvent(w, order.Data(), model.OrderStatusCancelled)
	s.emit(ctx, &evt)
	return result, nil
}

// emit journals and publishes an order event. Both are best effort: the
// order has already happened on the platform.
func (s *Service) emit(ctx context.Context, evt *model.OrderEvent) {
	if s.journal != nil {
		if err := s.journal.Record(ctx, evt); err != nil {
			s.logger.Warn("service.journal_failed",
				zap.String("order_id", evt.OrderID),
				zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishOrderEvent(ctx, *evt); err != nil {
			s.logger.Warn("service.publish_failed",
				zap.String("order_id", evt.OrderID),
				zap.String("status", evt.Status),
				zap.Error(err))
		}
	}
}

func (s *Service) orderEvent(w *wikifolio.Wikifolio, d wikifolio.OrderData, status string) model.OrderEvent {
	return OrderEvent(w, d, status, s.now())
}

// OrderEvent builds the event for an order of w.
func OrderEvent(w *wikifolio.Wikifolio, d wikifolio.OrderData, status string, at time.Time) model.OrderEvent {
	evt := model.OrderEvent{
		OrderID:     deref(d.ID),
		WikifolioID: w.ID(),
		Symbol:      w.Symbol(),
		ISIN:        deref(d.ISIN),
		Amount:      deref(d.Amount),
		LimitPrice:  d.LimitPrice,
		StopPrice:   d.StopPrice,
		QuoteID:     deref(d.QuoteID),
		Status:      status,
		ExpiresAt:   d.ExpiresAt,
		Timestamp:   at.UTC(),
	}
	if d.Side != nil {
		evt.Side = d.Side.String()
	}
	if d.OrderType != nil {
		evt.OrderType = d.OrderType.String()
	}
	return evt
}

// PriceEvent converts a quote into the published price event.
func PriceEvent(w *wikifolio.Wikifolio, p *wikifolio.Price, at time.Time) *model.PriceEvent {
	evt := &model.PriceEvent{
		WikifolioID: w.ID(),
		Symbol:      w.Symbol(),
		Timestamp:   at.UTC(),
	}
	if p != nil {
		evt.Bid = p.Bid
		evt.Ask = p.Ask
		evt.MidPrice = p.MidPrice
		evt.Currency = p.Currency
		evt.CalculatedAt = p.CalculatedAt
		evt.ValidUntil = p.ValidUntil
	}
	return evt
}

// paramsData is the order as requested, for events about orders the
// platform never accepted.
func paramsData(p wikifolio.OrderParams) wikifolio.OrderData {
	d := wikifolio.OrderData{
		LimitPrice: p.LimitPrice,
		StopPrice:  p.StopPrice,
		ExpiresAt:  p.ExpiresAt,
	}
	if p.UnderlyingISIN != "" {
		d.ISIN = &p.UnderlyingISIN
	}
	if p.Amount != 0 {
		d.Amount = &p.Amount
	}
	if p.Side != wikifolio.SideUnknown {
		d.Side = &p.Side
	}
	if p.OrderType != wikifolio.OrderTypeUnknown {
		d.OrderType = &p.OrderType
	}
	return d
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
