package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
)

// PlaceOrderCommand is the inbound request to place an order, as received
// over HTTP or from the command queue.
type PlaceOrderCommand struct {
	Wikifolio            string           `json:"wikifolio"`
	Side                 string           `json:"side"`
	OrderType            string           `json:"orderType"`
	Amount               decimal.Decimal  `json:"amount"`
	ISIN                 string           `json:"isin"`
	LimitPrice           *decimal.Decimal `json:"limitPrice,omitempty"`
	StopPrice            *decimal.Decimal `json:"stopPrice,omitempty"`
	StopLossLimitPrice   *decimal.Decimal `json:"stopLossLimitPrice,omitempty"`
	StopLossStopPrice    *decimal.Decimal `json:"stopLossStopPrice,omitempty"`
	TakeProfitLimitPrice *decimal.Decimal `json:"takeProfitLimitPrice,omitempty"`
	ExpiresAt            *time.Time       `json:"expiresAt,omitempty"`
}

// CancelOrderCommand is the inbound request to remove an open order.
type CancelOrderCommand struct {
	Wikifolio string `json:"wikifolio"`
	OrderID   string `json:"orderId"`
}

// Validate checks the command shape before any platform call. Order
// semantics (prices required per type) are checked again on submission.
func (c PlaceOrderCommand) Validate() error {
	switch {
	case strings.TrimSpace(c.Wikifolio) == "":
		return fmt.Errorf("%w: wikifolio is required", wikifolio.ErrInvalidOrder)
	case wikifolio.SideFromString(c.Side) == wikifolio.SideUnknown:
		return fmt.Errorf("%w: side must be buy or sell", wikifolio.ErrInvalidOrder)
	case wikifolio.OrderTypeFromString(c.OrderType) == wikifolio.OrderTypeUnknown:
		return fmt.Errorf("%w: unknown order type %q", wikifolio.ErrInvalidOrder, c.OrderType)
	case !c.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", wikifolio.ErrInvalidOrder)
	case !c.Amount.Equal(c.Amount.Truncate(0)):
		return fmt.Errorf("%w: amount must be a whole number of certificates", wikifolio.ErrInvalidOrder)
	case strings.TrimSpace(c.ISIN) == "":
		return fmt.Errorf("%w: isin is required", wikifolio.ErrInvalidOrder)
	}
	for name, p := range map[string]*decimal.Decimal{
		"limitPrice":           c.LimitPrice,
		"stopPrice":            c.StopPrice,
		"stopLossLimitPrice":   c.StopLossLimitPrice,
		"stopLossStopPrice":    c.StopLossStopPrice,
		"takeProfitLimitPrice": c.TakeProfitLimitPrice,
	} {
		if p != nil && !p.IsPositive() {
			return fmt.Errorf("%w: %s must be positive", wikifolio.ErrInvalidOrder, name)
		}
	}
	return nil
}

// Params converts the command into order parameters.
func (c PlaceOrderCommand) Params() wikifolio.OrderParams {
	return wikifolio.OrderParams{
		Side:                 wikifolio.SideFromString(c.Side),
		OrderType:            wikifolio.OrderTypeFromString(c.OrderType),
		Amount:               c.Amount.IntPart(),
		UnderlyingISIN:       strings.TrimSpace(c.ISIN),
		LimitPrice:           toFloat(c.LimitPrice),
		StopPrice:            toFloat(c.StopPrice),
		StopLossLimitPrice:   toFloat(c.StopLossLimitPrice),
		StopLossStopPrice:    toFloat(c.StopLossStopPrice),
		TakeProfitLimitPrice: toFloat(c.TakeProfitLimitPrice),
		ExpiresAt:            c.ExpiresAt,
	}
}

// Validate checks the cancel command.
func (c CancelOrderCommand) Validate() error {
	switch {
	case strings.TrimSpace(c.Wikifolio) == "":
		return fmt.Errorf("%w: wikifolio is required", wikifolio.ErrInvalidOrder)
	case strings.TrimSpace(c.OrderID) == "":
		return fmt.Errorf("%w: orderId is required", wikifolio.ErrInvalidOrder)
	}
	return nil
}

func toFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
