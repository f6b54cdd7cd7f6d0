package wikifolio

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
)

// Trade is an executed order from a wikifolio's trade history.
type Trade struct {
	ID                        string            `json:"id"`
	Side                      Side              `json:"side"`
	OrderType                 string            `json:"orderType"`
	Name                      string            `json:"name"`
	ISIN                      string            `json:"isin"`
	Link                      string            `json:"link"`
	IsMainOrder               bool              `json:"isMainOrder"`
	MainOrderID               string            `json:"mainOrderId,omitempty"`
	SubOrders                 []json.RawMessage `json:"subOrders,omitempty"`
	Issuer                    any               `json:"issuer,omitempty"`
	SecurityType              any               `json:"securityType,omitempty"`
	ExecutionDate             string            `json:"executionDate"`
	ExecutedAt                *time.Time        `json:"executedAt,omitempty"`
	Performance               *float64          `json:"performance,omitempty"`
	Weightage                 *float64          `json:"weightage,omitempty"`
	InvestmentUniverseGroupID any               `json:"investmentUniverseGroupId,omitempty"`
	IsLeveraged               bool              `json:"isLeveraged"`
	LinkParameter             string            `json:"linkParameter,omitempty"`
	CorporateActionType       any               `json:"corporateActionType,omitempty"`
	Cash                      any               `json:"cash,omitempty"`
}

// TradeSide derives the side from a trade history order type; only Buy and
// BuyLimit are purchases.
func TradeSide(orderType string) Side {
	switch orderType {
	case "Buy", "BuyLimit":
		return SideBuy
	default:
		return SideSell
	}
}

// TradePage is one page of trade history.
type TradePage struct {
	PageCount int     `json:"pageCount"`
	Trades    []Trade `json:"trades"`
}

// TradesParams pages through trade history. Zero values use the client's
// defaults.
type TradesParams struct {
	Page     int
	PageSize int
}

type tradeHistoryResponse struct {
	TradeHistory struct {
		PageCount        int     `json:"pageCount"`
		IsSuperWikifolio *bool   `json:"isSuperWikifolio"`
		Orders           []Trade `json:"orders"`
	} `json:"tradeHistory"`
}

// Trades loads a page of executed trades, newest first.
func (w *Wikifolio) Trades(ctx context.Context, params TradesParams) (*TradePage, error) {
	if err := w.require(ctx, needID); err != nil {
		return nil, err
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = w.client.pageSize
	}
	query := parse.NewParams("page", params.Page, "pageSize", pageSize).Merge(w.client.localeParams())

	var resp tradeHistoryResponse
	if err := w.client.getJSON(ctx, "api/wikifolio/"+w.ID()+"/tradehistory", query, &resp); err != nil {
		return nil, err
	}

	trades := make([]Trade, 0, len(resp.TradeHistory.Orders))
	for _, t := range resp.TradeHistory.Orders {
		t.Side = TradeSide(t.OrderType)
		t.Link = w.client.Absolute(t.Link)
		t.ExecutedAt = parse.DatePtr(t.ExecutionDate)
		trades = append(trades, t)
	}
	w.merge(WikifolioData{IsSuper: resp.TradeHistory.IsSuperWikifolio}, "")
	return &TradePage{PageCount: resp.TradeHistory.PageCount, Trades: trades}, nil
}
