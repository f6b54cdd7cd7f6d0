package wikifolio

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
	"github.com/Checker-Finance/wikifolio-adapter/internal/scrape"
)

// OrdersParams pages through the open order list.
type OrdersParams struct {
	Page     int
	PageSize int
}

// Orders lists the wikifolio's open orders. Each main order carries its
// take-profit and stop-loss legs as children. Orders are shared per id, so
// listing again updates the same instances.
func (w *Wikifolio) Orders(ctx context.Context, params OrdersParams) ([]*Order, error) {
	if err := w.require(ctx, needID); err != nil {
		return nil, err
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = w.client.pageSize
	}
	target := "dynamic/" + w.client.Locale() + "/Publish/GetPagedOpenTrades"
	html, err := w.client.getHTML(ctx, target, parse.NewParams(
		"page", params.Page,
		"pageSize", pageSize,
		"id", w.ID(),
	))
	if err != nil {
		return nil, err
	}
	orders, err := w.parseOrders(html)
	if err != nil {
		return nil, &InvalidResponseError{Target: target, Reason: "order list", Err: err}
	}
	return orders, nil
}

// ListOrders is Wikifolio.Orders for a wikifolio identifier.
func (c *Client) ListOrders(ctx context.Context, identifier string, params OrdersParams) ([]*Order, error) {
	return c.Wikifolio(identifier).Orders(ctx, params)
}

func (w *Wikifolio) parseOrders(html string) ([]*Order, error) {
	format := w.client.numberFormat()
	doc, err := scrape.ParseIn(html, format)
	if err != nil {
		return nil, err
	}

	var (
		out     []*Order
		skipped int
	)
	doc.Find("tr.parent-order.first-group-item").Each(func(_ int, row scrape.Scope) {
		id := row.Attr("data-id")
		if id == "" {
			skipped++
			return
		}
		group := row.Attr("data-group")
		btn := row.Find(".js-edit-trade-button").First()
		isin := row.String(".isin")
		description := btn.Data("description")
		expiresAt := parse.DatePtr(btn.Data("validUntil"))
		slLimit := parse.FloatPtrIn(btn.Data("slLimit"), format)
		tpLimit := parse.FloatPtrIn(btn.Data("tpLimit"), format)

		parent := w.Order(id)
		update := OrderData{
			Group:                nonEmpty(group),
			ISIN:                 nonEmpty(isin),
			Description:          nonEmpty(description),
			Status:               nonEmpty(row.String("span.status-text")),
			Amount:               parse.IntPtrIn(btn.Data("tradeAmount"), format),
			LimitPrice:           parse.FloatPtrIn(btn.Data("limit"), format),
			StopPrice:            parse.FloatPtrIn(btn.Data("stopLimit"), format),
			StopLossLimitPrice:   slLimit,
			StopLossStopPrice:    parse.FloatPtrIn(btn.Data("slStop"), format),
			TakeProfitLimitPrice: tpLimit,
			ExpiresAt:            expiresAt,
		}
		if side := SideFromString(btn.Data("orderBuysell")); side != SideUnknown {
			update.Side = ptr(side)
		}
		if ot := OrderTypeFromString(btn.Data("orderType")); ot != OrderTypeUnknown {
			update.OrderType = ptr(ot)
		}

		var children []*Order
		if group != "" {
			selector := fmt.Sprintf(`.parent-order:not(.first-group-item)[data-group="%s"]`, group)
			doc.Find(selector).Each(func(_ int, childRow scrape.Scope) {
				childID := childRow.Attr("data-id")
				if childID == "" {
					return
				}
				child := w.Order(childID)
				childUpdate := OrderData{
					Group:       nonEmpty(group),
					ISIN:        nonEmpty(isin),
					Description: nonEmpty(description),
					Status:      nonEmpty(childRow.String(".status-text")),
					ExpiresAt:   expiresAt,
				}
				switch SecurityType(childRow.Find(".remove").First().Data("securityType")) {
				case SecurityTypeStopLoss:
					childUpdate.SecurityType = ptr(SecurityTypeStopLoss)
					prices := strings.Split(childRow.Find("td.numeric div").First().HTML(), "/")
					childUpdate.StopPrice = invariant(prices[0])
					childUpdate.LimitPrice = slLimit
				case SecurityTypeTakeProfit:
					childUpdate.SecurityType = ptr(SecurityTypeTakeProfit)
					childUpdate.LimitPrice = tpLimit
				}
				child.merge(childUpdate, SourceOrders)
				child.mu.Lock()
				child.parent = parent
				child.mu.Unlock()
				children = append(children, child)
			})
		}

		parent.merge(update, SourceOrders)
		parent.mu.Lock()
		parent.children = children
		parent.mu.Unlock()
		out = append(out, parent)
	})

	if skipped > 0 {
		w.client.logger.Named("orders").Warn("wikifolio.order_rows_without_id", zap.Int("skipped", skipped))
	}
	return out, nil
}

// invariant parses the stop-loss price cell, which carries a dot decimal mark
// whatever the page language.
func invariant(s string) *float64 {
	return parse.FloatPtrIn(s, parse.FormatInvariant)
}
