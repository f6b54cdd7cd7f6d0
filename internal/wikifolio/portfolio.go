package wikifolio

import (
	"context"
	"encoding/json"
)

// Portfolio group names by investment universe group type.
var portfolioGroupNames = map[int]string{
	0:   "Cash",
	610: "Bonds",
	620: "Equities",
	630: "ETF",
	640: "Structured products",
	650: "Wikifolio certificates",
}

// PortfolioGroupName returns the display name of a group type, "n/a" for
// unknown types.
func PortfolioGroupName(groupType int) string {
	if name, ok := portfolioGroupNames[groupType]; ok {
		return name
	}
	return "n/a"
}

// PortfolioItem is one holding.
type PortfolioItem struct {
	Name                 string          `json:"name"`
	ISIN                 string          `json:"isin"`
	Quantity             float64         `json:"quantity"`
	AveragePurchasePrice float64         `json:"averagePurchasePrice"`
	Ask                  float64         `json:"ask"`
	Bid                  float64         `json:"bid"`
	Close                float64         `json:"close"`
	Mid                  float64         `json:"mid"`
	Percentage           float64         `json:"percentage"`
	Link                 string          `json:"link"`
	Issuer               json.RawMessage `json:"issuer,omitempty"`
	IsLeveraged          bool            `json:"isLeveraged"`
	IsTicking            bool            `json:"isTicking"`
	PartnerName          string          `json:"partnerName,omitempty"`
}

// PortfolioGroup is a set of holdings of the same security class.
type PortfolioGroup struct {
	Type       int             `json:"type"`
	Name       string          `json:"name"`
	Value      float64         `json:"value"`
	Percentage float64         `json:"percentage"`
	Items      []PortfolioItem `json:"items"`
}

// Portfolio is a wikifolio's current holdings.
type Portfolio struct {
	Wikifolio  string           `json:"wikifolio"`
	Currency   string           `json:"currency"`
	TotalValue float64          `json:"totalValue"`
	IsSuper    bool             `json:"isSuper"`
	Groups     []PortfolioGroup `json:"groups"`
}

// Items flattens the holdings of every group.
func (p *Portfolio) Items() []PortfolioItem {
	var out []PortfolioItem
	for _, g := range p.Groups {
		out = append(out, g.Items...)
	}
	return out
}

type portfolioResponse struct {
	Currency         string           `json:"currency"`
	TotalValue       float64          `json:"totalValue"`
	IsSuperWikifolio *bool            `json:"isSuperWikifolio"`
	Groups           []PortfolioGroup `json:"groups"`
}

// Portfolio loads the current holdings. Item links are made absolute.
func (w *Wikifolio) Portfolio(ctx context.Context) (*Portfolio, error) {
	if err := w.require(ctx, needSymbol); err != nil {
		return nil, err
	}
	var resp portfolioResponse
	if err := w.client.getJSON(ctx, "api/wikifolio/"+w.Symbol()+"/portfolio", w.client.localeParams(), &resp); err != nil {
		return nil, err
	}

	groups := make([]PortfolioGroup, 0, len(resp.Groups))
	for _, g := range resp.Groups {
		g.Name = PortfolioGroupName(g.Type)
		items := make([]PortfolioItem, 0, len(g.Items))
		for _, it := range g.Items {
			it.Link = w.client.Absolute(it.Link)
			items = append(items, it)
		}
		g.Items = items
		groups = append(groups, g)
	}

	w.merge(WikifolioData{IsSuper: resp.IsSuperWikifolio}, "")
	return &Portfolio{
		Wikifolio:  w.Symbol(),
		Currency:   resp.Currency,
		TotalValue: resp.TotalValue,
		IsSuper:    deref(w.Data().IsSuper),
		Groups:     groups,
	}, nil
}
