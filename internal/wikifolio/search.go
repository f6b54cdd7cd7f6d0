package wikifolio

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
	"github.com/Checker-Finance/wikifolio-adapter/internal/scrape"
)

// DefaultSearchTags is the investment universe searched when no tags are
// given.
var DefaultSearchTags = []string{"aktde", "akteur", "aktusa", "akthot", "aktint", "etf", "fonds", "anlagezert", "hebel"}

// SearchParams filters a wikifolio search. Nil flags keep the platform
// default; the trader-type flags default to true.
type SearchParams struct {
	Query      string
	Tags       []string
	SortOrder  string // desc | asc
	SortBy     string // topwikis | newestwiki | perfever | ...
	StartValue int

	Media        *bool
	Private      *bool
	AssetManager *bool
	Theme        *bool
	Super        *bool

	LanguageOnly                *bool
	Investable                  *bool
	RealMoney                   *bool
	SavingPlan                  *bool
	LeverageProductsOnly        *bool
	WithoutLeverageProductsOnly *bool

	// Ranges holds range filters such as "perfever" -> "10;50".
	Ranges map[string]string
}

func (p SearchParams) query(now int64) *parse.Params {
	tags := p.Tags
	if len(tags) == 0 {
		tags = DefaultSearchTags
	}
	flag := func(v *bool, def bool) bool {
		if v == nil {
			return def
		}
		return *v
	}
	q := parse.NewParams(
		"_", now,
		"tags", tags,
		"media", flag(p.Media, true),
		"private", flag(p.Private, true),
		"assetmanager", flag(p.AssetManager, true),
		"theme", flag(p.Theme, true),
		"super", flag(p.Super, true),
		"query", p.Query,
		"sortOrder", p.SortOrder,
		"sortBy", p.SortBy,
		"startValue", p.StartValue,
		"languageOnly", flag(p.LanguageOnly, false),
		"investable", flag(p.Investable, false),
		"realMoney", flag(p.RealMoney, false),
		"savingplan", flag(p.SavingPlan, false),
		"LeverageProductsOnly", flag(p.LeverageProductsOnly, false),
		"WithoutLeverageProductsOnly", flag(p.WithoutLeverageProductsOnly, false),
	)
	for _, k := range sortedKeys(p.Ranges) {
		q.Set(k, p.Ranges[k])
	}
	return q
}

type searchEditor struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// searchRecord is one embedded result card of the search and watchlist
// pages.
type searchRecord struct {
	WikifolioFullName string       `json:"wikifolioFullName"`
	IsWatchlisted     *bool        `json:"isWatchlisted"`
	IsNotificationSet *bool        `json:"isNotificationSet"`
	MainRankingValue  displayValue `json:"mainRankingValue"`
	Status            any          `json:"status"`
	Tags              []struct {
		Text string `json:"text"`
	} `json:"tags"`
	ShortDescription string       `json:"shortDescription"`
	WikifolioURL     string       `json:"wikifolioUrl"`
	ChartImgURL      string       `json:"chartImgUrl"`
	WikifolioID      string       `json:"wikifolioId"`
	WikifolioISIN    string       `json:"wikifolioIsin"`
	Editor           searchEditor `json:"editor"`
}

// Search runs a wikifolio search and returns the matches in page order.
// Each result is the shared instance for its symbol.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]*Wikifolio, error) {
	target := "dynamic/" + c.Locale() + "/wikifoliosearch/search"
	html, err := c.getHTML(ctx, target, params.query(c.now().UnixMilli()))
	if err != nil {
		return nil, err
	}

	var out []*Wikifolio
	for _, block := range scrape.JSONScripts(html) {
		var rec searchRecord
		var doc any
		if err := json.Unmarshal(block, &rec); err != nil {
			c.logger.Warn("wikifolio.search_record_invalid", zap.Error(err))
			continue
		}
		_ = json.Unmarshal(block, &doc)
		if rec.WikifolioFullName == "" {
			continue
		}

		w := c.WikifolioByIdentity(Identity{Symbol: rec.WikifolioFullName, ID: rec.WikifolioID})
		update := c.recordData(rec)
		update.Rank = parse.FloatPtr(rec.MainRankingValue.DisplayValue)
		update.Capital = rankingCurrency(doc, "Investiertes Kapital")
		update.CreatedAt = parse.DatePtr(labelledString(doc, "$.rankingValues", "label", "Erstellungsdatum", "displayValue"))
		update.PublishedAt = parse.DatePtr(labelledString(doc, "$.rankingValues", "label", "Erstemission", "displayValue"))
		update.Fee = labelledFloat(doc, "$.rankingValues", "label", "Performancegebühr", "displayValue")
		update.MaxDrawdown = labelledFloat(doc, "$.rankingValues", "label", "Maximaler Verlust (bisher)", "displayValue")
		update.PerfEver = labelledFloat(doc, "$.rankingValues", "label", "Performance seit Beginn", "displayValue")
		update.PerfAnnually = labelledFloat(doc, "$.rankingValues", "label", "Ø-Performance pro Jahr", "displayValue")
		w.merge(update, SourceSearch)
		out = append(out, w)
	}
	return out, nil
}

// rankingFigures maps watchlist ranking identifiers to fields.
var rankingFigures = []struct {
	id       string
	currency bool
	set      func(d *WikifolioData, v *float64)
}{
	{"topwikis", false, func(d *WikifolioData, v *float64) { d.Rank = v }},
	{"buyint", false, func(d *WikifolioData, v *float64) { d.BuyInterest = v }},
	{"bought30d", false, func(d *WikifolioData, v *float64) { d.Bought30d = v }},
	{"perfever", false, func(d *WikifolioData, v *float64) { d.PerfEver = v }},
	{"perfemission", false, func(d *WikifolioData, v *float64) { d.PerfEmission = v }},
	{"perfytd", false, func(d *WikifolioData, v *float64) { d.PerfYTD = v }},
	{"aum", true, func(d *WikifolioData, v *float64) { d.Capital = v }},
	{"tradevol30d", true, func(d *WikifolioData, v *float64) { d.TradeVolume30d = v }},
	{"perfbuy", false, func(d *WikifolioData, v *float64) { d.PerfBuy = v }},
	{"perfannually", false, func(d *WikifolioData, v *float64) { d.PerfAnnually = v }},
	{"perf60m", false, func(d *WikifolioData, v *float64) { d.Perf60m = v }},
	{"perf36m", false, func(d *WikifolioData, v *float64) { d.Perf36m = v }},
	{"perf12m", false, func(d *WikifolioData, v *float64) { d.Perf12m = v }},
	{"perf52week", false, func(d *WikifolioData, v *float64) { d.Perf52Week = v }},
	{"perf6m", false, func(d *WikifolioData, v *float64) { d.Perf6m = v }},
	{"perf3m", false, func(d *WikifolioData, v *float64) { d.Perf3m = v }},
	{"perf1m", false, func(d *WikifolioData, v *float64) { d.Perf1m = v }},
	{"maxdraw", false, func(d *WikifolioData, v *float64) { d.MaxDrawdown = v }},
	{"sharperatio", false, func(d *WikifolioData, v *float64) { d.SharpeRatio = v }},
	{"esgScore", false, func(d *WikifolioData, v *float64) { d.ESGScore = v }},
	{"risk", false, func(d *WikifolioData, v *float64) { d.Risk = v }},
}

// Watchlist returns the logged-in user's watchlisted wikifolios.
func (c *Client) Watchlist(ctx context.Context) ([]*Wikifolio, error) {
	page := "edit"
	if c.language == "de" {
		page = "bearbeiten"
	}
	target := c.Locale() + "/watchlist/" + page
	html, err := c.getHTML(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	blocks := scrape.JSONScripts(html)
	if len(blocks) == 0 {
		return nil, &InvalidResponseError{Target: target, Reason: "no embedded watchlist data"}
	}

	var payload struct {
		SearchResults []json.RawMessage `json:"searchResults"`
	}
	if err := json.Unmarshal(blocks[0], &payload); err != nil {
		return nil, &InvalidResponseError{Target: target, Reason: "watchlist data", Err: err}
	}

	out := make([]*Wikifolio, 0, len(payload.SearchResults))
	for _, raw := range payload.SearchResults {
		var rec searchRecord
		var doc any
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, &InvalidResponseError{Target: target, Reason: "watchlist item", Err: err}
		}
		_ = json.Unmarshal(raw, &doc)

		symbol := lastSegment(rec.WikifolioURL)
		if symbol == "" && rec.WikifolioID == "" {
			continue
		}
		w := c.WikifolioByIdentity(Identity{Symbol: symbol, ID: rec.WikifolioID})
		update := c.recordData(rec)
		update.IsWatchlisted = ptr(true)
		update.Fee = labelledFloat(doc, "$.rankingValues", "label", "Performancegebühr", "displayValue")
		update.PublishedAt = parse.DatePtr(labelledString(doc, "$.rankingValues", "label", "Erstemission", "displayValue"))
		update.CreatedAt = parse.DatePtr(labelledString(doc, "$.rankings", "identifier", "newestwiki", "displayValue"))
		for _, f := range rankingFigures {
			display := labelledString(doc, "$.rankings", "identifier", f.id, "displayValue")
			if f.currency {
				f.set(&update, parse.CurrencyPtr(display))
			} else {
				f.set(&update, parse.FloatPtr(display))
			}
		}
		w.merge(update, SourceWatch)
		out = append(out, w)
	}
	return out, nil
}

// recordData maps the fields shared by search and watchlist cards and
// registers the editing trader.
func (c *Client) recordData(rec searchRecord) WikifolioData {
	tags := make([]string, 0, len(rec.Tags))
	for _, t := range rec.Tags {
		if t.Text != "" {
			tags = append(tags, t.Text)
		}
	}
	update := WikifolioData{
		ISIN:              nonEmpty(rec.WikifolioISIN),
		Title:             nonEmpty(rec.ShortDescription),
		Tags:              tags,
		IsWatchlisted:     rec.IsWatchlisted,
		IsNotificationSet: rec.IsNotificationSet,
		ChartImageURL:     nonEmpty(rec.ChartImgURL),
		URL:               nonEmpty(c.Absolute(rec.WikifolioURL)),
		Status:            statusCode(rec.Status),
	}
	if name, nick, ok := splitEditor(rec.Editor.Name); ok {
		update.Trader = ptr(nick)
		update.TraderURL = nonEmpty(c.Absolute(rec.Editor.URL))
		c.User(nick).merge(UserData{
			Name:       nonEmpty(name),
			ProfileURL: update.TraderURL,
		}, "")
	}
	return update
}

// splitEditor splits "Full Name | nickname".
func splitEditor(s string) (name, nickname string, ok bool) {
	parts := strings.SplitN(s, " | ", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func rankingCurrency(doc any, label string) *float64 {
	return parse.CurrencyPtr(labelledString(doc, "$.rankingValues", "label", label, "displayValue"))
}

func statusCode(v any) *int {
	switch t := v.(type) {
	case float64:
		n := int(t)
		return &n
	case string:
		if n, ok := parse.Int(t); ok {
			i := int(n)
			return &i
		}
	}
	return nil
}
