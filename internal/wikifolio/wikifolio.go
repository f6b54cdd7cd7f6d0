package wikifolio

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
	"github.com/Checker-Finance/wikifolio-adapter/internal/scrape"
)

// Source tags recorded on a Wikifolio once the matching load succeeded.
const (
	SourceBasics   = "basics"
	SourceDetails  = "details"
	SourcePrice    = "price"
	SourceAnalysis = "analysis"
	SourceSearch   = "search"
	SourceWatch    = "watchlist"
	SourceUser     = "user.wikifolios"
)

// Wikifolio is a lazily populated view of one strategy. Instances are
// obtained from Client.Wikifolio and shared per identity.
type Wikifolio struct {
	entity
	client *Client
	data   WikifolioData
}

// Wikifolio returns the shared instance for identifier (symbol, symbol
// without prefix, or id). No request is made.
func (c *Client) Wikifolio(identifier string) *Wikifolio {
	return c.WikifolioByIdentity(ParseIdentifier(identifier))
}

// WikifolioByIdentity returns the shared instance for id. When both fields
// are set the instance is also reachable by each of them alone.
func (c *Client) WikifolioByIdentity(id Identity) *Wikifolio {
	var w *Wikifolio
	if id.Symbol != "" {
		w, _ = c.wikifolios.Lookup(Identity{Symbol: id.Symbol}.key())
	}
	if w == nil && id.ID != "" {
		w, _ = c.wikifolios.Lookup(Identity{ID: id.ID}.key())
	}
	if w == nil {
		w = c.wikifolios.InstanceOf(id.key(), func() *Wikifolio {
			w := &Wikifolio{client: c}
			w.init("wikifolio")
			return w
		})
	}
	w.merge(WikifolioData{ID: nonEmpty(id.ID), Symbol: nonEmpty(id.Symbol)}, "")
	return w
}

// Data returns a snapshot of the loaded fields.
func (w *Wikifolio) Data() WikifolioData {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.data
}

// ID returns the platform id, or "" when not loaded yet.
func (w *Wikifolio) ID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return deref(w.data.ID)
}

// Symbol returns the wf-prefixed symbol, or "".
func (w *Wikifolio) Symbol() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return deref(w.data.Symbol)
}

// Name is the symbol if known, else the id; used in logs and errors.
func (w *Wikifolio) Name() string {
	if s := w.Symbol(); s != "" {
		return s
	}
	return w.ID()
}

// IsOwned reports ownership; ok is false until details have been loaded.
func (w *Wikifolio) IsOwned() (owned, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.data.IsOwned == nil {
		return false, false
	}
	return *w.data.IsOwned, true
}

// User returns the trader owning the wikifolio, once known.
func (w *Wikifolio) User() *User {
	w.mu.RLock()
	nick := deref(w.data.Trader)
	w.mu.RUnlock()
	if nick == "" {
		return nil
	}
	return w.client.User(nick)
}

// Set merges update into the wikifolio without recording a source.
func (w *Wikifolio) Set(update WikifolioData) *Wikifolio {
	w.merge(update, "")
	return w
}

// merge applies update and records tag, then registers any newly learned
// identifier as an alias of this instance.
func (w *Wikifolio) merge(update WikifolioData, tag string) {
	w.mu.Lock()
	apply(&w.data, &update)
	w.markLocked(tag)
	id, symbol := deref(w.data.ID), deref(w.data.Symbol)
	w.mu.Unlock()

	for _, key := range identityKeys(id, symbol) {
		if canonical := w.client.wikifolios.Alias(key, w); canonical != w {
			w.foldInto(canonical, id, symbol)
			return
		}
	}
}

func identityKeys(id, symbol string) []string {
	var keys []string
	if id != "" {
		keys = append(keys, Identity{ID: id}.key())
	}
	if symbol != "" {
		keys = append(keys, Identity{Symbol: symbol}.key())
	}
	return keys
}

// foldInto handles a wikifolio that was first registered under one
// identifier and then learned another that already belongs to canonical.
// Every key is pointed at canonical and both instances receive the union of
// what they loaded; canonical's values win.
func (w *Wikifolio) foldInto(canonical *Wikifolio, id, symbol string) {
	for _, key := range identityKeys(id, symbol) {
		w.client.wikifolios.Rebind(key, canonical)
	}
	w.client.logger.Debug("wikifolio.instances_folded",
		zap.String("id", id),
		zap.String("symbol", symbol))

	data, sources := w.snapshot()
	canonical.absorb(data, sources)
	data, sources = canonical.snapshot()
	w.absorb(data, sources)
}

func (w *Wikifolio) snapshot() (WikifolioData, []string) {
	return w.Data(), w.Sources()
}

func (w *Wikifolio) absorb(data WikifolioData, sources []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	apply(&w.data, &data)
	for _, tag := range sources {
		w.markLocked(tag)
	}
}

type requirement int

const (
	needSymbol requirement = iota
	needID
	needOwnership
)

// require loads whatever is needed for the listed identifiers to be present.
// Ownership is resolved first since the details page also carries the id.
func (w *Wikifolio) require(ctx context.Context, needs ...requirement) error {
	has := func(r requirement) bool {
		for _, n := range needs {
			if n == r {
				return true
			}
		}
		return false
	}
	if has(needOwnership) {
		if _, ok := w.IsOwned(); !ok {
			if err := w.Details(ctx, false); err != nil {
				return err
			}
		}
	}
	if has(needID) && w.ID() == "" {
		if err := w.Basics(ctx, false); err != nil {
			return err
		}
		if w.ID() == "" {
			return &MissingIdentifierError{Kind: "wikifolio", Field: "id"}
		}
	}
	if has(needSymbol) && w.Symbol() == "" {
		return &MissingIdentifierError{Kind: "wikifolio", Field: "symbol"}
	}
	return nil
}

type displayValue struct {
	DisplayValue string `json:"displayValue"`
}

type basicsResponse struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	TraderNickname   string       `json:"traderNickname"`
	PerformanceEver  displayValue `json:"performanceEver"`
	PerformanceToday displayValue `json:"performanceToday"`
}

// Basics loads the id, title, trader and headline performance by symbol.
func (w *Wikifolio) Basics(ctx context.Context, refresh bool) error {
	return w.load(ctx, SourceBasics, refresh, func(ctx context.Context) error {
		if err := w.require(ctx, needSymbol); err != nil {
			return err
		}
		var resp basicsResponse
		if err := w.client.getJSON(ctx, "api/wikifolio/"+w.Symbol()+"/basicdata", nil, &resp); err != nil {
			return err
		}
		w.merge(WikifolioData{
			ID:        nonEmpty(resp.ID),
			Title:     nonEmpty(resp.Title),
			Trader:    nonEmpty(resp.TraderNickname),
			PerfEver:  parse.FloatPtr(resp.PerformanceEver.DisplayValue),
			PerfToday: parse.FloatPtr(resp.PerformanceToday.DisplayValue),
		}, SourceBasics)
		return nil
	})
}

var (
	reWikifolioData = regexp.MustCompile(`wikifolio\.data = ({[^}]*})`)

	reKeyPublished = regexp.MustCompile(`(?s)Erstemission</td>\s*<td[^>]*>.*?([0-9]{2}\.[0-9]{2}\.[0-9]{4})`)
	reKeyFee       = regexp.MustCompile(`(?s)Performancegebühr</td>\s*<td[^>]*>[^0-9<]*([0-9][0-9.,]*)`)
	reKeyLiquidity = regexp.MustCompile(`(?s)Liquidationskennzahl</td>\s*<td[^>]*>[^0-9<]*([0-9][0-9.,]*)`)
	reKeyVolume    = regexp.MustCompile(`(?s)Handelsvolumen</td>\s*<td[^>]*>(?:\s*<[^>]+>)*[^0-9<]*([0-9][0-9.,]*)`)
)

// pageData is the inline object the wikifolio page script assigns.
type pageData struct {
	WikifolioID              string `json:"wikifolioId"`
	UserID                   string `json:"userId"`
	UserOwnsWikifolio        *bool  `json:"userOwnsWikifolio"`
	IsSuperWikifolio         *bool  `json:"isSuperWikifolio"`
	IsChallengeWikifolio     *bool  `json:"isChallengeWikifolio"`
	ContainsLeverageProducts *bool  `json:"containsLeverageProducts"`
}

// Details scrapes the wikifolio page. It is the only source for ownership,
// master data and comments and is comparatively slow.
func (w *Wikifolio) Details(ctx context.Context, refresh bool) error {
	return w.load(ctx, SourceDetails, refresh, func(ctx context.Context) error {
		if err := w.require(ctx, needSymbol); err != nil {
			return err
		}
		target := w.client.Locale() + "/w/" + w.Symbol()
		html, err := w.client.getHTML(ctx, target, nil)
		if err != nil {
			return err
		}
		update, user, err := parseDetails(html, w.client.numberFormat())
		if err != nil {
			return &InvalidResponseError{Target: target, Reason: "details page", Err: err}
		}
		update.URL = ptr(w.client.Absolute(target))
		update.TraderURL = nonEmpty(w.client.Absolute(deref(update.TraderURL)))
		if user.nickname != "" {
			w.client.User(user.nickname).merge(UserData{
				ID:         nonEmpty(user.id),
				Nickname:   ptr(user.nickname),
				ProfileURL: update.TraderURL,
			}, "")
		}
		w.merge(update, SourceDetails)
		return nil
	})
}

type detailsUser struct {
	id, nickname, profile string
}

func parseDetails(html string, format parse.Format) (WikifolioData, detailsUser, error) {
	doc, err := scrape.ParseIn(html, format)
	if err != nil {
		return WikifolioData{}, detailsUser{}, err
	}

	var data pageData
	script := doc.Find("body script").Last().RawText()
	raw := scrape.Match(reWikifolioData, script)
	if raw == "" {
		// Fall back to any script carrying the assignment.
		raw = scrape.Match(reWikifolioData, html)
	}
	if raw == "" {
		return WikifolioData{}, detailsUser{}, fmt.Errorf("wikifolio.data assignment not found")
	}
	if err := json5.Unmarshal([]byte(raw), &data); err != nil {
		return WikifolioData{}, detailsUser{}, fmt.Errorf("decode wikifolio.data: %w", err)
	}

	table := doc.Find("table.c-certificate__key-table").HTML()
	update := WikifolioData{
		ID:       nonEmpty(data.WikifolioID),
		ISIN:     nonEmpty(doc.String(".gtm-copy-isin")),
		Title:    nonEmpty(doc.String(".c-wf-head__title-text")),
		Trader:   nonEmpty(doc.String(".c-trader__name:nth-child(2)")),
		TraderID: nonEmpty(data.UserID),
		IsOwned:  data.UserOwnsWikifolio,

		Capital:       doc.Currency(".c-certificate__item--capital .c-certificate__item-value"),
		CreatedAt:     doc.Date(".c-masterdata__item:nth-child(2) .c-masterdata__item-value"),
		PublishedAt:   parse.DatePtr(scrape.Match(reKeyPublished, table)),
		Fee:           parse.FloatPtrIn(scrape.Match(reKeyFee, table), format),
		Liquidation:   parse.FloatPtrIn(scrape.Match(reKeyLiquidity, table), format),
		TradingVolume: parse.CurrencyPtrIn(scrape.Match(reKeyVolume, table), format),
		IndexLevel:    doc.Float(".c-masterdata__item:nth-child(3) .c-masterdata__item-value"),
		HighWatermark: doc.Float(".c-masterdata__item:nth-child(4) .c-masterdata__item-value"),

		PerfEver:     doc.Float(".c-ranking-box--large .c-ranking-item:nth-child(1) .c-ranking-item__value"),
		Perf12m:      doc.Float(".c-ranking-box--large .c-ranking-item:nth-child(2) .c-ranking-item__value"),
		PerfAnnually: doc.Float(".c-ranking-box--large .c-ranking-item:nth-child(3) .c-ranking-item__value"),
		MaxDrawdown:  doc.Float(".c-ranking-box--small .c-ranking-item__value"),
		Risk:         doc.Float(".c-risk-factor"),

		IsSuper:                  data.IsSuperWikifolio,
		IsChallenge:              data.IsChallengeWikifolio,
		ContainsLeverageProducts: data.ContainsLeverageProducts,
		IsWatchlisted:            ptr(doc.Exists(".js-remove-from-watchlist")),
		Investable:               ptr(doc.Exists(`.c-status-icon-wrapper[title*="Investierbar"]`)),
		RealMoney:                ptr(doc.Exists(`.c-status-icon-wrapper[title*="Real Money"]`)),

		TradeIdea:      nonEmpty(doc.String(".js-tradeidea__content")),
		DecisionMaking: doc.Texts(".c-wfdecision__item"),
	}
	update.TraderURL = nonEmpty(doc.AttrOf(".gtm-profile-link", "href"))

	doc.Find(".c-wfcomment article").Each(func(_ int, item scrape.Scope) {
		body := item.Find(".c-wfcomment__item-content p").First()
		update.Comments = append(update.Comments, Comment{
			Text: body.Text(),
			HTML: strings.TrimSpace(body.HTML()),
			Date: item.Date(".c-wfcomment__item-date"),
			Ref:  item.String(".c-wfcomment__item-subheader-content"),
		})
	})

	user := detailsUser{
		id:       data.UserID,
		nickname: deref(update.Trader),
		profile:  deref(update.TraderURL),
	}
	return update, user, nil
}

type priceResponse struct {
	Ask                 *float64 `json:"ask"`
	Bid                 *float64 `json:"bid"`
	MidPrice            *float64 `json:"midPrice"`
	QuantityLimitBid    *float64 `json:"quantityLimitBid"`
	QuantityLimitAsk    *float64 `json:"quantityLimitAsk"`
	ShowMidPrice        bool     `json:"showMidPrice"`
	Currency            string   `json:"currency"`
	IsCurrencyConverted bool     `json:"isCurrencyConverted"`
	IsTicking           bool     `json:"isTicking"`
	CalculationDate     string   `json:"calculationDate"`
	ValidUntilDate      string   `json:"validUntilDate"`
}

// Price loads the current certificate quote.
func (w *Wikifolio) Price(ctx context.Context, refresh bool) (*Price, error) {
	err := w.load(ctx, SourcePrice, refresh, func(ctx context.Context) error {
		if err := w.require(ctx, needID); err != nil {
			return err
		}
		var resp priceResponse
		if err := w.client.getJSON(ctx, "api/wikifolio/"+w.ID()+"/price", nil, &resp); err != nil {
			return err
		}
		w.merge(WikifolioData{Price: &Price{
			Ask:                 resp.Ask,
			Bid:                 resp.Bid,
			MidPrice:            resp.MidPrice,
			QuantityLimitBid:    resp.QuantityLimitBid,
			QuantityLimitAsk:    resp.QuantityLimitAsk,
			ShowMidPrice:        resp.ShowMidPrice,
			Currency:            resp.Currency,
			IsCurrencyConverted: resp.IsCurrencyConverted,
			IsTicking:           resp.IsTicking,
			CalculatedAt:        parse.DatePtr(resp.CalculationDate),
			ValidUntil:          parse.DatePtr(resp.ValidUntilDate),
		}}, SourcePrice)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w.Data().Price, nil
}

// analysisFigures maps key figure labels to the field they populate.
var analysisFigures = []struct {
	label string
	set   func(d *WikifolioData, v *float64)
}{
	{"Maximaler Verlust (bisher)", func(d *WikifolioData, v *float64) { d.MaxDrawdown = v }},
	{"52-Wochen-Hoch", func(d *WikifolioData, v *float64) { d.High52Week = v }},
	{"Sharpe Ratio", func(d *WikifolioData, v *float64) { d.SharpeRatio = v }},
	{"Performance seit Beginn", func(d *WikifolioData, v *float64) { d.PerfEver = v }},
	{"Performance seit Emission", func(d *WikifolioData, v *float64) { d.PerfEmission = v }},
	{"Performance seit Jahresbeginn", func(d *WikifolioData, v *float64) { d.PerfYTD = v }},
	{"Ø-Performance pro Jahr", func(d *WikifolioData, v *float64) { d.PerfAnnually = v }},
	{"Performance 1 Jahr", func(d *WikifolioData, v *float64) { d.Perf12m = v }},
	{"Performance 6 Monate", func(d *WikifolioData, v *float64) { d.Perf6m = v }},
	{"Performance 3 Monate", func(d *WikifolioData, v *float64) { d.Perf3m = v }},
	{"Performance 1 Monat", func(d *WikifolioData, v *float64) { d.Perf1m = v }},
	{"Performance Intraday", func(d *WikifolioData, v *float64) { d.PerfIntraday = v }},
}

// Analysis loads the key performance figures.
func (w *Wikifolio) Analysis(ctx context.Context, refresh bool) error {
	return w.load(ctx, SourceAnalysis, refresh, func(ctx context.Context) error {
		if err := w.require(ctx, needID); err != nil {
			return err
		}
		target := "api/wikifolio/" + w.ID() + "/analysis"
		var doc any
		if err := w.client.getJSON(ctx, target, w.client.localeParams(), &doc); err != nil {
			return err
		}
		if _, err := lookup(doc, "$.analysis.keyFigures"); err != nil {
			return &InvalidResponseError{Target: target, Reason: "no key figures", Err: err}
		}
		var update WikifolioData
		for _, f := range analysisFigures {
			f.set(&update, labelledFloat(doc, "$.analysis.keyFigures", "label", f.label, "value"))
		}
		w.merge(update, SourceAnalysis)
		return nil
	})
}

type watchlistToggleResponse struct {
	Success bool `json:"success"`
}

// SetWatchlisted adds the wikifolio to, or removes it from, the logged-in
// user's watchlist and returns the platform's success flag.
func (w *Wikifolio) SetWatchlisted(ctx context.Context, add bool) (bool, error) {
	if err := w.require(ctx, needID); err != nil {
		return false, err
	}
	action := "removewikifoliofromwatchlist"
	if add {
		action = "addwikifoliotowatchlist"
	}
	resp, err := w.client.Do(ctx, Request{
		Method: http.MethodPost,
		Target: "dynamic/en/int/watchlistwikifolio/" + action,
		JSON:   map[string]string{"wikifolioId": w.ID()},
	})
	if err != nil {
		return false, err
	}
	var out watchlistToggleResponse
	if err := resp.Decode(&out); err != nil {
		return false, err
	}
	if out.Success {
		w.merge(WikifolioData{IsWatchlisted: ptr(add)}, "")
	}
	w.client.logger.Info("wikifolio.watchlist_toggled",
		zap.String("wikifolio", w.Name()),
		zap.Bool("add", add),
		zap.Bool("success", out.Success))
	return out.Success, nil
}

// lastSegment returns the final path element of a link, which for wikifolio
// pages is the symbol.
func lastSegment(link string) string {
	if u, err := url.Parse(link); err == nil {
		link = u.Path
	}
	link = strings.TrimSuffix(strings.TrimSpace(link), "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		link = link[i+1:]
	}
	return link
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if parse.IsEmpty(s) {
		return nil
	}
	return &s
}
