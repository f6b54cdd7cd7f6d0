package wikifolio

import (
	"sort"
	"strings"
	"time"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = ""
)

// SideFromString accepts the wire spellings used by the platform and by
// callers ("buy", "Buy", "BuyLimit", "910", ...).
func SideFromString(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "buylimit", "buystop", "910":
		return SideBuy
	case "sell", "selllimit", "sellstop", "920":
		return SideSell
	default:
		return SideUnknown
	}
}

// ToInt returns the quote hub's direction code.
func (s Side) ToInt() int {
	switch s {
	case SideBuy:
		return 910
	case SideSell:
		return 920
	default:
		return 0
	}
}

func (s Side) String() string { return string(s) }

// OrderType is how an order is priced.
type OrderType string

const (
	OrderTypeLimit   OrderType = "limit"
	OrderTypeStop    OrderType = "stop"
	OrderTypeQuote   OrderType = "quote"
	OrderTypeUnknown OrderType = ""
)

// OrderTypeFromString converts a string to OrderType.
func OrderTypeFromString(s string) OrderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limit":
		return OrderTypeLimit
	case "stop", "stoplimit":
		return OrderTypeStop
	case "quote", "market":
		return OrderTypeQuote
	default:
		return OrderTypeUnknown
	}
}

func (t OrderType) String() string { return string(t) }

// SecurityType distinguishes the legs of a grouped order.
type SecurityType string

const (
	SecurityTypeTakeProfit SecurityType = "TakeProfit"
	SecurityTypeStopLoss   SecurityType = "StopLoss"
)

// Identity is what a wikifolio is known by. Either field may be empty.
type Identity struct {
	ID     string `json:"id,omitempty"`
	Symbol string `json:"symbol,omitempty"`
}

// ParseIdentifier turns a user-supplied identifier into an Identity: eight
// characters are a symbol without its "wf" prefix, ten characters are a
// symbol, anything else is an id.
func ParseIdentifier(s string) Identity {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 8:
		return Identity{Symbol: "wf" + s}
	case 10:
		return Identity{Symbol: s}
	default:
		return Identity{ID: s}
	}
}

// key is the registry key for the identity; symbols take precedence.
func (i Identity) key() string {
	if i.Symbol != "" {
		return "symbol:" + i.Symbol
	}
	return "id:" + i.ID
}

// Price is a wikifolio certificate quote.
type Price struct {
	Ask                 *float64   `json:"ask,omitempty"`
	Bid                 *float64   `json:"bid,omitempty"`
	MidPrice            *float64   `json:"midPrice,omitempty"`
	QuantityLimitBid    *float64   `json:"quantityLimitBid,omitempty"`
	QuantityLimitAsk    *float64   `json:"quantityLimitAsk,omitempty"`
	ShowMidPrice        bool       `json:"showMidPrice"`
	Currency            string     `json:"currency,omitempty"`
	IsCurrencyConverted bool       `json:"isCurrencyConverted"`
	IsTicking           bool       `json:"isTicking"`
	CalculatedAt        *time.Time `json:"calculatedAt,omitempty"`
	ValidUntil          *time.Time `json:"validUntil,omitempty"`
}

// Comment is a trader's remark on a wikifolio.
type Comment struct {
	Text string     `json:"text"`
	HTML string     `json:"html,omitempty"`
	Date *time.Time `json:"date,omitempty"`
	Ref  string     `json:"ref,omitempty"`
}

// WikifolioData is the merged view of everything loaded for a wikifolio.
// Unset fields are nil.
type WikifolioData struct {
	ID        *string `json:"id,omitempty"`
	Symbol    *string `json:"symbol,omitempty"`
	ISIN      *string `json:"isin,omitempty"`
	URL       *string `json:"url,omitempty"`
	Title     *string `json:"title,omitempty"`
	Trader    *string `json:"trader,omitempty"`
	TraderID  *string `json:"traderId,omitempty"`
	TraderURL *string `json:"traderUrl,omitempty"`
	Category  *string `json:"category,omitempty"`
	Status    *int    `json:"status,omitempty"`

	Tags           []string  `json:"tags,omitempty"`
	TradeIdea      *string   `json:"tradeIdea,omitempty"`
	DecisionMaking []string  `json:"decisionMaking,omitempty"`
	ChartImageURL  *string   `json:"chartImageUrl,omitempty"`
	Comments       []Comment `json:"comments,omitempty"`

	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`

	IsOwned                  *bool `json:"isOwned,omitempty"`
	IsSuper                  *bool `json:"isSuper,omitempty"`
	IsChallenge              *bool `json:"isChallenge,omitempty"`
	ContainsLeverageProducts *bool `json:"containsLeverageProducts,omitempty"`
	Investable               *bool `json:"investable,omitempty"`
	RealMoney                *bool `json:"realMoney,omitempty"`
	IsWatchlisted            *bool `json:"isWatchlisted,omitempty"`
	IsNotificationSet        *bool `json:"isNotificationSet,omitempty"`

	Rank          *float64 `json:"rank,omitempty"`
	Capital       *float64 `json:"capital,omitempty"`
	IndexLevel    *float64 `json:"indexLevel,omitempty"`
	HighWatermark *float64 `json:"highWatermark,omitempty"`
	Fee           *float64 `json:"fee,omitempty"`
	Liquidation   *float64 `json:"liquidation,omitempty"`
	TradingVolume *float64 `json:"tradingVolume,omitempty"`
	Risk          *float64 `json:"risk,omitempty"`
	AUM           *float64 `json:"aum,omitempty"`
	SharpeRatio   *float64 `json:"sharpeRatio,omitempty"`
	MaxDrawdown   *float64 `json:"maxDrawdown,omitempty"`
	High52Week    *float64 `json:"high52Week,omitempty"`
	ESGScore      *float64 `json:"esgScore,omitempty"`

	PerfEver     *float64 `json:"perfEver,omitempty"`
	PerfEmission *float64 `json:"perfEmission,omitempty"`
	PerfAnnually *float64 `json:"perfAnnually,omitempty"`
	PerfYTD      *float64 `json:"perfYtd,omitempty"`
	Perf60m      *float64 `json:"perf60m,omitempty"`
	Perf36m      *float64 `json:"perf36m,omitempty"`
	Perf52Week   *float64 `json:"perf52Week,omitempty"`
	Perf12m      *float64 `json:"perf12m,omitempty"`
	Perf6m       *float64 `json:"perf6m,omitempty"`
	Perf3m       *float64 `json:"perf3m,omitempty"`
	Perf1m       *float64 `json:"perf1m,omitempty"`
	PerfIntraday *float64 `json:"perfIntraday,omitempty"`
	PerfToday    *float64 `json:"perfToday,omitempty"`
	PerfBuy      *float64 `json:"perfBuy,omitempty"`

	BuyInterest    *float64 `json:"buyInterest,omitempty"`
	Bought30d      *float64 `json:"bought30d,omitempty"`
	TradeVolume30d *float64 `json:"tradeVolume30d,omitempty"`

	Price *Price `json:"price,omitempty"`
}

// UserData is the merged view of a trader profile.
type UserData struct {
	ID           *string    `json:"id,omitempty"`
	Nickname     *string    `json:"nickname,omitempty"`
	Name         *string    `json:"name,omitempty"`
	ProfileURL   *string    `json:"profileUrl,omitempty"`
	SeenAt       *time.Time `json:"seenAt,omitempty"`
	RegisteredAt *time.Time `json:"registeredAt,omitempty"`
	// TopWikifolio is the symbol of the profile's featured wikifolio.
	TopWikifolio *string `json:"topWikifolio,omitempty"`
}

// OrderData is the merged view of a virtual order.
type OrderData struct {
	ID                   *string       `json:"id,omitempty"`
	Group                *string       `json:"group,omitempty"`
	ISIN                 *string       `json:"isin,omitempty"`
	Description          *string       `json:"description,omitempty"`
	Status               *string       `json:"status,omitempty"`
	Side                 *Side         `json:"side,omitempty"`
	OrderType            *OrderType    `json:"orderType,omitempty"`
	SecurityType         *SecurityType `json:"securityType,omitempty"`
	Amount               *int64        `json:"amount,omitempty"`
	LimitPrice           *float64      `json:"limitPrice,omitempty"`
	StopPrice            *float64      `json:"stopPrice,omitempty"`
	TakeProfitLimitPrice *float64      `json:"takeProfitLimitPrice,omitempty"`
	StopLossLimitPrice   *float64      `json:"stopLossLimitPrice,omitempty"`
	StopLossStopPrice    *float64      `json:"stopLossStopPrice,omitempty"`
	ExpiresAt            *time.Time    `json:"expiresAt,omitempty"`
	QuoteID              *string       `json:"quoteId,omitempty"`
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
