package wikifolio

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
	"github.com/Checker-Finance/wikifolio-adapter/internal/scrape"
)

// User is a trader profile, keyed by nickname.
type User struct {
	entity
	client *Client
	data   UserData

	watchlist []string
}

// User returns the shared instance for nickname. No request is made.
func (c *Client) User(nickname string) *User {
	return c.users.InstanceOf(nickname, func() *User {
		u := &User{client: c, data: UserData{Nickname: nonEmpty(nickname)}}
		u.init("user")
		return u
	})
}

// Data returns a snapshot of the loaded fields.
func (u *User) Data() UserData {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.data
}

// Nickname returns the profile nickname.
func (u *User) Nickname() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return deref(u.data.Nickname)
}

// Watchlist returns the ids of wikifolios the user watches, as last loaded
// by Wikifolios.
func (u *User) Watchlist() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]string(nil), u.watchlist...)
}

func (u *User) merge(update UserData, tag string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	apply(&u.data, &update)
	u.markLocked(tag)
}

func (u *User) requireNickname() (string, error) {
	nick := u.Nickname()
	if nick == "" {
		return "", &MissingIdentifierError{Kind: "user", Field: "nickname"}
	}
	return nick, nil
}

type globalData struct {
	GtmData struct {
		UserGtmID string `json:"userGtmId"`
	} `json:"gtmData"`
}

// Details scrapes the profile page.
func (u *User) Details(ctx context.Context, refresh bool) error {
	return u.load(ctx, SourceDetails, refresh, func(ctx context.Context) error {
		nick, err := u.requireNickname()
		if err != nil {
			return err
		}
		target := u.client.Locale() + "/p/" + nick
		html, err := u.client.getHTML(ctx, target, nil)
		if err != nil {
			return err
		}
		doc, err := scrape.ParseIn(html, u.client.numberFormat())
		if err != nil {
			return &InvalidResponseError{Target: target, Err: err}
		}

		var global globalData
		if raw := strings.TrimSpace(doc.Find("#global-data").RawText()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &global); err != nil {
				return &InvalidResponseError{Target: target, Reason: "global data", Err: err}
			}
		}

		update := UserData{
			ID:           nonEmpty(global.GtmData.UserGtmID),
			Nickname:     nonEmpty(doc.String(".c-trader-name__text")),
			Name:         nonEmpty(doc.String(".c-trader-profile__fullname")),
			ProfileURL:   ptr(u.client.Absolute(target)),
			SeenAt:       doc.Date(".c-trader-profile__trader-info-item:nth-child(2) .u-fw-sb"),
			RegisteredAt: doc.Date(".c-trader-profile__trader-info-item:nth-child(3) .u-fw-sb"),
		}

		card := doc.Find(".c-wikifolio-card__card-url").First()
		if href := card.Attr("href"); href != "" {
			symbol := lastSegment(href)
			top := u.client.Wikifolio(symbol)
			top.merge(WikifolioData{
				Title:    nonEmpty(card.String(".c-icon-name__text")),
				PerfEver: card.Float(".c-ranking-item__value"),
				Perf12m:  card.Float(".c-ranking-item:nth-child(2) .c-ranking-item__value"),
				Trader:   ptr(nick),
			}, "user.details")
			update.TopWikifolio = nonEmpty(top.Symbol())
		}

		u.merge(update, SourceDetails)
		return nil
	})
}

// TopWikifolio returns the profile's featured wikifolio once details have
// been loaded.
func (u *User) TopWikifolio() *Wikifolio {
	u.mu.RLock()
	symbol := deref(u.data.TopWikifolio)
	u.mu.RUnlock()
	if symbol == "" {
		return nil
	}
	return u.client.Wikifolio(symbol)
}

type profileWikifoliosResponse struct {
	GroupedWikifolioCards map[string]struct {
		WikifolioResults []struct {
			WikifolioLink string `json:"wikifolioLink"`
			ID            string `json:"id"`
		} `json:"wikifolioResults"`
	} `json:"groupedWikifolioCards"`
	WikifoliosWatchlistedByUser []json.RawMessage `json:"wikifoliosWatchlistedByUser"`
}

// Wikifolios lists every wikifolio on the profile, tagging each with the
// group it was listed under, and refreshes the user's watchlist.
func (u *User) Wikifolios(ctx context.Context) ([]*Wikifolio, error) {
	nick, err := u.requireNickname()
	if err != nil {
		return nil, err
	}
	var resp profileWikifoliosResponse
	query := parse.NewParams("loadAllWikis", true)
	if err := u.client.getJSON(ctx, "api/profile/"+nick+"/wikifolios", query, &resp); err != nil {
		return nil, err
	}

	watchlist := make([]string, 0, len(resp.WikifoliosWatchlistedByUser))
	for _, raw := range resp.WikifoliosWatchlistedByUser {
		if id := watchlistEntryID(raw); id != "" {
			watchlist = append(watchlist, id)
		}
	}
	u.mu.Lock()
	u.watchlist = watchlist
	u.mu.Unlock()

	categories := make([]string, 0, len(resp.GroupedWikifolioCards))
	for k := range resp.GroupedWikifolioCards {
		categories = append(categories, k)
	}
	sort.Strings(categories)

	var out []*Wikifolio
	for _, category := range categories {
		for _, card := range resp.GroupedWikifolioCards[category].WikifolioResults {
			symbol := lastSegment(card.WikifolioLink)
			w := u.client.WikifolioByIdentity(Identity{ID: card.ID, Symbol: symbol})
			w.merge(WikifolioData{
				Category: ptr(category),
				Trader:   ptr(nick),
				URL:      nonEmpty(u.client.Absolute(card.WikifolioLink)),
			}, SourceUser)
			out = append(out, w)
		}
	}
	return out, nil
}

// watchlistEntryID accepts either a bare id or an object carrying one.
func watchlistEntryID(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		ID          string `json:"id"`
		WikifolioID string `json:"wikifolioId"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.ID != "" {
			return obj.ID
		}
		return obj.WikifolioID
	}
	return ""
}
