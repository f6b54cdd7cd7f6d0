package wikifolio

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchPage = `<div class="c-search-results">
<script type="text/json">{"wikifolioFullName":"wfmomentum","wikifolioId":"wf-id-1","wikifolioIsin":"DE000LS9ABC1",
"shortDescription":"Momentum Strategy","wikifolioUrl":"/de/de/w/wfmomentum","chartImgUrl":"https://charts.example/wf-id-1.png",
"isWatchlisted":false,"status":3,"mainRankingValue":{"displayValue":"1.234"},
"tags":[{"text":"Aktien"},{"text":""},{"text":"Momentum"}],
"editor":{"name":"Jane Doe | trader1","url":"/de/de/p/trader1"},
"rankingValues":[{"label":"Investiertes Kapital","displayValue":"EUR 1.500.000"},{"label":"Erstellungsdatum","displayValue":"01.02.2020"},
{"label":"Performancegebühr","displayValue":"5,0 %"},{"label":"Performance seit Beginn","displayValue":"+45,3 %"}]}</script>
<script type="text/json">{"wikifolioFullName":"wfvalue001","wikifolioId":"wf-id-2","editor":{"name":"anonymous"}}</script>
<script type="text/json">{"somethingElse":true}</script>
<script type="text/json">not json</script>
</div>`

// ─── Search ──────────────────────────────────────────────────────────────────

func TestClient_SearchMapsRecords(t *testing.T) {
	p := newFakePlatform(t)
	p.html(http.MethodGet, "/dynamic/de/de/wikifoliosearch/search", searchPage)
	clock := newTestClock()
	c := loggedIn(newTestClient(t, p, func(o *Options) { o.Now = clock.Now }))

	results, err := c.Search(context.Background(), SearchParams{Query: "momentum", SortBy: "perfever"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	w := results[0]
	assert.Same(t, w, c.Wikifolio("wfmomentum"))
	assert.Same(t, w, c.Wikifolio("wf-id-1"))
	d := w.Data()
	assert.Equal(t, "DE000LS9ABC1", *d.ISIN)
	assert.Equal(t, "Momentum Strategy", *d.Title)
	assert.Equal(t, []string{"Aktien", "Momentum"}, d.Tags)
	assert.Equal(t, 3, *d.Status)
	assert.Equal(t, 1234.0, *d.Rank)
	assert.Equal(t, 1500000.0, *d.Capital)
	assert.Equal(t, 5.0, *d.Fee)
	assert.InDelta(t, 45.3, *d.PerfEver, 1e-9)
	assert.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), *d.CreatedAt)
	assert.Equal(t, "trader1", *d.Trader)
	assert.Equal(t, p.URL()+"de/de/w/wfmomentum", *d.URL)
	assert.True(t, w.HasSource(SourceSearch))

	u := w.User()
	require.NotNil(t, u)
	assert.Equal(t, "Jane Doe", *u.Data().Name)

	assert.Nil(t, results[1].Data().Trader, "editor without nickname")

	q := p.request(http.MethodGet, "/dynamic/de/de/wikifoliosearch/search").URL.Query()
	assert.Equal(t, "momentum", q.Get("query"))
	assert.Equal(t, "perfever", q.Get("sortBy"))
	assert.Equal(t, DefaultSearchTags, q["tags"])
	assert.Equal(t, "true", q.Get("media"))
	assert.Equal(t, "1711022400000", q.Get("_"))
	assert.False(t, q.Has("investable"), "false flags are dropped")
	assert.False(t, q.Has("startValue"), "zero offset is dropped")
}

func TestSearchParams_FlagsAndRanges(t *testing.T) {
	no, yes := false, true
	q := SearchParams{
		Tags:       []string{"etf"},
		Super:      &no,
		Investable: &yes,
		StartValue: 20,
		Ranges:     map[string]string{"perfever": "10;50", "aum": "1000;"},
	}.query(1)

	v, ok := q.Get("super")
	require.True(t, ok)
	assert.Equal(t, false, v)
	v, _ = q.Get("investable")
	assert.Equal(t, true, v)
	v, _ = q.Get("perfever")
	assert.Equal(t, "10;50", v)
	v, _ = q.Get("tags")
	assert.Equal(t, []string{"etf"}, v)
}

func TestSplitEditor(t *testing.T) {
	name, nick, ok := splitEditor("Jane Doe | trader1")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", name)
	assert.Equal(t, "trader1", nick)

	_, _, ok = splitEditor("trader1")
	assert.False(t, ok)
	_, _, ok = splitEditor("Jane | ")
	assert.False(t, ok)
}

// ─── Watchlist ───────────────────────────────────────────────────────────────

const watchlistPage = `<html><body>
<script type="text/json">{"searchResults":[
 {"wikifolioUrl":"/de/de/w/wfmomentum","wikifolioId":"wf-id-1","shortDescription":"Momentum Strategy",
  "rankings":[{"identifier":"perfever","displayValue":"+45,3 %"},{"identifier":"aum","displayValue":"EUR 1.500.000"},
              {"identifier":"newestwiki","displayValue":"01.02.2020"},{"identifier":"esgScore","displayValue":"-"},
              {"identifier":"sharperatio","displayValue":"1,25"}],
  "rankingValues":[{"label":"Performancegebühr","displayValue":"10 %"}]},
 {"wikifolioUrl":"","wikifolioId":""}
]}</script>
</body></html>`

func TestClient_WatchlistMarksEntries(t *testing.T) {
	p := newFakePlatform(t)
	p.html(http.MethodGet, "/de/de/watchlist/bearbeiten", watchlistPage)
	c := loggedIn(newTestClient(t, p))

	list, err := c.Watchlist(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	d := list[0].Data()
	assert.Equal(t, "wfmomentum", *d.Symbol)
	assert.True(t, *d.IsWatchlisted)
	assert.InDelta(t, 45.3, *d.PerfEver, 1e-9)
	assert.Equal(t, 1500000.0, *d.Capital)
	assert.Equal(t, 1.25, *d.SharpeRatio)
	assert.Equal(t, 10.0, *d.Fee)
	assert.Nil(t, d.ESGScore)
	assert.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), *d.CreatedAt)
	assert.True(t, list[0].HasSource(SourceWatch))
}

func TestClient_WatchlistUsesEnglishPage(t *testing.T) {
	p := newFakePlatform(t)
	p.html(http.MethodGet, "/en/int/watchlist/edit", `<script type="text/json">{"searchResults":[]}</script>`)
	c := loggedIn(newTestClient(t, p, func(o *Options) {
		o.Language = "en"
		o.Country = "int"
	}))

	list, err := c.Watchlist(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestClient_WatchlistWithoutData(t *testing.T) {
	p := newFakePlatform(t)
	p.html(http.MethodGet, "/de/de/watchlist/bearbeiten", `<html><body></body></html>`)
	c := loggedIn(newTestClient(t, p))

	_, err := c.Watchlist(context.Background())
	var invalid *InvalidResponseError
	require.ErrorAs(t, err, &invalid)
}
