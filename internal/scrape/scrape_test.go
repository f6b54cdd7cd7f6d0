package scrape

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
)

const page = `<html><body>
<h1 class="c-wf-head__title-text">
   Dividend   Champions
</h1>
<div class="c-certificate__item--capital"><span class="c-certificate__item-value">EUR 1.234.567,89</span></div>
<ul>
  <li class="c-masterdata__item"><span class="c-masterdata__item-value">DE000LS9ABC1</span></li>
  <li class="c-masterdata__item"><span class="c-masterdata__item-value">21.03.2024</span></li>
  <li class="c-masterdata__item"><span class="c-masterdata__item-value">-</span></li>
</ul>
<span class="c-risk-factor">5,2</span>
<a class="gtm-profile-link" href="/de/de/p/trader1">trader1</a>
<button class="js-edit-trade-button" data-trade-amount="10" data-order-buysell="buy"></button>
<div class="c-wfdecision__item">Technische Analyse</div>
<div class="c-wfdecision__item"> Fundamentalanalyse </div>
<script type="text/json">{"a":1}</script>
<script type="text/json">
{"a":2}
</script>
</body></html>`

func TestScope_TypedLookups(t *testing.T) {
	doc, err := Parse(page)
	require.NoError(t, err)

	assert.Equal(t, "Dividend Champions", doc.String(".c-wf-head__title-text"))
	assert.Equal(t, "/de/de/p/trader1", doc.AttrOf(".gtm-profile-link", "href"))

	capital := doc.Currency(".c-certificate__item--capital .c-certificate__item-value")
	require.NotNil(t, capital)
	assert.InDelta(t, 1234567.89, *capital, 1e-6)

	created := doc.Date(".c-masterdata__item:nth-child(2) .c-masterdata__item-value")
	require.NotNil(t, created)
	assert.Equal(t, time.Date(2024, 3, 21, 0, 0, 0, 0, time.UTC), *created)

	assert.Nil(t, doc.Float(".c-masterdata__item:nth-child(3) .c-masterdata__item-value"), "placeholder is absent")
	assert.Nil(t, doc.Float(".does-not-exist"))

	risk := doc.Float(".c-risk-factor")
	require.NotNil(t, risk)
	assert.InDelta(t, 5.2, *risk, 1e-9)

	assert.Equal(t, []string{"Technische Analyse", "Fundamentalanalyse"}, doc.Texts(".c-wfdecision__item"))
	assert.True(t, doc.Exists(".c-risk-factor"))
	assert.False(t, doc.Exists(".js-remove-from-watchlist"))
}

func TestScope_Dataset(t *testing.T) {
	doc, err := Parse(page)
	require.NoError(t, err)

	btn := doc.Find(".js-edit-trade-button")
	assert.Equal(t, "10", btn.Data("tradeAmount"))
	assert.Equal(t, "buy", btn.Data("orderBuysell"))
	assert.Equal(t, "", btn.Data("limit"))
}

func TestParseIn_FormatReachesNestedScopes(t *testing.T) {
	const rows = `<ul><li><span class="v">12.345</span></li><li><span class="v">1,5</span></li></ul>`

	auto, err := Parse(rows)
	require.NoError(t, err)
	assert.Equal(t, 12345.0, *auto.Find("li").First().Float(".v"))

	en, err := ParseIn(rows, parse.FormatInvariant)
	require.NoError(t, err)
	var got []float64
	en.Find("li").Each(func(_ int, item Scope) {
		got = append(got, *item.Float(".v"))
	})
	assert.Equal(t, []float64{12.345, 15}, got)
}

func TestJSONScripts(t *testing.T) {
	blocks := JSONScripts(page)
	require.Len(t, blocks, 2)
	assert.JSONEq(t, `{"a":1}`, string(blocks[0]))
	assert.JSONEq(t, `{"a":2}`, string(blocks[1]))
}

func TestMatch(t *testing.T) {
	re := regexp.MustCompile(`Erstemission</td>\s*<td>([0-9.]{10})`)
	assert.Equal(t, "01.02.2020", Match(re, "<td>Erstemission</td> <td>01.02.2020</td>"))
	assert.Equal(t, "", Match(re, "nothing"))
}

func TestKebab(t *testing.T) {
	assert.Equal(t, "trade-amount", kebab("tradeAmount"))
	assert.Equal(t, "sl-limit", kebab("slLimit"))
	assert.Equal(t, "group", kebab("group"))
}

func TestScope_RawTextKeepsScriptQuotes(t *testing.T) {
	doc, err := Parse(`<html><body><script>wikifolio.data = {"wikifolioId": "abc"};</script></body></html>`)
	require.NoError(t, err)

	script := doc.Find("body script").Last()
	assert.Equal(t, `wikifolio.data = {"wikifolioId": "abc"};`, script.RawText())
	assert.NotContains(t, script.HTML(), `"wikifolioId"`, "inner html escapes quotes")
}
