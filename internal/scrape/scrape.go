// Package scrape extracts typed values from the platform's rendered pages.
package scrape

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
)

// Scope is a selection that typed lookups are relative to. Numbers are read
// in the format the document was parsed with.
type Scope struct {
	sel    *goquery.Selection
	format parse.Format
}

// Document is the root scope of a parsed page.
type Document struct {
	Scope
}

// Parse parses an HTML page whose numbers are in parse.FormatAuto.
func Parse(html string) (*Document, error) {
	return ParseIn(html, parse.FormatAuto)
}

// ParseIn parses an HTML page whose numbers are in format.
func ParseIn(html string, format parse.Format) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{Scope{sel: doc.Selection, format: format}}, nil
}

func (s Scope) with(sel *goquery.Selection) Scope {
	return Scope{sel: sel, format: s.format}
}

// Find returns the matches of selector below s.
func (s Scope) Find(selector string) Scope {
	return s.with(s.sel.Find(selector))
}

// First narrows s to its first match.
func (s Scope) First() Scope {
	return s.with(s.sel.First())
}

// Last narrows s to its last match.
func (s Scope) Last() Scope {
	return s.with(s.sel.Last())
}

// Each calls fn for every match in document order.
func (s Scope) Each(fn func(i int, item Scope)) {
	s.sel.Each(func(i int, sel *goquery.Selection) {
		fn(i, s.with(sel))
	})
}

// Len is the number of matches.
func (s Scope) Len() int {
	return s.sel.Length()
}

// Exists reports whether selector matches anything below s.
func (s Scope) Exists(selector string) bool {
	return s.sel.Find(selector).Length() > 0
}

// Text is the whitespace-collapsed text of the first match.
func (s Scope) Text() string {
	return collapse(s.sel.First().Text())
}

// RawText is the unmodified text of the first match. Use it for script and
// other raw-text elements, whose content HTML would entity-escape.
func (s Scope) RawText() string {
	return s.sel.First().Text()
}

// HTML is the inner HTML of the first match.
func (s Scope) HTML() string {
	h, err := s.sel.First().Html()
	if err != nil {
		return ""
	}
	return h
}

// Attr returns an attribute of the first match.
func (s Scope) Attr(name string) string {
	v, _ := s.sel.First().Attr(name)
	return v
}

// Data returns the data-* attribute of the first match; name is in
// camelCase as in the DOM dataset ("tradeAmount" reads data-trade-amount).
func (s Scope) Data(name string) string {
	return s.Attr("data-" + kebab(name))
}

// String is the collapsed text of the first element matching selector.
func (s Scope) String(selector string) string {
	return s.Find(selector).Text()
}

// AttrOf returns attr of the first element matching selector.
func (s Scope) AttrOf(selector, attr string) string {
	return s.Find(selector).Attr(attr)
}

// Float parses the text at selector; nil when missing or a placeholder.
func (s Scope) Float(selector string) *float64 {
	return parse.FloatPtrIn(s.String(selector), s.format)
}

// Int parses the text at selector; nil when missing or a placeholder.
func (s Scope) Int(selector string) *int64 {
	return parse.IntPtrIn(s.String(selector), s.format)
}

// Currency parses an amount such as "EUR 1.234,56" at selector.
func (s Scope) Currency(selector string) *float64 {
	return parse.CurrencyPtrIn(s.String(selector), s.format)
}

// Date parses the text at selector.
func (s Scope) Date(selector string) *time.Time {
	return parse.DatePtr(s.String(selector))
}

// Texts returns the collapsed text of every match of selector.
func (s Scope) Texts(selector string) []string {
	var out []string
	s.Find(selector).Each(func(_ int, item Scope) {
		if t := item.Text(); t != "" {
			out = append(out, t)
		}
	})
	return out
}

var spaces = regexp.MustCompile(`\s\s+`)

func collapse(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func kebab(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Match returns the first capture group of re in s, or "".
func Match(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

var jsonScript = regexp.MustCompile(`(?s)<script type="text/json">(.*?)</script>`)

// JSONScripts returns the bodies of every <script type="text/json"> block,
// one per embedded record.
func JSONScripts(html string) [][]byte {
	var out [][]byte
	for _, m := range jsonScript.FindAllStringSubmatch(html, -1) {
		body := strings.TrimSpace(m[1])
		if body != "" {
			out = append(out, []byte(body))
		}
	}
	return out
}
