package parse

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Encoding selects which parts of a query pair are percent-encoded.
type Encoding int

const (
	EncodeAll Encoding = iota
	EncodeNone
	EncodeKeys
	EncodeValues
)

// ArrayFormat selects how slice values are written.
type ArrayFormat int

const (
	// ArrayRepeat writes tags=a&tags=b.
	ArrayRepeat ArrayFormat = iota
	// ArrayComma writes tags=a,b.
	ArrayComma
)

// Params is an ordered set of query parameters. Values keep the order in
// which their key was first set.
type Params struct {
	keys   []string
	values map[string]any
}

// NewParams builds Params from alternating key/value pairs.
func NewParams(kv ...any) *Params {
	p := &Params{values: make(map[string]any)}
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return p
}

// Set assigns key. Re-setting a key keeps its original position.
func (p *Params) Set(key string, value any) *Params {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the raw value for key.
func (p *Params) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Merge sets every pair of other onto p, other winning.
func (p *Params) Merge(other *Params) *Params {
	if other == nil {
		return p
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
	return p
}

// QueryOptions controls Encode.
type QueryOptions struct {
	Prefix   string
	Encoding Encoding
	Arrays   ArrayFormat
}

// Encode renders the parameters. Keys whose value is falsy (nil, false, 0,
// NaN, "", empty slice, zero time) are omitted entirely, so page=0 never
// reaches the wire. The prefix is only written when at least one pair is.
func (p *Params) Encode(opts QueryOptions) string {
	if p == nil {
		return ""
	}
	var pairs []string
	for _, k := range p.keys {
		v := p.values[k]
		if Falsy(v) {
			continue
		}
		key := k
		if opts.Encoding == EncodeAll || opts.Encoding == EncodeKeys {
			key = EscapeComponent(k)
		}
		encVal := func(s string) string {
			if opts.Encoding == EncodeAll || opts.Encoding == EncodeValues {
				return EscapeComponent(s)
			}
			return s
		}

		if items, ok := sliceItems(v); ok {
			if opts.Arrays == ArrayComma {
				pairs = append(pairs, key+"="+encVal(strings.Join(items, ",")))
				continue
			}
			for _, item := range items {
				pairs = append(pairs, key+"="+encVal(item))
			}
			continue
		}
		pairs = append(pairs, key+"="+encVal(formatValue(v)))
	}
	if len(pairs) == 0 {
		return ""
	}
	return opts.Prefix + strings.Join(pairs, "&")
}

// QueryString encodes p with a leading "?", everything encoded and arrays
// repeated.
func QueryString(p *Params) string {
	return p.Encode(QueryOptions{Prefix: "?"})
}

// Falsy reports whether v would be dropped from a query string.
func Falsy(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case bool:
		return !t
	case interface{ IsZero() bool }:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return true
		}
		return t.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f == 0 || math.IsNaN(f)
	case reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return Falsy(rv.Elem().Interface())
	}
	return false
}

func sliceItems(v any) ([]string, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		if Falsy(item) {
			continue
		}
		items = append(items, formatValue(item))
	}
	return items, true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return formatValue(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

// EscapeComponent percent-encodes everything except the characters a browser
// leaves alone in a URI component: A-Z a-z 0-9 - _ . ! ~ * ' ( ).
// Unlike url.QueryEscape a space becomes %20, not +.
func EscapeComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreservedComponent(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

func unreservedComponent(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}
