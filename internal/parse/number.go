// Package parse coerces the display text scraped from wikifolio pages and API
// payloads into typed values.
package parse

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// emptyValues are the texts the platform renders for "no data".
var emptyValues = map[string]struct{}{
	"":    {},
	"-":   {},
	"N/A": {},
}

// IsEmpty reports whether s is one of the platform's "no data" placeholders.
func IsEmpty(s string) bool {
	_, ok := emptyValues[strings.TrimSpace(s)]
	return ok
}

var numberNoise = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"%", "",
	"€", "",
	"+", "",
	"EUR", "",
	"CHF", "",
	"\u2212", "-",
)

// Format selects how decimal and grouping separators are read.
type Format int

const (
	// FormatAuto accepts German ("1.234,56") and English ("1,234.56",
	// "110.50") text. The right-most separator is the decimal mark when both
	// appear; a lone dot followed by exactly three digits ("5.000") is read
	// as a thousands separator, as German pages render it.
	FormatAuto Format = iota
	// FormatInvariant reads a dot as the decimal mark and commas as
	// grouping. Data attributes and price cells use it regardless of the
	// page language.
	FormatInvariant
)

// FormatFor is the format of text rendered for language.
func FormatFor(language string) Format {
	if strings.EqualFold(language, "en") {
		return FormatInvariant
	}
	return FormatAuto
}

// Number parses a display number in FormatAuto.
func Number(s string) (decimal.Decimal, bool) {
	return NumberIn(s, FormatAuto)
}

// NumberIn parses a display number in format f.
func NumberIn(s string, f Format) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if IsEmpty(s) {
		return decimal.Zero, false
	}
	s = numberNoise.Replace(s)
	if s == "" || s == "-" {
		return decimal.Zero, false
	}
	if f == FormatInvariant {
		return toDecimal(strings.ReplaceAll(s, ",", ""))
	}

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0:
		if strings.Count(s, ".") > 1 || isThousandsGroup(s, dot) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	return toDecimal(s)
}

func toDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func isThousandsGroup(s string, dot int) bool {
	head := strings.TrimPrefix(s[:dot], "-")
	tail := s[dot+1:]
	return len(tail) == 3 && head != "" && head != "0"
}

// Float parses a display number into a float64.
func Float(s string) (float64, bool) {
	return FloatIn(s, FormatAuto)
}

// FloatIn is Float in format f.
func FloatIn(s string, f Format) (float64, bool) {
	d, ok := NumberIn(s, f)
	if !ok {
		return math.NaN(), false
	}
	v, _ := d.Float64()
	return v, true
}

// Int parses a display number and truncates it.
func Int(s string) (int64, bool) {
	return IntIn(s, FormatAuto)
}

// IntIn is Int in format f.
func IntIn(s string, f Format) (int64, bool) {
	d, ok := NumberIn(s, f)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// Currency parses an amount such as "EUR 1.234,56".
func Currency(s string) (float64, bool) {
	return CurrencyIn(s, FormatAuto)
}

// CurrencyIn is Currency in format f.
func CurrencyIn(s string, f Format) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "EUR ")
	return FloatIn(s, f)
}

// FloatPtr is Float returning nil for absent values.
func FloatPtr(s string) *float64 {
	return FloatPtrIn(s, FormatAuto)
}

// FloatPtrIn is FloatPtr in format f.
func FloatPtrIn(s string, f Format) *float64 {
	if v, ok := FloatIn(s, f); ok {
		return &v
	}
	return nil
}

// IntPtr is Int returning nil for absent values.
func IntPtr(s string) *int64 {
	return IntPtrIn(s, FormatAuto)
}

// IntPtrIn is IntPtr in format f.
func IntPtrIn(s string, f Format) *int64 {
	if i, ok := IntIn(s, f); ok {
		return &i
	}
	return nil
}

// CurrencyPtr is Currency returning nil for absent values.
func CurrencyPtr(s string) *float64 {
	return CurrencyPtrIn(s, FormatAuto)
}

// CurrencyPtrIn is CurrencyPtr in format f.
func CurrencyPtrIn(s string, f Format) *float64 {
	if v, ok := CurrencyIn(s, f); ok {
		return &v
	}
	return nil
}
