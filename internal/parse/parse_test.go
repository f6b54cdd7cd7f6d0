package parse

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"110.50", 110.5},
		{"111.00", 111},
		{"1.234,56", 1234.56},
		{"1,234.56", 1234.56},
		{"12,5 %", 12.5},
		{"+3,21%", 3.21},
		{"-7,85 %", -7.85},
		{"5.000", 5000},
		{"0.123", 0.123},
		{"1.234.567", 1234567},
		{"EUR 2.500,00", 2500},
		{"42", 42},
		{" 1 234,5 ", 1234.5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Float(tt.in)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestNumberIn_Invariant(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12.345", 12.345},
		{"110.50", 110.5},
		{"1,234.5", 1234.5},
		{"5", 5},
		{"-0.75", -0.75},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := FloatIn(tt.in, FormatInvariant)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
	assert.Nil(t, FloatPtrIn("N/A", FormatInvariant))
	assert.Equal(t, int64(1234), *IntPtrIn("1,234", FormatInvariant))
	assert.InDelta(t, 1234.5, *CurrencyPtrIn("EUR 1,234.50", FormatInvariant), 1e-9)
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatInvariant, FormatFor("en"))
	assert.Equal(t, FormatAuto, FormatFor("de"))
	assert.Equal(t, FormatAuto, FormatFor(""))

	// the same text differs only where three digits follow a lone dot
	de, _ := FloatIn("12.345", FormatFor("de"))
	en, _ := FloatIn("12.345", FormatFor("en"))
	assert.Equal(t, 12345.0, de)
	assert.Equal(t, 12.345, en)
}

func TestNumber_Placeholders(t *testing.T) {
	for _, in := range []string{"", "-", "N/A", "  ", "abc"} {
		_, ok := Number(in)
		assert.False(t, ok, "input %q", in)
		f, ok := Float(in)
		assert.False(t, ok)
		assert.True(t, math.IsNaN(f))
		assert.Nil(t, FloatPtr(in))
	}
}

func TestNumber_Decimal(t *testing.T) {
	d, ok := Number("1.234,56")
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("1234.56")))
}

func TestInt(t *testing.T) {
	i, ok := Int("1.000")
	require.True(t, ok)
	assert.EqualValues(t, 1000, i)

	i, ok = Int("12,9")
	require.True(t, ok)
	assert.EqualValues(t, 12, i)

	assert.Nil(t, IntPtr("-"))
}

func TestCurrency(t *testing.T) {
	f, ok := Currency("EUR 1.234.567,89")
	require.True(t, ok)
	assert.InDelta(t, 1234567.89, f, 1e-6)
	assert.Nil(t, CurrencyPtr("N/A"))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty(" - "))
	assert.True(t, IsEmpty("N/A"))
	assert.False(t, IsEmpty("0"))
}

// ─── Dates ────────────────────────────────────────────────────────────────────

func TestDate_GermanDay(t *testing.T) {
	d, ok := Date("21.03.2024")
	require.True(t, ok)
	assert.Equal(t, 21, d.Day())
	assert.Equal(t, time.March, d.Month())
	assert.Equal(t, 2, int(d.Month())-1, "zero-indexed month")
	assert.Equal(t, 2024, d.Year())
}

func TestDate_Placeholders(t *testing.T) {
	for _, in := range []string{"-", "N/A", ""} {
		_, ok := Date(in)
		assert.False(t, ok, "input %q", in)
		assert.Nil(t, DatePtr(in))
	}
}

func TestDate_Compact(t *testing.T) {
	d, ok := Date("20240321T0930")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 21, 9, 30, 0, 0, time.UTC), d)
}

func TestDate_WithTimeIsBerlin(t *testing.T) {
	d, ok := Date("21.03.2024  14:05")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 21, 13, 5, 0, 0, time.UTC), d.UTC())
}

func TestDate_ISO(t *testing.T) {
	d, ok := Date("2024-03-21T09:30:00Z")
	require.True(t, ok)
	assert.Equal(t, 9, d.Hour())

	d, ok = Date("2024-03-21T09:30:00")
	require.True(t, ok)
	assert.Equal(t, 30, d.Minute())
}

func TestDate_Garbage(t *testing.T) {
	_, ok := Date("yesterday")
	assert.False(t, ok)
}

// ─── Query strings ────────────────────────────────────────────────────────────

func TestEncode_ZeroPageIsDropped(t *testing.T) {
	p := NewParams("page", 0, "pageSize", 50, "tags", []string{"a", "b"})
	assert.Equal(t, "?pageSize=50&tags=a&tags=b", p.Encode(QueryOptions{Prefix: "?", Encoding: EncodeNone}))
}

func TestEncode_FalsyValues(t *testing.T) {
	var nilPtr *int
	p := NewParams(
		"a", "",
		"b", false,
		"c", nil,
		"d", 0.0,
		"e", math.NaN(),
		"f", []string{},
		"g", time.Time{},
		"h", nilPtr,
		"keep", true,
	)
	assert.Equal(t, "?keep=true", QueryString(p))
}

func TestEncode_AllFalsyHasNoPrefix(t *testing.T) {
	p := NewParams("page", 0)
	assert.Equal(t, "", QueryString(p))
	assert.Equal(t, "", (*Params)(nil).Encode(QueryOptions{Prefix: "?"}))
}

func TestEncode_CommaArrays(t *testing.T) {
	p := NewParams("tags", []string{"aktde", "etf"})
	assert.Equal(t, "tags=aktde%2Cetf", p.Encode(QueryOptions{Arrays: ArrayComma}))
	assert.Equal(t, "tags=aktde,etf", p.Encode(QueryOptions{Arrays: ArrayComma, Encoding: EncodeKeys}))
}

func TestEncode_Modes(t *testing.T) {
	p := NewParams("sort by", "a b")
	assert.Equal(t, "sort by=a b", p.Encode(QueryOptions{Encoding: EncodeNone}))
	assert.Equal(t, "sort%20by=a b", p.Encode(QueryOptions{Encoding: EncodeKeys}))
	assert.Equal(t, "sort by=a%20b", p.Encode(QueryOptions{Encoding: EncodeValues}))
	assert.Equal(t, "sort%20by=a%20b", p.Encode(QueryOptions{Encoding: EncodeAll}))
}

func TestParams_SetKeepsOrderAndMergeOverrides(t *testing.T) {
	p := NewParams("page", 0, "pageSize", 50, "country", "de")
	p.Merge(NewParams("page", 2, "language", "de"))
	assert.Equal(t, "?page=2&pageSize=50&country=de&language=de", QueryString(p))

	v, ok := p.Get("page")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestEscapeComponent(t *testing.T) {
	assert.Equal(t, `%5B%7B%22name%22%3A%22livehub%22%7D%5D`, EscapeComponent(`[{"name":"livehub"}]`))
	assert.Equal(t, "a-b_c.d!e~f*g'h(i)", EscapeComponent("a-b_c.d!e~f*g'h(i)"))
	assert.Equal(t, "%C3%BC", EscapeComponent("ü"))
}
