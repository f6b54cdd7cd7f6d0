package parse

import (
	"strings"
	"time"
	_ "time/tzdata"
)

// Berlin is the platform's display time zone.
var Berlin = loadBerlin()

func loadBerlin() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.UTC
	}
	return loc
}

var dateLayouts = []struct {
	layout string
	loc    *time.Location
}{
	{"02.01.2006", time.UTC},
	{"02.01.2006 15:04", Berlin},
	{"02.01.2006 15:04:05", Berlin},
	{"20060102T1504", time.UTC},
	{"20060102T150405", time.UTC},
	{time.RFC3339Nano, time.UTC},
	{"2006-01-02T15:04:05", time.UTC},
	{"2006-01-02", time.UTC},
}

// Date parses DD.MM.YYYY (midnight UTC), DD.MM.YYYY HH:MM (Berlin time),
// the compact YYYYMMDDTHHMM form and ISO-8601. Placeholders such as "-" or
// "N/A" are absent, not errors.
func Date(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if IsEmpty(s) {
		return time.Time{}, false
	}
	for _, l := range dateLayouts {
		if t, err := time.ParseInLocation(l.layout, s, l.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DatePtr is Date returning nil for absent or unparseable values.
func DatePtr(s string) *time.Time {
	if t, ok := Date(s); ok {
		return &t
	}
	return nil
}
