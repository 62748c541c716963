package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"property-sync/models"
)

// leadingNumber matches the longest decimal literal at the start of a string.
var leadingNumber = regexp.MustCompile(`^[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)

// String returns the first non-empty value found under any of the aliases,
// tried in order, or "" when none match.
func String(row models.RawRow, aliases ...string) string {
	v, _ := lookup(row, aliases)
	return v
}

// Number resolves the first non-empty alias and parses it as a number after
// removing currency symbols, thousands separators and whitespace.
//
// The first non-empty alias wins even when its value is not numeric: in
// that case the result is 0 and later aliases are not consulted.
func Number(row models.RawRow, aliases ...string) float64 {
	v, ok := lookup(row, aliases)
	if !ok {
		return 0
	}
	n, ok := ParseNumber(v)
	if !ok {
		return 0
	}
	return n
}

// OptionalNumber is Number for fields where absence must stay distinguishable
// from zero, such as coordinates. It returns nil when no alias matches or the
// value does not parse.
func OptionalNumber(row models.RawRow, aliases ...string) *float64 {
	v, ok := lookup(row, aliases)
	if !ok {
		return nil
	}
	n, ok := ParseNumber(v)
	if !ok {
		return nil
	}
	return &n
}

// ParseNumber cleans a raw cell and parses its leading decimal literal.
// NaN and infinities are rejected.
func ParseNumber(raw string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, raw)

	match := leadingNumber.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func lookup(row models.RawRow, aliases []string) (string, bool) {
	for _, key := range aliases {
		if v := strings.TrimSpace(row[key]); v != "" {
			return v, true
		}
	}
	return "", false
}
