package dataset

import (
	"math"
	"strconv"
	"strings"
)

// NumberFormat controls how numeric cells are parsed. TAPR exports use '.'
// for decimals and ',' for thousands.
type NumberFormat struct {
	DecimalSeparator   rune
	ThousandsSeparator rune
}

// DefaultNumberFormat returns the US format used by TEA files.
func DefaultNumberFormat() NumberFormat {
	return NumberFormat{DecimalSeparator: '.', ThousandsSeparator: ','}
}

// missingTokens are cell values TEA uses for suppressed or unavailable data.
var missingTokens = map[string]bool{
	"":     true,
	".":    true,
	"-":    true,
	"NA":   true,
	"N/A":  true,
	"NAN":  true,
	"NULL": true,
	"?":    true,
}

// IsMissing reports whether a raw cell is a missing-value marker.
func IsMissing(s string) bool {
	return missingTokens[strings.ToUpper(strings.TrimSpace(s))]
}

// ParseNumber parses a raw cell into a float. Percent signs, non-breaking
// spaces and thousands separators are stripped. Missing markers and text
// return false.
func ParseNumber(s string, f NumberFormat) (float64, bool) {
	if IsMissing(s) {
		return 0, false
	}
	raw := strings.TrimSpace(s)
	raw = strings.ReplaceAll(raw, "%", "")
	raw = strings.ReplaceAll(raw, "\u00A0", " ")
	raw = strings.TrimSpace(raw)
	dec := f.DecimalSeparator
	if dec == 0 {
		dec = '.'
	}
	thou := f.ThousandsSeparator
	if thou == 0 {
		for _, sep := range []rune{',', '.', ' '} {
			if sep != dec {
				raw = strings.ReplaceAll(raw, string(sep), "")
			}
		}
	} else if thou != dec {
		raw = strings.ReplaceAll(raw, string(thou), "")
		raw = strings.ReplaceAll(raw, " ", "")
	}
	if dec != '.' {
		raw = strings.ReplaceAll(raw, string(dec), ".")
	}
	x, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}

// NormalizeID canonicalizes a district id: whitespace and a leading
// apostrophe are trimmed, and integer ids lose their leading zeros so that
// "'001902" and "1902" name the same district.
func NormalizeID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "'")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil && x == math.Trunc(x) && math.Abs(x) < 1e15 {
		return strconv.FormatInt(int64(x), 10)
	}
	return s
}
