// Package normalize turns raw textual cell values into canonical strings
// before the field converter runs: scientific-notation identifiers are
// expanded to plain digits, trailing ".0" tails are dropped, and
// locale-variant two-digit-year dates are unified. Normalization is
// stateless: the same (kind, raw) pair always yields the same output.
package normalize

import (
	"math/big"
	"regexp"
	"strings"
)

// TwoDigitYearPivot is the expansion cutoff: two-digit years <= this value
// expand to 20YY, greater values expand to 19YY.
const TwoDigitYearPivot = 30

var (
	scientificNotationRE  = regexp.MustCompile(`^-?\d+(\.\d+)?[eE][+-]?\d+$`)
	trailingZeroDecimalRE = regexp.MustCompile(`^\d+\.0+$`)
	excelSerialDateRE     = regexp.MustCompile(`^\d+(\.\d+)?$`)
	usDateRE              = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2})$`)
	euDateRE              = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{2})$`)
)

// Kind carries the two field-shape flags the normalizer consults from the
// field descriptor.
type Kind struct {
	IsIdentifier bool
	IsDate       bool
}

// Cell applies the normalization rules in order, stopping at the first
// match.
func Cell(raw string, kind Kind) string {
	if kind.IsIdentifier {
		if s, ok := identifierScientific(raw); ok {
			return s
		}
		if trailingZeroDecimalRE.MatchString(raw) {
			return strings.TrimSuffix(strings.TrimRight(raw, "0"), ".")
		}
	}

	if kind.IsDate {
		if isExcelSerial(raw) {
			return raw
		}
		if m := usDateRE.FindStringSubmatch(raw); m != nil {
			year := expandYear(m[3])
			return m[1] + "/" + m[2] + "/" + year
		}
		if m := euDateRE.FindStringSubmatch(raw); m != nil {
			// Input is day-month-year with dash separators; day/month order
			// is kept, only the separator changes and the year expands.
			year := expandYear(m[3])
			return m[1] + "/" + m[2] + "/" + year
		}
	}

	return raw
}

// identifierScientific handles the E/e-notation rule: parse as a big
// decimal and emit plain-notation digits, trimming a trailing ".0".
func identifierScientific(raw string) (string, bool) {
	if !strings.ContainsAny(raw, "Ee") {
		return "", false
	}
	if !scientificNotationRE.MatchString(raw) {
		return "", false
	}
	f := new(big.Float)
	f.SetPrec(200)
	if _, ok := f.SetString(raw); !ok {
		return "", false
	}
	text := f.Text('f', -1)
	text = strings.TrimSuffix(text, ".0")
	return text, true
}

// isExcelSerial matches an all-digit (optionally fractional) value whose
// integer part falls in [1, 3000000] — a plausible Excel serial date,
// passed through as-is for downstream resolution.
func isExcelSerial(raw string) bool {
	if !excelSerialDateRE.MatchString(raw) {
		return false
	}
	intPart := raw
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		intPart = raw[:i]
	}
	if len(intPart) == 0 || len(intPart) > 7 {
		return false
	}
	n := 0
	for _, c := range intPart {
		n = n*10 + int(c-'0')
		if n > 3000000 {
			return false
		}
	}
	return n >= 1
}

// expandYear expands a two-digit year string around the pivot.
func expandYear(twoDigit string) string {
	n := 0
	for _, c := range twoDigit {
		n = n*10 + int(c-'0')
	}
	if n <= TwoDigitYearPivot {
		return "20" + twoDigit
	}
	return "19" + twoDigit
}
