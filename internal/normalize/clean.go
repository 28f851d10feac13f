package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// CleanText decodes Windows-1251 bytes when s is not valid UTF-8, collapses
// whitespace runs (NBSP included) to one space and trims.
func CleanText(s string) string {
	if !utf8.ValidString(s) {
		if dec, err := charmap.Windows1251.NewDecoder().String(s); err == nil {
			s = dec
		}
	}
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// numericText strips every whitespace rune and turns a decimal comma into
// a point.
func numericText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return strings.ReplaceAll(s, ",", ".")
}

// ParseCount parses a contract count. Unparseable text yields 0; fractional
// values are truncated.
func ParseCount(s string) int64 {
	d, err := decimal.NewFromString(numericText(s))
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// ParseDecimal parses a volume or money cell. Unparseable text is NULL.
func ParseDecimal(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(numericText(s))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
