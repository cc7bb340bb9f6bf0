package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// maxPrice is the first value that no longer fits NUMERIC(10,2).
var maxPrice = decimal.New(1, 8)

var priceDigits = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParsePrice normalizes listing price text into a two-place decimal.
//
// The currency marker (currency, then any trailing letters or currency
// symbols) is stripped, every whitespace rune is removed (thin and
// non-breaking spaces act as thousands separators), and a decimal comma
// becomes a point. "1 234,50 BYN" parses as 1234.50.
func ParsePrice(text, currency string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	if currency != "" {
		s = strings.TrimSuffix(s, currency)
	}
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) || r == '.'
	})
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, ",", ".")

	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: no digits in %q", ErrPriceFormat, text)
	}
	if !priceDigits.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrPriceFormat, text)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrPriceFormat, text, err)
	}
	d = d.Round(2)
	if d.GreaterThanOrEqual(maxPrice) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q out of range", ErrPriceFormat, text)
	}
	return d, nil
}
