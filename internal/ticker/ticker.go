// Package ticker handles stock ticker validation and symbol re-mapping
// between market-data providers.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidTicker is returned for symbols failing the basic format check.
var ErrInvalidTicker = errors.New("ticker: invalid ticker format")

// symbolRegex matches a well-formed ticker: 1-10 characters, no whitespace.
// Index symbols keep their caret prefix (^RUT) and class shares their dot
// (BRK.B), so the check is deliberately loose beyond length and whitespace.
var symbolRegex = regexp.MustCompile(`^\S{1,10}$`)

// Normalize upper-cases and validates a ticker symbol.
func Normalize(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (want 1-10 characters, no whitespace)", ErrInvalidTicker, symbol)
	}
	return s, nil
}

// Valid reports whether the symbol passes the format check.
func Valid(symbol string) bool {
	_, err := Normalize(symbol)
	return err == nil
}

// SecondarySymbol maps a primary-provider ticker to the secondary CSV
// provider's convention: lower case, plain U.S. equities suffixed ".us",
// index carets dropped. Example: AAPL → aapl.us, ^RUT → rut.
func SecondarySymbol(symbol string) string {
	s := strings.ToLower(symbol)
	if strings.HasPrefix(s, "^") {
		return strings.TrimPrefix(s, "^")
	}
	if !strings.Contains(s, ".") {
		return s + ".us"
	}
	return s
}
