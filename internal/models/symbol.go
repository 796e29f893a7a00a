package models

import (
	"regexp"
	"strings"
)

// NSE symbols are upper-case alphanumerics plus '&' and '-', e.g.
// RELIANCE, M&M, BAJAJ-AUTO.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9&\-]+$`)

const maxSymbolLength = 20

// NormalizeSymbol trims whitespace and upper-cases a user-supplied symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidSymbol reports whether a normalized symbol is plausibly an NSE
// symbol. It does not check listing status, only shape.
func ValidSymbol(symbol string) bool {
	if symbol == "" || len(symbol) > maxSymbolLength {
		return false
	}
	return symbolPattern.MatchString(symbol)
}

// EquitySeries are the series codes kept when filtering a bhav copy to
// equities: regular, trade-for-trade under surveillance and SME.
var EquitySeries = map[string]bool{
	"EQ": true,
	"BE": true,
	"BZ": true,
}
