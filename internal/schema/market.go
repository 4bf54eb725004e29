// Package schema defines the data model shared across the litebridge connector:
// markets, websocket message variants, order book payloads, and lifecycle events.
package schema

import (
	"strings"

	"github.com/coachpo/litebridge/errs"
)

// Market identifies a trading pair by base and quote asset.
type Market struct {
	Base  string
	Quote string
}

// ParseMarket parses a canonical pair string such as "BTC-EUR".
func ParseMarket(s string) (Market, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Market{}, errs.New("schema/market", errs.CodeInvalid,
			errs.WithMessage("market must be formatted as BASE-QUOTE: "+s))
	}
	return Market{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

// MarketFromSymbol converts an exchange-native symbol back into a Market.
// The exchange symbol format matches the canonical form, so the transform is
// the inverse of Symbol.
func MarketFromSymbol(symbol string) (Market, error) {
	return ParseMarket(symbol)
}

// Symbol returns the exchange-native symbol for the market.
func (m Market) Symbol() string {
	return m.Base + "-" + m.Quote
}

func (m Market) String() string { return m.Symbol() }

// IsZero reports whether the market is unset.
func (m Market) IsZero() bool { return m.Base == "" && m.Quote == "" }
