package schema

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/litebridge/errs"
)

// BookUpdateType distinguishes full book payloads from incremental deltas.
type BookUpdateType string

const (
	// BookUpdateSet carries a complete book state.
	BookUpdateSet BookUpdateType = "set"
	// BookUpdateDelta carries incremental price level changes.
	BookUpdateDelta BookUpdateType = "delta"
)

// PriceLevel is a single (price, size) row. The exchange encodes levels as
// two-element string arrays; a size of zero removes the level.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// UnmarshalJSON decodes the exchange's [price, size] pair encoding.
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair [2]decimal.Decimal
	if err := json.Unmarshal(data, &pair); err != nil {
		return errs.New("schema/price-level", errs.CodeInvalid,
			errs.WithMessage("malformed price level"), errs.WithCause(err))
	}
	l.Price = pair[0]
	l.Size = pair[1]
	return nil
}

// MarshalJSON encodes the level back into the exchange's pair form.
func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]decimal.Decimal{l.Price, l.Size})
}

// BookPayload is the wire shape shared by the REST book endpoint and the
// websocket book channel.
type BookPayload struct {
	Market     string         `json:"market"`
	Sequence   uint64         `json:"sequence"`
	UpdateType BookUpdateType `json:"update_type,omitempty"`
	Bids       []PriceLevel   `json:"bids"`
	Asks       []PriceLevel   `json:"asks"`
	Timestamp  int64          `json:"timestamp"`
}

// TradePayload is a public trade notification. The taker side is reported.
type TradePayload struct {
	Market    string          `json:"market"`
	UUID      string          `json:"uuid"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}
