package schema

import (
	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	// SideBuy buys base asset.
	SideBuy Side = "buy"
	// SideSell sells base asset.
	SideSell Side = "sell"
)

// OrderType enumerates supported order types.
type OrderType string

const (
	// OrderTypeLimit is a plain limit order.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeLimitMaker is a post-only limit order.
	OrderTypeLimitMaker OrderType = "limit_maker"
)

// OrderStatus is the exchange-reported order state.
type OrderStatus string

const (
	// OrderStatusOpen means the order rests on the book (possibly partially filled).
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusClosed means the order left the book (filled or cancelled with fills).
	OrderStatusClosed OrderStatus = "closed"
	// OrderStatusCancelled means the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCancelled
}

// OrderPayload is the exchange order object, identical on the REST order
// endpoint and the websocket order channel.
type OrderPayload struct {
	UUID              string          `json:"uuid"`
	Amount            decimal.Decimal `json:"amount"`
	AmountFilled      decimal.Decimal `json:"amount_filled"`
	AmountQuoteFilled decimal.Decimal `json:"amount_quote_filled"`
	Fee               decimal.Decimal `json:"fee"`
	Price             decimal.Decimal `json:"price"`
	Side              Side            `json:"side"`
	Type              string          `json:"type"`
	Status            OrderStatus     `json:"status"`
	FilledStatus      string          `json:"filled_status"`
	PostOnly          bool            `json:"post_only"`
	CreatedAt         int64           `json:"created_at"`
	UpdatedAt         int64           `json:"updated_at"`
	Market            string          `json:"market"`
	ClientID          string          `json:"client_id"`
}

// BalancePayload is the exchange balance object. The REST balances endpoint
// reports total directly; the websocket balance channel reports available and
// reserved, whose sum stands in for total.
type BalancePayload struct {
	Currency  string          `json:"currency"`
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// MarketInfo is a row of the REST market list carrying trading rules.
type MarketInfo struct {
	Market             string          `json:"market"`
	Status             string          `json:"status"`
	TickSize           decimal.Decimal `json:"tick_size"`
	StepSize           decimal.Decimal `json:"step_size"`
	MinimumAmountQuote decimal.Decimal `json:"minimum_amount_quote"`
}

// Ticker is a row of the REST ticker list.
type Ticker struct {
	Market string          `json:"market"`
	Last   decimal.Decimal `json:"last"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Volume decimal.Decimal `json:"volume"`
}
