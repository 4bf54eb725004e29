package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is a lifecycle or market-data notification delivered to the engine.
type Event interface {
	event()
}

// Sink receives events from the connector. Delivery is fire-and-forget; no
// acknowledgement is expected and implementations must not block the caller.
type Sink interface {
	Emit(Event)
}

// OrderCreated fires once the exchange acknowledged order placement.
type OrderCreated struct {
	Timestamp     time.Time
	ClientOrderID string
	Market        Market
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Amount        decimal.Decimal
}

// OrderFilled fires for each incremental fill. Amount is the newly executed
// base amount only and Price is the average over that increment, net of fees.
type OrderFilled struct {
	Timestamp       time.Time
	ClientOrderID   string
	ExchangeOrderID string
	Market          Market
	Side            Side
	Type            OrderType
	Price           decimal.Decimal
	Amount          decimal.Decimal
	Fee             decimal.Decimal
}

// BuyOrderCompleted fires exactly once when a buy order reaches a terminal
// state with at least one fill.
type BuyOrderCompleted struct {
	Timestamp     time.Time
	ClientOrderID string
	Market        Market
	ExecutedBase  decimal.Decimal
	ExecutedQuote decimal.Decimal
	FeePaid       decimal.Decimal
	Type          OrderType
}

// SellOrderCompleted fires exactly once when a sell order reaches a terminal
// state with at least one fill.
type SellOrderCompleted struct {
	Timestamp     time.Time
	ClientOrderID string
	Market        Market
	ExecutedBase  decimal.Decimal
	ExecutedQuote decimal.Decimal
	FeePaid       decimal.Decimal
	Type          OrderType
}

// OrderCancelled fires exactly once when an order reaches a terminal state
// without any executed amount. Whether the order was cancelled or rejected by
// the exchange is inferred from the absence of fills; the exchange does not
// report an explicit reason on this channel.
type OrderCancelled struct {
	Timestamp     time.Time
	ClientOrderID string
	Market        Market
}

// OrderFailed fires when placement was rejected locally or by the exchange.
// Placement is never retried automatically: the exchange may have accepted
// the order despite a client-side timeout.
type OrderFailed struct {
	Timestamp     time.Time
	ClientOrderID string
	Market        Market
	Side          Side
	Type          OrderType
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Reason        string
}

// BookUpdateKind classifies order book notifications.
type BookUpdateKind string

const (
	// BookKindSnapshot is a complete book replacement.
	BookKindSnapshot BookUpdateKind = "snapshot"
	// BookKindDiff is an incremental update.
	BookKindDiff BookUpdateKind = "diff"
	// BookKindTrade is a public trade print.
	BookKindTrade BookUpdateKind = "trade"
)

// OrderBookUpdate delivers book state to the engine. Sequence is -1 for
// notifications without an exchange sequence (trades, fallback snapshots).
type OrderBookUpdate struct {
	Kind      BookUpdateKind
	Market    Market
	Sequence  int64
	Timestamp time.Time
	Bids      []PriceLevel
	Asks      []PriceLevel

	// Trade fields, set only for BookKindTrade. TakerSide is the side of the
	// aggressing order.
	TakerSide  Side
	TradePrice decimal.Decimal
	TradeSize  decimal.Decimal
}

func (OrderCreated) event()       {}
func (OrderFilled) event()        {}
func (BuyOrderCompleted) event()  {}
func (SellOrderCompleted) event() {}
func (OrderCancelled) event()     {}
func (OrderFailed) event()        {}
func (OrderBookUpdate) event()    {}
