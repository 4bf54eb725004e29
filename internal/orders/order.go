// Package orders tracks in-flight orders and reconciles REST polling results
// with websocket push events into a single authoritative lifecycle per order.
package orders

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/schema"
)

// Status is the local lifecycle state of a tracked order.
type Status string

const (
	// StatusPendingCreate means the place request has not been acknowledged yet.
	StatusPendingCreate Status = "pending_create"
	// StatusOpen means the order rests on the book.
	StatusOpen Status = "open"
	// StatusPartiallyFilled means the order rests on the book with fills.
	StatusPartiallyFilled Status = "partially_filled"
	// StatusFilled is terminal: fully executed.
	StatusFilled Status = "filled"
	// StatusCancelled is terminal: left the book without full execution.
	StatusCancelled Status = "cancelled"
	// StatusFailed is terminal: rejected locally or by the exchange.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status ends the lifecycle.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusFailed
}

// InFlightOrder is the authoritative record for one order, owned exclusively
// by the Reconciler from creation until a terminal status removes it.
type InFlightOrder struct {
	ClientOrderID string
	Market        schema.Market
	Side          schema.Side
	Type          schema.OrderType
	Price         decimal.Decimal
	Amount        decimal.Decimal
	CreatedAt     time.Time

	Status        Status
	ExecutedBase  decimal.Decimal
	ExecutedQuote decimal.Decimal
	FeePaid       decimal.Decimal

	mu         sync.Mutex
	exchangeID string
	resolved   chan struct{}
}

func newInFlightOrder(clientID string, market schema.Market, side schema.Side, orderType schema.OrderType, price, amount decimal.Decimal, createdAt time.Time) *InFlightOrder {
	return &InFlightOrder{
		ClientOrderID: clientID,
		Market:        market,
		Side:          side,
		Type:          orderType,
		Price:         price,
		Amount:        amount,
		CreatedAt:     createdAt,
		Status:        StatusPendingCreate,
		resolved:      make(chan struct{}),
	}
}

// resolveExchangeID attaches the exchange-assigned id and releases any cancel
// waiting on it. Subsequent calls are no-ops.
func (o *InFlightOrder) resolveExchangeID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.resolved:
		return
	default:
	}
	o.exchangeID = id
	close(o.resolved)
}

// abandon releases waiters without an exchange id, used when creation failed.
func (o *InFlightOrder) abandon() {
	o.resolveExchangeID("")
}

// ExchangeID blocks until the exchange id is known or the context expires.
// An empty id with nil error never occurs: creation failure surfaces as an
// error here.
func (o *InFlightOrder) ExchangeID(ctx context.Context) (string, error) {
	select {
	case <-o.resolved:
	case <-ctx.Done():
		return "", errs.New("orders/exchange-id", errs.CodeUnavailable,
			errs.WithMessage("timed out waiting for exchange order id"), errs.WithCause(ctx.Err()))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.exchangeID == "" {
		return "", errs.New("orders/exchange-id", errs.CodeNotFound,
			errs.WithMessage("order "+o.ClientOrderID+" was never acknowledged"))
	}
	return o.exchangeID, nil
}

// exchangeIDNow returns the exchange id without blocking, empty if unresolved.
func (o *InFlightOrder) exchangeIDNow() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.exchangeID
}

// State is the serializable form of an in-flight order, exchanged with the
// persistence collaborator at startup and shutdown.
type State struct {
	ClientOrderID   string    `json:"client_order_id"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Market          string    `json:"market"`
	Side            string    `json:"side"`
	Type            string    `json:"type"`
	Price           string    `json:"price"`
	Amount          string    `json:"amount"`
	Status          string    `json:"status"`
	ExecutedBase    string    `json:"executed_base"`
	ExecutedQuote   string    `json:"executed_quote"`
	FeePaid         string    `json:"fee_paid"`
	CreatedAt       time.Time `json:"created_at"`
}

// state snapshots the order for persistence.
func (o *InFlightOrder) state() State {
	return State{
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: o.exchangeIDNow(),
		Market:          o.Market.Symbol(),
		Side:            string(o.Side),
		Type:            string(o.Type),
		Price:           o.Price.String(),
		Amount:          o.Amount.String(),
		Status:          string(o.Status),
		ExecutedBase:    o.ExecutedBase.String(),
		ExecutedQuote:   o.ExecutedQuote.String(),
		FeePaid:         o.FeePaid.String(),
		CreatedAt:       o.CreatedAt,
	}
}

// orderFromState restores a tracked order from its persisted form.
func orderFromState(s State) (*InFlightOrder, error) {
	market, err := schema.ParseMarket(s.Market)
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(s.Price)
	if err != nil {
		return nil, errs.New("orders/state", errs.CodeInvalid, errs.WithCause(err))
	}
	amount, err := decimal.NewFromString(s.Amount)
	if err != nil {
		return nil, errs.New("orders/state", errs.CodeInvalid, errs.WithCause(err))
	}
	order := newInFlightOrder(s.ClientOrderID, market, schema.Side(s.Side), schema.OrderType(s.Type), price, amount, s.CreatedAt)
	order.Status = Status(s.Status)
	if s.ExecutedBase != "" {
		if order.ExecutedBase, err = decimal.NewFromString(s.ExecutedBase); err != nil {
			return nil, errs.New("orders/state", errs.CodeInvalid, errs.WithCause(err))
		}
	}
	if s.ExecutedQuote != "" {
		if order.ExecutedQuote, err = decimal.NewFromString(s.ExecutedQuote); err != nil {
			return nil, errs.New("orders/state", errs.CodeInvalid, errs.WithCause(err))
		}
	}
	if s.FeePaid != "" {
		if order.FeePaid, err = decimal.NewFromString(s.FeePaid); err != nil {
			return nil, errs.New("orders/state", errs.CodeInvalid, errs.WithCause(err))
		}
	}
	if s.ExchangeOrderID != "" {
		order.resolveExchangeID(s.ExchangeOrderID)
	}
	return order, nil
}
