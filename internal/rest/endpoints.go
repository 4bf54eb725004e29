package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/schema"
)

// Markets fetches the market list with trading rules.
func (c *Client) Markets(ctx context.Context) ([]schema.MarketInfo, error) {
	raw, err := c.Request(ctx, http.MethodGet, PathMarkets, nil, false)
	if err != nil {
		return nil, err
	}
	var markets []schema.MarketInfo
	if err := json.Unmarshal(raw, &markets); err != nil {
		return nil, errs.New("rest/markets", errs.CodeNetwork, errs.WithCause(err))
	}
	return markets, nil
}

// Tickers fetches last traded prices for all markets.
func (c *Client) Tickers(ctx context.Context) ([]schema.Ticker, error) {
	raw, err := c.Request(ctx, http.MethodGet, PathTickers, nil, false)
	if err != nil {
		return nil, err
	}
	var tickers []schema.Ticker
	if err := json.Unmarshal(raw, &tickers); err != nil {
		return nil, errs.New("rest/tickers", errs.CodeNetwork, errs.WithCause(err))
	}
	return tickers, nil
}

// Book fetches a full order book snapshot for the market.
func (c *Client) Book(ctx context.Context, symbol string) (schema.BookPayload, error) {
	raw, err := c.Request(ctx, http.MethodGet, PathBook, map[string]string{"market": symbol}, false)
	if err != nil {
		return schema.BookPayload{}, err
	}
	var book schema.BookPayload
	if err := json.Unmarshal(raw, &book); err != nil {
		return schema.BookPayload{}, errs.New("rest/book", errs.CodeNetwork, errs.WithCause(err))
	}
	if book.Market == "" {
		book.Market = symbol
	}
	return book, nil
}

// ServerTime fetches the exchange clock. Used as a lightweight network probe.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	raw, err := c.Request(ctx, http.MethodGet, PathTime, nil, false)
	if err != nil {
		return time.Time{}, err
	}
	var payload struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return time.Time{}, errs.New("rest/time", errs.CodeNetwork, errs.WithCause(err))
	}
	return time.UnixMilli(payload.Timestamp).UTC(), nil
}

// Balances fetches total and available balances for all assets.
func (c *Client) Balances(ctx context.Context) ([]schema.BalancePayload, error) {
	raw, err := c.Request(ctx, http.MethodGet, PathBalances, nil, true)
	if err != nil {
		return nil, err
	}
	var balances []schema.BalancePayload
	if err := json.Unmarshal(raw, &balances); err != nil {
		return nil, errs.New("rest/balances", errs.CodeNetwork, errs.WithCause(err))
	}
	return balances, nil
}

// Order fetches the status of a single order by exchange id.
func (c *Client) Order(ctx context.Context, symbol, uuid string) (schema.OrderPayload, error) {
	raw, err := c.Request(ctx, http.MethodGet, PathOrder,
		map[string]string{"market": symbol, "uuid": uuid}, true)
	if err != nil {
		return schema.OrderPayload{}, err
	}
	var order schema.OrderPayload
	if err := json.Unmarshal(raw, &order); err != nil {
		return schema.OrderPayload{}, errs.New("rest/order", errs.CodeNetwork, errs.WithCause(err))
	}
	return order, nil
}

// CreateOrderParams carries the place-order request body.
type CreateOrderParams struct {
	Market   string          `json:"market"`
	Side     schema.Side     `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	ClientID string          `json:"client_id"`
	PostOnly bool            `json:"post_only,omitempty"`
}

// CreateOrder places an order and returns the exchange's order object.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (schema.OrderPayload, error) {
	raw, err := c.RequestBody(ctx, http.MethodPost, PathOrder, params, true)
	if err != nil {
		return schema.OrderPayload{}, err
	}
	var order schema.OrderPayload
	if err := json.Unmarshal(raw, &order); err != nil {
		return schema.OrderPayload{}, errs.New("rest/create-order", errs.CodeNetwork, errs.WithCause(err))
	}
	return order, nil
}

// CancelOrders requests cancellation of the given orders. The response only
// acknowledges receipt; confirmation arrives as a later terminal status update.
func (c *Client) CancelOrders(ctx context.Context, symbol string, uuids []string) error {
	payload := map[string]any{"market": symbol, "orders": uuids}
	_, err := c.RequestBody(ctx, http.MethodDelete, PathOrders, payload, true)
	return err
}

// CancelAll requests cancellation of every open order on the account.
func (c *Client) CancelAll(ctx context.Context) error {
	_, err := c.RequestBody(ctx, http.MethodDelete, PathOrders, map[string]any{}, true)
	return err
}
