package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMarketSymbolRoundTrip(t *testing.T) {
	market, err := ParseMarket("btc-eur")
	if err != nil {
		t.Fatalf("parse market: %v", err)
	}
	if market.Base != "BTC" || market.Quote != "EUR" {
		t.Fatalf("unexpected market %+v", market)
	}
	back, err := MarketFromSymbol(market.Symbol())
	if err != nil {
		t.Fatalf("from symbol: %v", err)
	}
	if back != market {
		t.Fatalf("round trip mismatch: %v != %v", back, market)
	}
}

func TestParseMarketRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "BTC", "BTC-", "-EUR", "BTC-EUR-X"} {
		if _, err := ParseMarket(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestParseMessageBookDelta(t *testing.T) {
	raw := []byte(`{"event":"book","data":{"market":"BTC-EUR","sequence":101,"update_type":"delta","bids":[["100","0"]],"asks":[["101","1.5"]],"timestamp":1638957090629}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	book, ok := msg.(BookMessage)
	if !ok {
		t.Fatalf("expected BookMessage, got %T", msg)
	}
	if book.Book.Sequence != 101 || book.Book.UpdateType != BookUpdateDelta {
		t.Fatalf("unexpected payload %+v", book.Book)
	}
	if len(book.Book.Bids) != 1 || !book.Book.Bids[0].Size.IsZero() {
		t.Fatalf("expected zero-size bid level, got %+v", book.Book.Bids)
	}
	if !book.Book.Asks[0].Price.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("unexpected ask price %s", book.Book.Asks[0].Price)
	}
}

func TestParseMessageOrder(t *testing.T) {
	raw := []byte(`{"event":"order","data":{"uuid":"7807541a-0641-45d0-999f-fb9550529e0a","amount":"0.00222015","amount_filled":"0.00222015","amount_quote_filled":"99.98","fee":"0.25","price":"45000.00","side":"buy","type":"limit","status":"closed","filled_status":"filled","post_only":false,"created_at":1638957090629,"updated_at":1638957090671,"market":"BTC-EUR","client_id":"buy-BTC-EUR-1"}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	order, ok := msg.(OrderMessage)
	if !ok {
		t.Fatalf("expected OrderMessage, got %T", msg)
	}
	if order.Order.ClientID != "buy-BTC-EUR-1" {
		t.Fatalf("unexpected client id %q", order.Order.ClientID)
	}
	if !order.Order.Status.Terminal() {
		t.Fatal("closed status must be terminal")
	}
	if !order.Order.AmountQuoteFilled.Equal(decimal.RequireFromString("99.98")) {
		t.Fatalf("unexpected quote filled %s", order.Order.AmountQuoteFilled)
	}
}

func TestParseMessageOrderNullClientID(t *testing.T) {
	raw := []byte(`{"event":"order","data":{"uuid":"x","amount":"1","amount_filled":"0","amount_quote_filled":"0","fee":"0","price":"1","side":"sell","type":"limit","status":"open","market":"BTC-EUR","client_id":null}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.(OrderMessage).Order.ClientID != "" {
		t.Fatal("null client_id must decode to empty string")
	}
}

func TestParseMessageBalance(t *testing.T) {
	raw := []byte(`{"event":"balance","data":{"currency":"EUR","available":"10.5","reserved":"1.5"}}`)
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	balance, ok := msg.(BalanceMessage)
	if !ok {
		t.Fatalf("expected BalanceMessage, got %T", msg)
	}
	if balance.Balance.Currency != "EUR" {
		t.Fatalf("unexpected currency %q", balance.Balance.Currency)
	}
}

func TestParseMessageUnknownEvent(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"event":"candle","data":{}}`)); err != ErrUnknownEvent {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	if _, err := ParseMessage([]byte(`{`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := ParseMessage([]byte(`{"event":"book","data":{"bids":"nope"}}`)); err == nil {
		t.Fatal("expected error for malformed book payload")
	}
}

func TestEncodeRequestDefaultsData(t *testing.T) {
	raw, err := EncodeRequest("subscribe", []string{"orders"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	ack, ok := msg.(SubscribeAck)
	if !ok {
		t.Fatalf("expected SubscribeAck, got %T", msg)
	}
	if len(ack.Channels) != 1 || ack.Channels[0] != "orders" {
		t.Fatalf("unexpected channels %v", ack.Channels)
	}
}
