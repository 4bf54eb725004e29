package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/rest"
	"github.com/coachpo/litebridge/internal/schema"
)

type fakeExchange struct {
	mu             sync.Mutex
	created        []rest.CreateOrderParams
	createErr      error
	createGate     chan struct{}
	cancelled      [][]string
	cancelAllCalls int
	cancelAllHook  func()
	orderResponses map[string]schema.OrderPayload
	balances       []schema.BalancePayload
	markets        []schema.MarketInfo
}

func (f *fakeExchange) CreateOrder(ctx context.Context, params rest.CreateOrderParams) (schema.OrderPayload, error) {
	if f.createGate != nil {
		select {
		case <-f.createGate:
		case <-ctx.Done():
			return schema.OrderPayload{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return schema.OrderPayload{}, f.createErr
	}
	f.created = append(f.created, params)
	return schema.OrderPayload{
		UUID:     "exchange-" + params.ClientID,
		ClientID: params.ClientID,
		Status:   schema.OrderStatusOpen,
	}, nil
}

func (f *fakeExchange) Order(ctx context.Context, symbol, uuid string) (schema.OrderPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.orderResponses[uuid]
	if !ok {
		return schema.OrderPayload{}, errs.New("test", errs.CodeNotFound)
	}
	return payload, nil
}

func (f *fakeExchange) CancelOrders(ctx context.Context, symbol string, uuids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, uuids)
	return nil
}

func (f *fakeExchange) CancelAll(ctx context.Context) error {
	f.mu.Lock()
	f.cancelAllCalls++
	hook := f.cancelAllHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeExchange) Balances(ctx context.Context) ([]schema.BalancePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances, nil
}

func (f *fakeExchange) Markets(ctx context.Context) ([]schema.MarketInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets, nil
}

func (f *fakeExchange) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeExchange) cancelledBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.cancelled...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []schema.Event
}

func (r *eventRecorder) Emit(event schema.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []schema.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Event(nil), r.events...)
}

func (r *eventRecorder) countOf(match func(schema.Event) bool) int {
	n := 0
	for _, event := range r.all() {
		if match(event) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func btcEurRules() []schema.MarketInfo {
	return []schema.MarketInfo{{
		Market:             "BTC-EUR",
		Status:             "trading",
		TickSize:           decimal.RequireFromString("0.01"),
		StepSize:           decimal.RequireFromString("0.00000001"),
		MinimumAmountQuote: decimal.RequireFromString("5"),
	}}
}

func newTestReconciler(t *testing.T, exchange *fakeExchange, sink schema.Sink) *Reconciler {
	t.Helper()
	r := NewReconciler(Options{Client: exchange, Sink: sink})
	if err := r.RefreshTradingRules(context.Background()); err != nil {
		t.Fatalf("refresh rules: %v", err)
	}
	return r
}

func mustMarket(t *testing.T, symbol string) schema.Market {
	t.Helper()
	market, err := schema.ParseMarket(symbol)
	if err != nil {
		t.Fatalf("parse market %s: %v", symbol, err)
	}
	return market
}

func TestPlaceEmitsCreatedAndTracksOrder(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000.004"), decimal.RequireFromString("0.001"))

	waitFor(t, func() bool {
		return sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.OrderCreated); return ok }) == 1
	}, "no OrderCreated event")

	if exchange.createCount() != 1 {
		t.Fatalf("expected one create call, got %d", exchange.createCount())
	}
	params := exchange.created[0]
	if params.ClientID != clientID {
		t.Fatalf("create used client id %q, want %q", params.ClientID, clientID)
	}
	if !params.Price.Equal(decimal.RequireFromString("30000")) {
		t.Fatalf("price not quantized to tick size: %s", params.Price)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("expected one active order, got %d", r.ActiveCount())
	}
}

func TestQuantizedSizingVisibleWhileCreateInFlight(t *testing.T) {
	gate := make(chan struct{})
	exchange := &fakeExchange{markets: btcEurRules(), createGate: gate}
	r := newTestReconciler(t, exchange, &eventRecorder{})

	r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000.004"), decimal.RequireFromString("0.00100000999"))

	// Snapshots race the submit goroutine; they must observe either the raw
	// or the fully quantized sizing, and settle on the latter before the
	// create call returns.
	waitFor(t, func() bool {
		states := r.TrackingStates()
		if len(states) != 1 {
			return false
		}
		price := decimal.RequireFromString(states[0].Price)
		amount := decimal.RequireFromString(states[0].Amount)
		return price.Equal(decimal.RequireFromString("30000")) &&
			amount.Equal(decimal.RequireFromString("0.001"))
	}, "quantized sizing never visible in tracking state")

	close(gate)
	waitFor(t, func() bool { return exchange.createCount() == 1 }, "order never submitted")
}

func TestPlaceBelowNotionalFailsWithoutRequest(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("100"), decimal.RequireFromString("0.001"))

	waitFor(t, func() bool {
		return sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.OrderFailed); return ok }) == 1
	}, "no OrderFailed event")

	if exchange.createCount() != 0 {
		t.Fatalf("rejected order must not reach the exchange, got %d calls", exchange.createCount())
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("failed order still tracked")
	}
}

func TestIncrementalFillsThenCompletion(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))
	waitFor(t, func() bool { return exchange.createCount() == 1 }, "order never submitted")

	half := schema.OrderPayload{
		UUID:              "exchange-" + clientID,
		ClientID:          clientID,
		AmountFilled:      decimal.RequireFromString("0.0005"),
		AmountQuoteFilled: decimal.RequireFromString("15.015"),
		Fee:               decimal.RequireFromString("0.015"),
		Status:            schema.OrderStatusOpen,
	}
	r.ProcessOrderUpdate(half)

	full := half
	full.AmountFilled = decimal.RequireFromString("0.001")
	full.AmountQuoteFilled = decimal.RequireFromString("30.03")
	full.Fee = decimal.RequireFromString("0.03")
	full.Status = schema.OrderStatusClosed
	r.ProcessOrderUpdate(full)

	var fills []schema.OrderFilled
	for _, event := range sink.all() {
		if fill, ok := event.(schema.OrderFilled); ok {
			fills = append(fills, fill)
		}
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fill events, got %d", len(fills))
	}
	for i, fill := range fills {
		if !fill.Amount.Equal(decimal.RequireFromString("0.0005")) {
			t.Fatalf("fill %d: expected incremental amount 0.0005, got %s", i, fill.Amount)
		}
		if !fill.Price.Equal(decimal.RequireFromString("30000")) {
			t.Fatalf("fill %d: expected net fill price 30000, got %s", i, fill.Price)
		}
	}

	completed := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.BuyOrderCompleted); return ok })
	if completed != 1 {
		t.Fatalf("expected exactly one completion event, got %d", completed)
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("terminal order still tracked")
	}
}

func TestDuplicateTerminalFromBothPathsEmitsOnce(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideSell,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))
	waitFor(t, func() bool { return exchange.createCount() == 1 }, "order never submitted")

	terminal := schema.OrderPayload{
		UUID:              "exchange-" + clientID,
		ClientID:          clientID,
		AmountFilled:      decimal.RequireFromString("0.001"),
		AmountQuoteFilled: decimal.RequireFromString("30.03"),
		Fee:               decimal.RequireFromString("0.03"),
		Status:            schema.OrderStatusClosed,
	}
	// Same terminal state arrives from the stream and then from a REST poll.
	r.ProcessOrderUpdate(terminal)
	r.ProcessOrderUpdate(terminal)

	completed := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.SellOrderCompleted); return ok })
	if completed != 1 {
		t.Fatalf("expected exactly one completion event, got %d", completed)
	}
	fills := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.OrderFilled); return ok })
	if fills != 1 {
		t.Fatalf("expected exactly one fill event, got %d", fills)
	}
}

func TestStaleUpdateDoesNotRegressFills(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))
	waitFor(t, func() bool { return exchange.createCount() == 1 }, "order never submitted")

	newer := schema.OrderPayload{
		ClientID:          clientID,
		AmountFilled:      decimal.RequireFromString("0.0008"),
		AmountQuoteFilled: decimal.RequireFromString("24"),
		Status:            schema.OrderStatusOpen,
	}
	stale := schema.OrderPayload{
		ClientID:          clientID,
		AmountFilled:      decimal.RequireFromString("0.0003"),
		AmountQuoteFilled: decimal.RequireFromString("9"),
		Status:            schema.OrderStatusOpen,
	}
	r.ProcessOrderUpdate(newer)
	r.ProcessOrderUpdate(stale)

	fills := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.OrderFilled); return ok })
	if fills != 1 {
		t.Fatalf("stale update must not emit a fill, got %d fill events", fills)
	}
}

func TestCancelledWithoutFillsEmitsCancelled(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))
	waitFor(t, func() bool { return exchange.createCount() == 1 }, "order never submitted")

	r.ProcessOrderUpdate(schema.OrderPayload{
		ClientID: clientID,
		Status:   schema.OrderStatusCancelled,
	})

	if got := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.OrderCancelled); return ok }); got != 1 {
		t.Fatalf("expected one cancelled event, got %d", got)
	}
	if got := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.BuyOrderCompleted); return ok }); got != 0 {
		t.Fatalf("unfilled order must not complete, got %d completion events", got)
	}
}

func TestCancelWaitsForExchangeID(t *testing.T) {
	gate := make(chan struct{})
	exchange := &fakeExchange{markets: btcEurRules(), createGate: gate}
	r := newTestReconciler(t, exchange, &eventRecorder{})

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))

	done := make(chan error, 1)
	go func() { done <- r.Cancel(context.Background(), clientID) }()

	select {
	case err := <-done:
		t.Fatalf("cancel returned before the exchange id resolved: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("cancel: %v", err)
	}
	batches := exchange.cancelledBatches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != "exchange-"+clientID {
		t.Fatalf("unexpected cancel batches %v", batches)
	}
}

func TestCancelUnknownOrderFailsWithoutIO(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	r := newTestReconciler(t, exchange, &eventRecorder{})

	err := r.Cancel(context.Background(), "no-such-order")
	if err == nil {
		t.Fatal("expected error for unknown order")
	}
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("expected not-found code, got %v", errs.CodeOf(err))
	}
	if len(exchange.cancelledBatches()) != 0 {
		t.Fatal("unknown order cancel must not reach the exchange")
	}
}

func TestCancelReleasedWithErrorWhenCreationFails(t *testing.T) {
	exchange := &fakeExchange{
		markets:   btcEurRules(),
		createErr: errors.New("insufficient balance"),
	}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))

	waitFor(t, func() bool {
		return sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.OrderFailed); return ok }) == 1
	}, "no OrderFailed event")

	err := r.Cancel(context.Background(), clientID)
	if err == nil {
		t.Fatal("expected cancel of failed order to error")
	}
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("expected not-found code, got %v", errs.CodeOf(err))
	}
}

func TestCancelAllReportsPerOrderOutcome(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	first := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))
	second := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideSell,
		schema.OrderTypeLimit, decimal.RequireFromString("31000"), decimal.RequireFromString("0.001"))
	waitFor(t, func() bool { return exchange.createCount() == 2 }, "orders never submitted")

	// Only the first order's terminal update arrives inside the grace window.
	exchange.mu.Lock()
	exchange.cancelAllHook = func() {
		r.ProcessOrderUpdate(schema.OrderPayload{
			ClientID: first,
			Status:   schema.OrderStatusCancelled,
		})
	}
	exchange.mu.Unlock()

	results := r.CancelAll(context.Background(), 10*time.Millisecond)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	byID := make(map[string]bool, len(results))
	for _, result := range results {
		byID[result.ClientOrderID] = result.Success
	}
	if !byID[first] {
		t.Fatal("confirmed cancellation reported as failure")
	}
	if byID[second] {
		t.Fatal("unconfirmed cancellation reported as success")
	}
}

func TestOrderStatusPollFeedsReconciliation(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	sink := &eventRecorder{}
	r := newTestReconciler(t, exchange, sink)

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))
	waitFor(t, func() bool { return exchange.createCount() == 1 }, "order never submitted")

	exchange.mu.Lock()
	exchange.orderResponses = map[string]schema.OrderPayload{
		"exchange-" + clientID: {
			UUID:              "exchange-" + clientID,
			AmountFilled:      decimal.RequireFromString("0.001"),
			AmountQuoteFilled: decimal.RequireFromString("30"),
			Status:            schema.OrderStatusClosed,
		},
	}
	exchange.mu.Unlock()

	r.RefreshOrderStatus(context.Background())

	// The REST response carried no client id; the poll backfills it from the
	// tracked record before reconciling.
	if got := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.BuyOrderCompleted); return ok }); got != 1 {
		t.Fatalf("expected one completion via polling, got %d", got)
	}
	if r.ActiveCount() != 0 {
		t.Fatal("polled terminal order still tracked")
	}
}

func TestBalancesDualSource(t *testing.T) {
	exchange := &fakeExchange{
		markets: btcEurRules(),
		balances: []schema.BalancePayload{{
			Currency:  "EUR",
			Total:     decimal.RequireFromString("1000"),
			Available: decimal.RequireFromString("900"),
		}},
	}
	r := newTestReconciler(t, exchange, &eventRecorder{})

	if err := r.RefreshBalances(context.Background()); err != nil {
		t.Fatalf("refresh balances: %v", err)
	}
	balance := r.Balances()["EUR"]
	if balance.Source != BalanceSourceREST || !balance.Total.Equal(decimal.RequireFromString("1000")) {
		t.Fatalf("unexpected REST balance %+v", balance)
	}

	r.ProcessBalanceUpdate(schema.BalancePayload{
		Currency:  "EUR",
		Available: decimal.RequireFromString("850"),
		Reserved:  decimal.RequireFromString("100"),
	})
	balance = r.Balances()["EUR"]
	if balance.Source != BalanceSourceStream {
		t.Fatalf("stream update did not take over, source %s", balance.Source)
	}
	if !balance.Total.Equal(decimal.RequireFromString("950")) {
		t.Fatalf("stream total must be available plus reserved, got %s", balance.Total)
	}
}

func TestTrackingStatesRoundTrip(t *testing.T) {
	exchange := &fakeExchange{markets: btcEurRules()}
	r := newTestReconciler(t, exchange, &eventRecorder{})

	clientID := r.Place(context.Background(), mustMarket(t, "BTC-EUR"), schema.SideBuy,
		schema.OrderTypeLimit, decimal.RequireFromString("30000"), decimal.RequireFromString("0.001"))
	waitFor(t, func() bool { return exchange.createCount() == 1 }, "order never submitted")
	r.ProcessOrderUpdate(schema.OrderPayload{
		ClientID:          clientID,
		AmountFilled:      decimal.RequireFromString("0.0004"),
		AmountQuoteFilled: decimal.RequireFromString("12"),
		Status:            schema.OrderStatusOpen,
	})

	states := r.TrackingStates()
	if len(states) != 1 {
		t.Fatalf("expected one persisted state, got %d", len(states))
	}

	restored := NewReconciler(Options{Client: exchange, Sink: &eventRecorder{}})
	restored.RestoreTrackingStates(states)
	if restored.ActiveCount() != 1 {
		t.Fatalf("expected restored order, got %d active", restored.ActiveCount())
	}

	// The restored record keeps its fill progress: the same update is stale.
	sink := &eventRecorder{}
	restored.sink = sink
	restored.ProcessOrderUpdate(schema.OrderPayload{
		ClientID:          clientID,
		AmountFilled:      decimal.RequireFromString("0.0004"),
		AmountQuoteFilled: decimal.RequireFromString("12"),
		Status:            schema.OrderStatusOpen,
	})
	if got := sink.countOf(func(e schema.Event) bool { _, ok := e.(schema.OrderFilled); return ok }); got != 0 {
		t.Fatalf("duplicate fill after restore, got %d fill events", got)
	}

	// Restored orders are cancellable without re-resolving the exchange id.
	if err := restored.Cancel(context.Background(), clientID); err != nil {
		t.Fatalf("cancel after restore: %v", err)
	}
}
