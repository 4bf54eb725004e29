package orders

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/observability"
	"github.com/coachpo/litebridge/internal/rest"
	"github.com/coachpo/litebridge/internal/schema"
)

// minOrderSize is the absolute floor for order amounts on this exchange.
var minOrderSize = decimal.New(1, -8)

// notionalSafetyFactor pads the minimum-notional check against price movement
// between sizing and submission.
var notionalSafetyFactor = decimal.RequireFromString("1.01")

// ExchangeClient is the REST surface the reconciler consumes.
type ExchangeClient interface {
	CreateOrder(ctx context.Context, params rest.CreateOrderParams) (schema.OrderPayload, error)
	Order(ctx context.Context, symbol, uuid string) (schema.OrderPayload, error)
	CancelOrders(ctx context.Context, symbol string, uuids []string) error
	CancelAll(ctx context.Context) error
	Balances(ctx context.Context) ([]schema.BalancePayload, error)
	Markets(ctx context.Context) ([]schema.MarketInfo, error)
}

// TradingRule constrains order sizing for one market.
type TradingRule struct {
	Market      schema.Market
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// BalanceSource identifies which path last wrote a balance entry.
type BalanceSource string

const (
	// BalanceSourceREST marks balances from the polling path.
	BalanceSourceREST BalanceSource = "rest"
	// BalanceSourceStream marks balances from the websocket path.
	BalanceSourceStream BalanceSource = "stream"
)

// Balance is the tracked state of one asset. The REST path reports total
// directly; the stream path derives it as available plus reserved. The two
// definitions may diverge, so the source is kept alongside for verification.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Source    BalanceSource
}

// CancellationResult reports the outcome of one order's cancellation attempt.
type CancellationResult struct {
	ClientOrderID string
	Success       bool
}

// Reconciler owns the in-flight order map. All order and balance updates,
// whether sourced from REST polling or the websocket stream, converge here so
// lifecycle events fire exactly once per transition.
type Reconciler struct {
	client  ExchangeClient
	sink    schema.Sink
	log     observability.Logger
	metrics observability.Metrics
	clock   func() time.Time

	mu       sync.Mutex
	active   map[string]*InFlightOrder
	rules    map[string]TradingRule
	balances map[string]Balance
}

// Options configures a Reconciler.
type Options struct {
	Client  ExchangeClient
	Sink    schema.Sink
	Logger  observability.Logger
	Metrics observability.Metrics
	Clock   func() time.Time
}

// NewReconciler constructs a reconciler.
func NewReconciler(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Reconciler{
		client:   opts.Client,
		sink:     opts.Sink,
		log:      logger,
		metrics:  metrics,
		clock:    clock,
		active:   make(map[string]*InFlightOrder),
		rules:    make(map[string]TradingRule),
		balances: make(map[string]Balance),
	}
}

// RefreshTradingRules reloads market trading rules from the exchange.
func (r *Reconciler) RefreshTradingRules(ctx context.Context) error {
	infos, err := r.client.Markets(ctx)
	if err != nil {
		return err
	}
	rules := make(map[string]TradingRule, len(infos))
	for _, info := range infos {
		market, err := schema.MarketFromSymbol(info.Market)
		if err != nil {
			r.log.Warn("skipping malformed market rule", observability.F("market", info.Market))
			continue
		}
		rules[market.Symbol()] = TradingRule{
			Market:      market,
			TickSize:    info.TickSize,
			StepSize:    info.StepSize,
			MinNotional: info.MinimumAmountQuote,
		}
	}
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	return nil
}

// Place registers an in-flight order and submits it to the exchange. The
// record exists in PENDING_CREATE before any network I/O starts, so a cancel
// issued before the create response arrives still finds it. The returned
// client order id identifies the order in all subsequent events.
func (r *Reconciler) Place(ctx context.Context, market schema.Market, side schema.Side, orderType schema.OrderType, price, amount decimal.Decimal) string {
	clientID := newClientOrderID(side, market)
	order := newInFlightOrder(clientID, market, side, orderType, price, amount, r.clock())

	r.mu.Lock()
	r.active[clientID] = order
	r.mu.Unlock()
	r.recordActiveGauge()

	go r.submit(ctx, order)
	return clientID
}

// submit quantizes, validates, and sends the create-order request.
// Placement is never retried: a client-side timeout does not prove the
// exchange rejected the order.
func (r *Reconciler) submit(ctx context.Context, order *InFlightOrder) {
	rule, ok := r.ruleFor(order.Market)
	if !ok {
		r.fail(order, "no trading rule for market "+order.Market.Symbol())
		return
	}

	price := quantize(order.Price, rule.TickSize)
	amount := quantize(order.Amount, rule.StepSize)
	if amount.LessThan(minOrderSize) {
		r.fail(order, "order amount "+amount.String()+" below minimum order size")
		return
	}
	notional := price.Mul(amount)
	if notional.LessThan(rule.MinNotional.Mul(notionalSafetyFactor)) {
		r.fail(order, "order notional "+notional.String()+" below market minimum "+rule.MinNotional.String())
		return
	}
	// The record is already visible to state snapshots; sizing updates take
	// the reconciler lock like every other mutation.
	r.mu.Lock()
	order.Price = price
	order.Amount = amount
	r.mu.Unlock()

	params := rest.CreateOrderParams{
		Market:   order.Market.Symbol(),
		Side:     order.Side,
		Type:     "limit",
		Price:    price,
		Amount:   amount,
		ClientID: order.ClientOrderID,
	}
	if order.Type == schema.OrderTypeLimitMaker {
		params.PostOnly = true
	}

	result, err := r.client.CreateOrder(ctx, params)
	if err != nil {
		r.log.Warn("order placement rejected",
			observability.F("client_order_id", order.ClientOrderID),
			observability.F("market", order.Market.Symbol()),
			observability.F("error", err.Error()),
		)
		r.fail(order, err.Error())
		return
	}

	order.resolveExchangeID(result.UUID)

	r.mu.Lock()
	if tracked, ok := r.active[order.ClientOrderID]; ok && tracked.Status == StatusPendingCreate {
		tracked.Status = StatusOpen
	}
	r.mu.Unlock()

	r.log.Info("order created",
		observability.F("client_order_id", order.ClientOrderID),
		observability.F("exchange_order_id", result.UUID),
		observability.F("market", order.Market.Symbol()),
	)
	r.emit(schema.OrderCreated{
		Timestamp:     r.clock(),
		ClientOrderID: order.ClientOrderID,
		Market:        order.Market,
		Side:          order.Side,
		Type:          order.Type,
		Price:         price,
		Amount:        amount,
	})
}

// fail removes the record and reports the failure. Waiting cancels are
// released with an error rather than left suspended.
func (r *Reconciler) fail(order *InFlightOrder, reason string) {
	r.mu.Lock()
	delete(r.active, order.ClientOrderID)
	order.Status = StatusFailed
	r.mu.Unlock()
	order.abandon()
	r.recordActiveGauge()

	r.emit(schema.OrderFailed{
		Timestamp:     r.clock(),
		ClientOrderID: order.ClientOrderID,
		Market:        order.Market,
		Side:          order.Side,
		Type:          order.Type,
		Price:         order.Price,
		Amount:        order.Amount,
		Reason:        reason,
	})
}

// ProcessOrderUpdate applies one order update from either source. Updates for
// untracked orders, including duplicate terminal updates for already-removed
// records, are silently ignored. Within one order, the monotone filled-amount
// invariant makes application idempotent regardless of arrival order.
func (r *Reconciler) ProcessOrderUpdate(payload schema.OrderPayload) {
	clientID := payload.ClientID
	if clientID == "" {
		return
	}

	r.mu.Lock()
	order, ok := r.active[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}

	if payload.UUID != "" {
		order.resolveExchangeID(payload.UUID)
	}

	newFilled := payload.AmountFilled
	diff := newFilled.Sub(order.ExecutedBase)
	if diff.Sign() < 0 {
		// Stale update: reports less executed than already recorded.
		r.mu.Unlock()
		return
	}

	var events []schema.Event
	executedValue := payload.AmountQuoteFilled.Sub(payload.Fee)

	if diff.Sign() > 0 {
		// Average price over the newly executed increment only; the
		// cumulative average skews once fees are deducted from proceeds.
		valueDelta := executedValue.Sub(order.ExecutedQuote)
		feeDelta := payload.Fee.Sub(order.FeePaid)
		fillPrice := valueDelta.Div(diff)
		events = append(events, schema.OrderFilled{
			Timestamp:       r.clock(),
			ClientOrderID:   order.ClientOrderID,
			ExchangeOrderID: order.exchangeIDNow(),
			Market:          order.Market,
			Side:            order.Side,
			Type:            order.Type,
			Price:           fillPrice,
			Amount:          diff,
			Fee:             feeDelta,
		})
		r.log.Info("order filled",
			observability.F("client_order_id", order.ClientOrderID),
			observability.F("amount", diff.String()),
			observability.F("total_filled", newFilled.String()),
		)
	}

	order.ExecutedBase = newFilled
	order.ExecutedQuote = executedValue
	order.FeePaid = payload.Fee

	switch {
	case payload.Status.Terminal():
		if order.ExecutedBase.Sign() > 0 {
			order.Status = StatusFilled
			if order.Side == schema.SideBuy {
				events = append(events, schema.BuyOrderCompleted{
					Timestamp:     r.clock(),
					ClientOrderID: order.ClientOrderID,
					Market:        order.Market,
					ExecutedBase:  order.ExecutedBase,
					ExecutedQuote: order.ExecutedQuote,
					FeePaid:       order.FeePaid,
					Type:          order.Type,
				})
			} else {
				events = append(events, schema.SellOrderCompleted{
					Timestamp:     r.clock(),
					ClientOrderID: order.ClientOrderID,
					Market:        order.Market,
					ExecutedBase:  order.ExecutedBase,
					ExecutedQuote: order.ExecutedQuote,
					FeePaid:       order.FeePaid,
					Type:          order.Type,
				})
			}
		} else {
			// No fills before the terminal state. The exchange does not
			// say whether this was a cancel or a rejection; the absence of
			// executed amount is the only signal available.
			order.Status = StatusCancelled
			events = append(events, schema.OrderCancelled{
				Timestamp:     r.clock(),
				ClientOrderID: order.ClientOrderID,
				Market:        order.Market,
			})
		}
		delete(r.active, clientID)
	case order.ExecutedBase.Sign() > 0:
		order.Status = StatusPartiallyFilled
	default:
		if order.Status == StatusPendingCreate {
			order.Status = StatusOpen
		}
	}
	r.mu.Unlock()
	r.recordActiveGauge()

	for _, event := range events {
		r.emit(event)
	}
}

// Cancel requests cancellation of a tracked order. If the exchange id is not
// yet known the call suspends until the create response resolves it. A
// missing client order id fails immediately without network I/O. The
// exchange's acknowledgement does not confirm cancellation; only a later
// terminal status update does.
func (r *Reconciler) Cancel(ctx context.Context, clientOrderID string) error {
	r.mu.Lock()
	order, ok := r.active[clientOrderID]
	r.mu.Unlock()
	if !ok {
		return errs.New("orders/cancel", errs.CodeNotFound,
			errs.WithMessage("order "+clientOrderID+" not found"))
	}

	exchangeID, err := order.ExchangeID(ctx)
	if err != nil {
		return err
	}
	return r.client.CancelOrders(ctx, order.Market.Symbol(), []string{exchangeID})
}

// CancelAll requests cancellation of every tracked order, waits a bounded
// grace period for terminal updates to arrive, then reports per-order results
// based on whether each order has left the active set.
func (r *Reconciler) CancelAll(ctx context.Context, grace time.Duration) []CancellationResult {
	r.mu.Lock()
	pending := make([]string, 0, len(r.active))
	for id := range r.active {
		pending = append(pending, id)
	}
	r.mu.Unlock()

	if err := r.client.CancelAll(ctx); err != nil {
		r.log.Warn("cancel-all request failed", observability.F("error", err.Error()))
	} else if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	results := make([]CancellationResult, 0, len(pending))
	for _, id := range pending {
		_, stillActive := r.active[id]
		results = append(results, CancellationResult{ClientOrderID: id, Success: !stillActive})
	}
	return results
}

// RefreshOrderStatus polls the REST order endpoint for every tracked order.
// Orders whose exchange id is still unresolved are skipped this round rather
// than blocking the polling loop.
func (r *Reconciler) RefreshOrderStatus(ctx context.Context) {
	r.mu.Lock()
	tracked := make([]*InFlightOrder, 0, len(r.active))
	for _, order := range r.active {
		tracked = append(tracked, order)
	}
	r.mu.Unlock()

	for _, order := range tracked {
		exchangeID := order.exchangeIDNow()
		if exchangeID == "" {
			continue
		}
		payload, err := r.client.Order(ctx, order.Market.Symbol(), exchangeID)
		if err != nil {
			r.log.Warn("order status poll failed",
				observability.F("client_order_id", order.ClientOrderID),
				observability.F("error", err.Error()),
			)
			continue
		}
		if payload.ClientID == "" {
			payload.ClientID = order.ClientOrderID
		}
		r.ProcessOrderUpdate(payload)
	}
}

// RefreshBalances replaces the balance map wholesale from the REST endpoint.
// Assets no longer reported are dropped.
func (r *Reconciler) RefreshBalances(ctx context.Context) error {
	payloads, err := r.client.Balances(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]Balance, len(payloads))
	for _, payload := range payloads {
		next[payload.Currency] = Balance{
			Asset:     payload.Currency,
			Total:     payload.Total,
			Available: payload.Available,
			Source:    BalanceSourceREST,
		}
	}
	r.mu.Lock()
	r.balances = next
	r.mu.Unlock()
	return nil
}

// ProcessBalanceUpdate applies one streamed balance event. The stream reports
// available and reserved; their sum stands in for total. Last writer wins by
// arrival order, since the exchange does not guarantee monotonic timestamps
// on this channel.
func (r *Reconciler) ProcessBalanceUpdate(payload schema.BalancePayload) {
	r.mu.Lock()
	r.balances[payload.Currency] = Balance{
		Asset:     payload.Currency,
		Total:     payload.Available.Add(payload.Reserved),
		Available: payload.Available,
		Source:    BalanceSourceStream,
	}
	r.mu.Unlock()
}

// HandleMessage routes a user-stream message to the matching handler.
// Untracked orders are skipped.
func (r *Reconciler) HandleMessage(msg schema.Message) {
	switch m := msg.(type) {
	case schema.OrderMessage:
		r.ProcessOrderUpdate(m.Order)
	case schema.BalanceMessage:
		r.ProcessBalanceUpdate(m.Balance)
	}
}

// Balances returns a copy of the tracked balances.
func (r *Reconciler) Balances() map[string]Balance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Balance, len(r.balances))
	for asset, balance := range r.balances {
		out[asset] = balance
	}
	return out
}

// ActiveCount returns the number of tracked in-flight orders.
func (r *Reconciler) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// HasTradingRules reports whether market rules have been loaded.
func (r *Reconciler) HasTradingRules() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rules) > 0
}

// HasBalances reports whether any balance has been observed.
func (r *Reconciler) HasBalances() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.balances) > 0
}

// TrackingStates snapshots all non-terminal orders for persistence.
func (r *Reconciler) TrackingStates() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, 0, len(r.active))
	for _, order := range r.active {
		if order.Status.Terminal() {
			continue
		}
		states = append(states, order.state())
	}
	return states
}

// RestoreTrackingStates reloads persisted orders so the connector picks up
// where it left off after a restart. Malformed records are logged and skipped.
func (r *Reconciler) RestoreTrackingStates(states []State) {
	r.mu.Lock()
	for _, state := range states {
		order, err := orderFromState(state)
		if err != nil {
			r.log.Warn("skipping unrestorable order state",
				observability.F("client_order_id", state.ClientOrderID),
				observability.F("error", err.Error()),
			)
			continue
		}
		r.active[order.ClientOrderID] = order
	}
	r.mu.Unlock()
	r.recordActiveGauge()
}

func (r *Reconciler) ruleFor(market schema.Market) (TradingRule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[market.Symbol()]
	return rule, ok
}

func (r *Reconciler) emit(event schema.Event) {
	if r.sink == nil {
		return
	}
	r.metrics.IncCounter(observability.MetricLifecycleEvents, 1,
		map[string]string{"event": eventName(event)})
	r.sink.Emit(event)
}

func (r *Reconciler) recordActiveGauge() {
	r.metrics.SetGauge(observability.MetricActiveOrders, float64(r.ActiveCount()), nil)
}

func eventName(event schema.Event) string {
	switch event.(type) {
	case schema.OrderCreated:
		return "created"
	case schema.OrderFilled:
		return "filled"
	case schema.BuyOrderCompleted:
		return "buy_completed"
	case schema.SellOrderCompleted:
		return "sell_completed"
	case schema.OrderCancelled:
		return "cancelled"
	case schema.OrderFailed:
		return "failed"
	default:
		return "book"
	}
}

// quantize floors the value to a multiple of the increment. A zero increment
// leaves the value untouched.
func quantize(value, increment decimal.Decimal) decimal.Decimal {
	if increment.Sign() <= 0 {
		return value
	}
	return value.Div(increment).Floor().Mul(increment)
}

func newClientOrderID(side schema.Side, market schema.Market) string {
	return string(side) + "-" + strings.ToLower(market.Base+market.Quote) + "-" + uuid.NewString()
}
