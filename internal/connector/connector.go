// Package connector assembles the exchange bridge: REST client, websocket
// subscriber, per-market book synchronizers, the order reconciler, and the
// polling scheduler, wired behind one lifecycle.
package connector

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/litebridge/config"
	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/auth"
	"github.com/coachpo/litebridge/internal/book"
	"github.com/coachpo/litebridge/internal/observability"
	"github.com/coachpo/litebridge/internal/orders"
	"github.com/coachpo/litebridge/internal/poller"
	"github.com/coachpo/litebridge/internal/rest"
	"github.com/coachpo/litebridge/internal/schema"
	"github.com/coachpo/litebridge/internal/store"
	"github.com/coachpo/litebridge/internal/transport"
	"github.com/coachpo/litebridge/lib/async"
)

// cancelAllGrace bounds the wait for cancellation confirmations at shutdown.
const cancelAllGrace = 20 * time.Second

// Status summarizes connector readiness for health checks.
type Status struct {
	Stream       string
	BooksReady   bool
	TradingRules bool
	Balances     bool
	ActiveOrders int
}

// Connector is the trading engine's single handle on the exchange.
type Connector struct {
	cfg     config.Config
	log     observability.Logger
	metrics observability.Metrics
	sink    schema.Sink

	signer     *auth.Signer
	rest       *rest.Client
	subscriber *transport.Subscriber
	fallback   *book.SnapshotPoller
	recon      *orders.Reconciler
	books      map[string]*book.Synchronizer
	scheduler  *poller.Scheduler
	stateStore store.OrderStateStore

	cancel context.CancelFunc
	done   chan error
}

// Options configures a Connector. Sink is required; a nil Store defaults to
// the in-memory order-state store.
type Options struct {
	Config  config.Config
	Sink    schema.Sink
	Logger  observability.Logger
	Metrics observability.Metrics
	Store   store.OrderStateStore
	// HTTP overrides the REST transport, used by tests.
	HTTP rest.Doer
}

// New wires the connector from configuration. Nothing connects until Start.
func New(opts Options) (*Connector, error) {
	if opts.Sink == nil {
		return nil, errs.New("connector/new", errs.CodeInvalid,
			errs.WithMessage("event sink required"))
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	stateStore := opts.Store
	if stateStore == nil {
		stateStore = store.NewMemory()
	}

	cfg := opts.Config
	signer := auth.NewSigner(cfg.Exchange.APIKey, cfg.Exchange.APISecret, nil)

	restClient := rest.NewClient(rest.Options{
		BaseURL:           cfg.Exchange.RESTBaseURL,
		HTTP:              opts.HTTP,
		Signer:            signer,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Logger:            logger,
	})

	recon := orders.NewReconciler(orders.Options{
		Client:  restClient,
		Sink:    opts.Sink,
		Logger:  logger,
		Metrics: metrics,
	})

	markets := cfg.ParsedMarkets()
	books := make(map[string]*book.Synchronizer, len(markets))
	for _, market := range markets {
		books[market.Symbol()] = book.NewSynchronizer(book.SynchronizerOptions{
			Market:  market,
			Fetcher: restClient,
			Sink:    opts.Sink,
			Logger:  logger,
			Metrics: metrics,
		})
	}

	c := &Connector{
		cfg:        cfg,
		log:        logger,
		metrics:    metrics,
		sink:       opts.Sink,
		signer:     signer,
		rest:       restClient,
		recon:      recon,
		books:      books,
		stateStore: stateStore,
	}

	if cfg.Stream.Disabled {
		c.fallback = book.NewSnapshotPoller(markets, restClient, opts.Sink, logger)
	} else {
		c.subscriber = transport.NewSubscriber(transport.Options{
			URL:            cfg.Exchange.WSURL,
			Markets:        markets,
			Signer:         signer,
			Logger:         logger,
			Metrics:        metrics,
			ReadTimeout:    cfg.Stream.ReadTimeout,
			PingTimeout:    cfg.Stream.PingTimeout,
			ReconnectDelay: cfg.Stream.ReconnectDelay,
			QueueSize:      cfg.Stream.QueueSize,
		})
	}

	var streamHealth poller.StreamHealth
	if c.subscriber != nil {
		streamHealth = c.subscriber
	}
	c.scheduler = poller.NewScheduler(poller.Options{
		Target:        recon,
		Stream:        streamHealth,
		Logger:        logger,
		Metrics:       metrics,
		ShortInterval: cfg.Polling.ShortInterval,
		LongInterval:  cfg.Polling.LongInterval,
		RuleInterval:  cfg.Polling.RuleInterval,
	})
	return c, nil
}

// Start restores persisted order state and launches the stream, book
// bootstraps, and polling loops. It returns once everything is running.
func (c *Connector) Start(ctx context.Context) error {
	states, err := c.stateStore.LoadStates(ctx)
	if err != nil {
		return err
	}
	if len(states) > 0 {
		c.recon.RestoreTrackingStates(states)
		c.log.Info("restored tracked orders", observability.F("count", len(states)))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	group := async.NewGroup(runCtx)

	if c.subscriber != nil {
		group.Go(c.subscriber.Run)
		group.Go(c.dispatch)
		for _, sync := range c.books {
			group.Go(sync.Bootstrap)
		}
	}
	if c.fallback != nil {
		group.Go(c.fallback.Run)
	}
	group.Go(c.scheduler.Run)

	c.done = make(chan error, 1)
	go func() { c.done <- group.Wait() }()
	c.log.Info("connector started",
		observability.F("markets", len(c.books)),
		observability.F("authenticated", c.signer.Configured()),
	)
	return nil
}

// Stop cancels open orders when credentials allow it, shuts the loops down,
// and persists the surviving order state.
func (c *Connector) Stop(ctx context.Context) error {
	if c.signer.Configured() && c.recon.ActiveCount() > 0 {
		results := c.recon.CancelAll(ctx, cancelAllGrace)
		for _, result := range results {
			if !result.Success {
				c.log.Warn("order not confirmed cancelled at shutdown",
					observability.F("client_order_id", result.ClientOrderID))
			}
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.stateStore.SaveStates(ctx, c.recon.TrackingStates()); err != nil {
		return err
	}
	c.log.Info("connector stopped")
	return nil
}

// dispatch routes parsed stream messages to their consumers.
func (c *Connector) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.subscriber.Messages():
			c.route(ctx, msg)
		}
	}
}

func (c *Connector) route(ctx context.Context, msg schema.Message) {
	switch m := msg.(type) {
	case schema.BookMessage:
		sync, ok := c.books[m.Book.Market]
		if !ok {
			return
		}
		if m.Book.UpdateType == schema.BookUpdateSet {
			sync.ApplySet(m.Book)
			return
		}
		if _, err := sync.ApplyDelta(ctx, m.Book); err != nil && ctx.Err() == nil {
			c.log.Warn("book delta failed",
				observability.F("market", m.Book.Market),
				observability.F("error", err.Error()),
			)
		}
	case schema.TradeMessage:
		if sync, ok := c.books[m.Trade.Market]; ok {
			sync.HandleTrade(m.Trade)
		}
	case schema.OrderMessage, schema.BalanceMessage:
		c.recon.HandleMessage(msg)
	}
}

// Place submits a limit order and returns its client order id.
func (c *Connector) Place(ctx context.Context, market schema.Market, side schema.Side, orderType schema.OrderType, price, amount decimal.Decimal) (string, error) {
	if !c.signer.Configured() {
		return "", errs.New("connector/place", errs.CodeAuth,
			errs.WithMessage("trading requires api credentials"))
	}
	return c.recon.Place(ctx, market, side, orderType, price, amount), nil
}

// Cancel requests cancellation of a tracked order.
func (c *Connector) Cancel(ctx context.Context, clientOrderID string) error {
	return c.recon.Cancel(ctx, clientOrderID)
}

// CancelAll cancels every tracked order and reports per-order outcomes.
func (c *Connector) CancelAll(ctx context.Context) []orders.CancellationResult {
	return c.recon.CancelAll(ctx, cancelAllGrace)
}

// Balances returns the current balance view.
func (c *Connector) Balances() map[string]orders.Balance {
	return c.recon.Balances()
}

// Book returns the current book for a market, with ok false for unknown
// markets.
func (c *Connector) Book(market schema.Market) (bids, asks []schema.PriceLevel, sequence uint64, ok bool) {
	sync, found := c.books[market.Symbol()]
	if !found {
		return nil, nil, 0, false
	}
	bids, asks, sequence = sync.Snapshot()
	return bids, asks, sequence, true
}

// CheckNetwork verifies REST reachability via the exchange clock.
func (c *Connector) CheckNetwork(ctx context.Context) error {
	_, err := c.rest.ServerTime(ctx)
	return err
}

// Status reports connector readiness.
func (c *Connector) Status() Status {
	booksReady := true
	for _, sync := range c.books {
		if !sync.Ready() {
			booksReady = false
			break
		}
	}
	stream := "disabled"
	if c.subscriber != nil {
		stream = c.subscriber.State().String()
	}
	return Status{
		Stream:       stream,
		BooksReady:   booksReady,
		TradingRules: c.recon.HasTradingRules(),
		Balances:     c.recon.HasBalances(),
		ActiveOrders: c.recon.ActiveCount(),
	}
}

// Ready reports whether market data and account state are initialized. In
// public mode account readiness is not required.
func (c *Connector) Ready() bool {
	status := c.Status()
	if !status.BooksReady || !status.TradingRules {
		return false
	}
	if c.signer.Configured() && !status.Balances {
		return false
	}
	return true
}
