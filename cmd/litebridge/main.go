// Command litebridge runs the exchange connector standalone, logging the
// event stream it would hand to a trading engine.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpo/litebridge/config"
	"github.com/coachpo/litebridge/internal/connector"
	"github.com/coachpo/litebridge/internal/observability"
	"github.com/coachpo/litebridge/internal/schema"
	"github.com/coachpo/litebridge/internal/store"
	"github.com/coachpo/litebridge/lib/telemetry"
)

const (
	defaultConfigPath        = "config/litebridge.yaml"
	startupTimeout           = 30 * time.Second
	shutdownTimeout          = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	stdlog := log.New(os.Stdout, "litebridge ", log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}
	logger := observability.NewStdLogger(stdlog, observability.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		stdlog.Fatalf("init telemetry: %v", err)
	}
	metrics := observability.NewOTelMetrics(provider)

	var stateStore store.OrderStateStore = store.NewMemory()
	if cfg.Postgres.DSN != "" {
		startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		if err := store.Migrate(startCtx, cfg.Postgres.DSN, logger); err != nil {
			stdlog.Fatalf("migrate order-state database: %v", err)
		}
		pool, err := store.Connect(startCtx, cfg.Postgres.DSN)
		if err != nil {
			stdlog.Fatalf("connect order-state database: %v", err)
		}
		defer pool.Close()
		stateStore = store.NewPostgres(pool)
	}

	conn, err := connector.New(connector.Options{
		Config:  cfg,
		Sink:    &eventLogger{log: logger},
		Logger:  logger,
		Metrics: metrics,
		Store:   stateStore,
	})
	if err != nil {
		stdlog.Fatalf("build connector: %v", err)
	}

	if err := conn.Start(ctx); err != nil {
		stdlog.Fatalf("start connector: %v", err)
	}
	logger.Info("running", observability.F("markets", len(cfg.Markets)))

	<-ctx.Done()
	logger.Info("shutdown requested")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := conn.Stop(stopCtx); err != nil {
		logger.Error("shutdown incomplete", observability.F("error", err.Error()))
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancelFlush()
	if err := telemetryShutdown(flushCtx); err != nil {
		logger.Warn("telemetry flush failed", observability.F("error", err.Error()))
	}
}

// eventLogger stands in for the trading engine boundary when running
// standalone.
type eventLogger struct {
	log observability.Logger
}

func (e *eventLogger) Emit(event schema.Event) {
	switch ev := event.(type) {
	case schema.OrderBookUpdate:
		e.log.Debug("book update",
			observability.F("kind", string(ev.Kind)),
			observability.F("market", ev.Market.Symbol()),
			observability.F("sequence", ev.Sequence),
		)
	case schema.OrderCreated:
		e.log.Info("event order_created", observability.F("client_order_id", ev.ClientOrderID))
	case schema.OrderFilled:
		e.log.Info("event order_filled",
			observability.F("client_order_id", ev.ClientOrderID),
			observability.F("amount", ev.Amount.String()),
			observability.F("price", ev.Price.String()),
		)
	case schema.BuyOrderCompleted:
		e.log.Info("event buy_order_completed", observability.F("client_order_id", ev.ClientOrderID))
	case schema.SellOrderCompleted:
		e.log.Info("event sell_order_completed", observability.F("client_order_id", ev.ClientOrderID))
	case schema.OrderCancelled:
		e.log.Info("event order_cancelled", observability.F("client_order_id", ev.ClientOrderID))
	case schema.OrderFailed:
		e.log.Warn("event order_failed",
			observability.F("client_order_id", ev.ClientOrderID),
			observability.F("reason", ev.Reason),
		)
	}
}
