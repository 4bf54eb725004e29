package book

import (
	"context"
	"time"

	"github.com/coachpo/litebridge/internal/observability"
	"github.com/coachpo/litebridge/internal/schema"
)

const (
	// snapshotSpacing paces per-market fetches within one polling pass.
	snapshotSpacing = 5 * time.Second
	// snapshotCycle is the rest period between full polling passes.
	snapshotCycle = time.Hour
)

// SnapshotPoller stands in for the delta channel when none is available: it
// periodically fetches full snapshots per market. There is no sequence-gap
// detection on this path; every fetch is complete state and consumers must
// replace their local book wholesale, never merge.
type SnapshotPoller struct {
	markets []schema.Market
	fetch   SnapshotFetcher
	sink    schema.Sink
	log     observability.Logger

	spacing time.Duration
	cycle   time.Duration
}

// NewSnapshotPoller constructs the fallback poller. Zero durations apply the
// defaults of five seconds between markets and one hour between passes.
func NewSnapshotPoller(markets []schema.Market, fetch SnapshotFetcher, sink schema.Sink, log observability.Logger) *SnapshotPoller {
	if log == nil {
		log = observability.NopLogger()
	}
	return &SnapshotPoller{
		markets: markets,
		fetch:   fetch,
		sink:    sink,
		log:     log,
		spacing: snapshotSpacing,
		cycle:   snapshotCycle,
	}
}

// Run polls until the context is cancelled. Fetch errors are logged and the
// poller moves on after the usual spacing; the schedule itself never stops.
func (p *SnapshotPoller) Run(ctx context.Context) error {
	for {
		for _, market := range p.markets {
			if err := p.pollOnce(ctx, market); err != nil {
				p.log.Warn("fallback snapshot fetch failed",
					observability.F("market", market.Symbol()),
					observability.F("error", err.Error()),
				)
			}
			if err := sleepCtx(ctx, p.spacing); err != nil {
				return err
			}
		}
		if err := sleepCtx(ctx, p.cycle); err != nil {
			return err
		}
	}
}

func (p *SnapshotPoller) pollOnce(ctx context.Context, market schema.Market) error {
	payload, err := p.fetch.Book(ctx, market.Symbol())
	if err != nil {
		return err
	}
	p.sink.Emit(schema.OrderBookUpdate{
		Kind:      schema.BookKindSnapshot,
		Market:    market,
		Sequence:  int64(payload.Sequence),
		Timestamp: time.UnixMilli(payload.Timestamp).UTC(),
		Bids:      payload.Bids,
		Asks:      payload.Asks,
	})
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
