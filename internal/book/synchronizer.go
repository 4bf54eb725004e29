package book

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/litebridge/internal/observability"
	"github.com/coachpo/litebridge/internal/schema"
)

// bootstrapRetryInterval is the exchange-imposed minimum spacing between
// snapshot fetches.
const bootstrapRetryInterval = 5 * time.Second

// SnapshotFetcher retrieves a full order book via REST.
type SnapshotFetcher interface {
	Book(ctx context.Context, symbol string) (schema.BookPayload, error)
}

// ApplyResult reports how a delta was handled.
type ApplyResult int

const (
	// Applied means the delta advanced the book.
	Applied ApplyResult = iota
	// Stale means the delta's sequence was at or behind the book and was dropped.
	Stale
	// Buffered means a bootstrap was in progress and the delta was queued.
	Buffered
	// GapDetected means the delta exposed a sequence gap and forced a re-bootstrap.
	GapDetected
)

// Synchronizer owns one market's order book. It bootstraps the book from a
// REST snapshot and applies streamed deltas in strict sequence order. A gap
// invalidates the book and triggers exactly one fresh bootstrap; deltas
// arriving while the snapshot fetch is in flight are buffered and re-checked
// against the new snapshot's sequence.
type Synchronizer struct {
	market  schema.Market
	fetch   SnapshotFetcher
	sink    schema.Sink
	log     observability.Logger
	metrics observability.Metrics

	retryInterval time.Duration

	mu            sync.Mutex
	book          *Book
	bootstrapping bool
	pending       []schema.BookPayload
}

// SynchronizerOptions configures a Synchronizer.
type SynchronizerOptions struct {
	Market  schema.Market
	Fetcher SnapshotFetcher
	Sink    schema.Sink
	Logger  observability.Logger
	Metrics observability.Metrics
	// RetryInterval overrides the snapshot retry spacing. Zero applies the
	// exchange minimum of five seconds.
	RetryInterval time.Duration
}

// NewSynchronizer constructs a synchronizer for a single market.
func NewSynchronizer(opts SynchronizerOptions) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = bootstrapRetryInterval
	}
	return &Synchronizer{
		market:        opts.Market,
		fetch:         opts.Fetcher,
		sink:          opts.Sink,
		log:           logger,
		metrics:       metrics,
		retryInterval: interval,
		book:          newBook(),
	}
}

// Market returns the market this synchronizer owns.
func (s *Synchronizer) Market() schema.Market { return s.market }

// Ready reports whether the book holds an applied snapshot.
func (s *Synchronizer) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.ready && !s.bootstrapping
}

// Snapshot returns a copy of the current book sides and sequence.
func (s *Synchronizer) Snapshot() (bids, asks []schema.PriceLevel, sequence uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Bids(), s.book.Asks(), s.book.sequence
}

// Bootstrap fetches a fresh snapshot and installs it as the synchronization
// point. Fetch errors are retried with a fixed delay. Buffered deltas at or
// behind the snapshot sequence are discarded; the rest are replayed, and a
// replay gap restarts the bootstrap.
func (s *Synchronizer) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	if s.bootstrapping {
		s.mu.Unlock()
		return nil
	}
	s.bootstrapping = true
	s.mu.Unlock()

	return s.bootstrapLockedOut(ctx)
}

// bootstrapLockedOut runs the fetch/install cycle. The bootstrapping flag is
// already set, so concurrent deltas are buffered rather than applied.
func (s *Synchronizer) bootstrapLockedOut(ctx context.Context) error {
	for {
		payload, err := s.fetchSnapshot(ctx)
		if err != nil {
			s.mu.Lock()
			s.bootstrapping = false
			s.pending = nil
			s.mu.Unlock()
			return err
		}

		s.mu.Lock()
		s.book.applySnapshot(payload)
		replay, gap := s.drainPendingLocked()
		if gap {
			// A buffered delta still left a hole. Fetch again; the flag
			// stays up so new deltas keep buffering.
			s.metrics.IncCounter(observability.MetricRebootstraps, 1, s.labels())
			s.mu.Unlock()
			continue
		}
		s.bootstrapping = false
		s.mu.Unlock()

		s.emitSnapshot(payload)
		for _, delta := range replay {
			s.emitDiff(delta)
		}
		s.log.Info("order book bootstrapped",
			observability.F("market", s.market.Symbol()),
			observability.F("sequence", payload.Sequence),
			observability.F("replayed", len(replay)),
		)
		return nil
	}
}

// drainPendingLocked replays buffered deltas onto the freshly installed
// snapshot. Returns the applied deltas and whether a gap remains.
func (s *Synchronizer) drainPendingLocked() ([]schema.BookPayload, bool) {
	pending := s.pending
	s.pending = nil
	applied := make([]schema.BookPayload, 0, len(pending))
	for i, delta := range pending {
		if delta.Sequence <= s.book.sequence {
			continue
		}
		if delta.Sequence != s.book.sequence+1 {
			// Re-buffer the tail for the next attempt.
			s.pending = append(s.pending, pending[i:]...)
			return applied, true
		}
		s.book.applyDelta(delta)
		applied = append(applied, delta)
	}
	return applied, false
}

// ApplyDelta applies one streamed delta. Deltas must arrive in strictly
// increasing sequence order; anything at or behind the book is dropped as
// stale, and a gap marks the book invalid and starts a background bootstrap.
// The call never blocks on the snapshot fetch: later deltas buffer until the
// fresh snapshot lands.
func (s *Synchronizer) ApplyDelta(ctx context.Context, payload schema.BookPayload) (ApplyResult, error) {
	s.mu.Lock()
	if s.bootstrapping {
		s.pending = append(s.pending, payload)
		s.mu.Unlock()
		return Buffered, nil
	}
	if !s.book.ready {
		s.pending = append(s.pending, payload)
		s.bootstrapping = true
		s.mu.Unlock()
		s.rebootstrap(ctx)
		return Buffered, nil
	}
	if payload.Sequence <= s.book.sequence {
		s.mu.Unlock()
		return Stale, nil
	}
	if payload.Sequence == s.book.sequence+1 {
		s.book.applyDelta(payload)
		s.mu.Unlock()
		s.emitDiff(payload)
		return Applied, nil
	}

	// Sequence gap: the current book state is unusable for this market.
	s.log.Warn("sequence gap detected",
		observability.F("market", s.market.Symbol()),
		observability.F("expected", s.book.sequence+1),
		observability.F("received", payload.Sequence),
	)
	s.metrics.IncCounter(observability.MetricSequenceGaps, 1, s.labels())
	s.book.ready = false
	s.pending = append(s.pending, payload)
	s.bootstrapping = true
	s.mu.Unlock()

	s.rebootstrap(ctx)
	return GapDetected, nil
}

// rebootstrap runs the fetch cycle off the caller's goroutine. The caller is
// the stream dispatch path; parking it on the retry loop would stall order,
// balance, and other markets' messages behind one degraded REST endpoint.
func (s *Synchronizer) rebootstrap(ctx context.Context) {
	go func() {
		if err := s.bootstrapLockedOut(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("book re-bootstrap failed",
				observability.F("market", s.market.Symbol()),
				observability.F("error", err.Error()),
			)
		}
	}()
}

// ApplySet installs a full book pushed over the stream. A set carries
// complete state, so no sequence check applies. Sets arriving while a
// bootstrap fetch is in flight are dropped; the fresh snapshot supersedes
// them.
func (s *Synchronizer) ApplySet(payload schema.BookPayload) {
	s.mu.Lock()
	if s.bootstrapping {
		s.mu.Unlock()
		return
	}
	s.book.applySnapshot(payload)
	s.pending = nil
	s.mu.Unlock()
	s.emitSnapshot(payload)
}

// HandleTrade forwards a public trade print to the sink.
func (s *Synchronizer) HandleTrade(payload schema.TradePayload) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(schema.OrderBookUpdate{
		Kind:       schema.BookKindTrade,
		Market:     s.market,
		Sequence:   -1,
		Timestamp:  time.UnixMilli(payload.Timestamp).UTC(),
		TakerSide:  payload.Side,
		TradePrice: payload.Price,
		TradeSize:  payload.Amount,
	})
}

// fetchSnapshot retries the REST call with the fixed exchange-mandated delay.
func (s *Synchronizer) fetchSnapshot(ctx context.Context) (schema.BookPayload, error) {
	operation := func() (schema.BookPayload, error) {
		payload, err := s.fetch.Book(ctx, s.market.Symbol())
		if err != nil {
			s.log.Warn("snapshot fetch failed",
				observability.F("market", s.market.Symbol()),
				observability.F("error", err.Error()),
			)
			return schema.BookPayload{}, err
		}
		return payload, nil
	}
	// MaxElapsedTime zero lifts the library's default cap; retries stop only
	// on context cancellation.
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryInterval)),
		backoff.WithMaxElapsedTime(0),
	)
}

func (s *Synchronizer) emitSnapshot(payload schema.BookPayload) {
	if s.sink == nil {
		return
	}
	s.mu.Lock()
	bids, asks := s.book.Bids(), s.book.Asks()
	s.mu.Unlock()
	s.sink.Emit(schema.OrderBookUpdate{
		Kind:      schema.BookKindSnapshot,
		Market:    s.market,
		Sequence:  int64(payload.Sequence),
		Timestamp: time.UnixMilli(payload.Timestamp).UTC(),
		Bids:      bids,
		Asks:      asks,
	})
}

func (s *Synchronizer) emitDiff(payload schema.BookPayload) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(schema.OrderBookUpdate{
		Kind:      schema.BookKindDiff,
		Market:    s.market,
		Sequence:  int64(payload.Sequence),
		Timestamp: time.UnixMilli(payload.Timestamp).UTC(),
		Bids:      payload.Bids,
		Asks:      payload.Asks,
	})
}

func (s *Synchronizer) labels() map[string]string {
	return map[string]string{"market": s.market.Symbol()}
}
