// Package book maintains locally-consistent order books from REST snapshots
// and streamed deltas, detecting sequence gaps and re-synchronizing.
package book

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/litebridge/internal/schema"
)

// Book is the reconciled state of one market's order book. It is owned
// exclusively by its Synchronizer; callers receive copies.
type Book struct {
	bids      map[string]decimal.Decimal
	asks      map[string]decimal.Decimal
	sequence  uint64
	timestamp time.Time
	ready     bool
}

func newBook() *Book {
	return &Book{
		bids: make(map[string]decimal.Decimal),
		asks: make(map[string]decimal.Decimal),
	}
}

// applySnapshot replaces the whole book state.
func (b *Book) applySnapshot(payload schema.BookPayload) {
	b.bids = make(map[string]decimal.Decimal, len(payload.Bids))
	b.asks = make(map[string]decimal.Decimal, len(payload.Asks))
	b.applyLevels(payload.Bids, payload.Asks)
	b.sequence = payload.Sequence
	b.timestamp = time.UnixMilli(payload.Timestamp).UTC()
	b.ready = true
}

// applyDelta upserts the changed levels and advances the sequence. The caller
// has already validated sequence contiguity.
func (b *Book) applyDelta(payload schema.BookPayload) {
	b.applyLevels(payload.Bids, payload.Asks)
	b.sequence = payload.Sequence
	b.timestamp = time.UnixMilli(payload.Timestamp).UTC()
}

func (b *Book) applyLevels(bids, asks []schema.PriceLevel) {
	for _, level := range bids {
		upsertLevel(b.bids, level)
	}
	for _, level := range asks {
		upsertLevel(b.asks, level)
	}
}

// upsertLevel sets the size at a price, removing the level when size is zero.
func upsertLevel(side map[string]decimal.Decimal, level schema.PriceLevel) {
	key := level.Price.String()
	if level.Size.Sign() <= 0 {
		delete(side, key)
		return
	}
	side[key] = level.Size
}

// Sequence returns the last applied sequence number.
func (b *Book) Sequence() uint64 { return b.sequence }

// Ready reports whether a snapshot has been applied.
func (b *Book) Ready() bool { return b.ready }

// Bids returns the bid side sorted descending by price.
func (b *Book) Bids() []schema.PriceLevel { return sortedLevels(b.bids, true) }

// Asks returns the ask side sorted ascending by price.
func (b *Book) Asks() []schema.PriceLevel { return sortedLevels(b.asks, false) }

func sortedLevels(side map[string]decimal.Decimal, desc bool) []schema.PriceLevel {
	if len(side) == 0 {
		return nil
	}
	levels := make([]schema.PriceLevel, 0, len(side))
	for price, size := range side {
		levels = append(levels, schema.PriceLevel{
			Price: decimal.RequireFromString(price),
			Size:  size,
		})
	}
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}
