package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingTarget struct {
	balances    atomic.Int64
	orderStatus atomic.Int64
	rules       atomic.Int64
	active      atomic.Int64
	balanceErr  error
}

func (t *countingTarget) RefreshBalances(ctx context.Context) error {
	t.balances.Add(1)
	return t.balanceErr
}

func (t *countingTarget) RefreshOrderStatus(ctx context.Context) {
	t.orderStatus.Add(1)
}

func (t *countingTarget) RefreshTradingRules(ctx context.Context) error {
	t.rules.Add(1)
	return nil
}

func (t *countingTarget) ActiveCount() int {
	return int(t.active.Load())
}

type fixedStream struct {
	last time.Time
}

func (f fixedStream) LastMessageAt() time.Time { return f.last }

func runScheduler(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSilentStreamTightensInterval(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Options{
		Target:        target,
		Stream:        fixedStream{}, // zero time: stream never delivered
		ShortInterval: 5 * time.Millisecond,
		LongInterval:  time.Hour,
		RuleInterval:  time.Hour,
	})
	s.tick = time.Millisecond

	runScheduler(t, s, 100*time.Millisecond)
	if got := target.balances.Load(); got < 2 {
		t.Fatalf("expected repeated polls on the short interval, got %d", got)
	}
}

func TestHealthyStreamRelaxesInterval(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Options{
		Target:        target,
		Stream:        fixedStream{last: time.Now().Add(time.Hour)},
		ShortInterval: 5 * time.Millisecond,
		LongInterval:  time.Hour,
		RuleInterval:  time.Hour,
	})
	s.tick = time.Millisecond

	runScheduler(t, s, 100*time.Millisecond)
	if got := target.balances.Load(); got != 1 {
		t.Fatalf("expected only the initial poll on the long interval, got %d", got)
	}
}

func TestOrderStatusSkippedWithoutActiveOrders(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Options{
		Target:          target,
		Stream:          fixedStream{},
		ShortInterval:   5 * time.Millisecond,
		LongInterval:    time.Hour,
		RuleInterval:    time.Hour,
		OrderStatusTick: time.Millisecond,
	})
	s.tick = time.Millisecond

	runScheduler(t, s, 60*time.Millisecond)
	if got := target.orderStatus.Load(); got != 0 {
		t.Fatalf("order status polled with no active orders: %d", got)
	}
}

func TestOrderStatusPolledWithActiveOrders(t *testing.T) {
	target := &countingTarget{}
	target.active.Store(1)
	s := NewScheduler(Options{
		Target:          target,
		Stream:          fixedStream{},
		ShortInterval:   5 * time.Millisecond,
		LongInterval:    time.Hour,
		RuleInterval:    time.Hour,
		OrderStatusTick: time.Millisecond,
	})
	s.tick = time.Millisecond

	runScheduler(t, s, 100*time.Millisecond)
	if got := target.orderStatus.Load(); got == 0 {
		t.Fatal("order status never polled despite active orders")
	}
}

func TestPollFailuresDoNotStopTheSchedule(t *testing.T) {
	target := &countingTarget{balanceErr: errors.New("http 503")}
	s := NewScheduler(Options{
		Target:        target,
		Stream:        fixedStream{},
		ShortInterval: 5 * time.Millisecond,
		LongInterval:  time.Hour,
		RuleInterval:  time.Hour,
	})
	s.tick = time.Millisecond

	runScheduler(t, s, 100*time.Millisecond)
	if got := target.balances.Load(); got < 2 {
		t.Fatalf("schedule stopped after poll failure, %d polls", got)
	}
}

func TestTradingRulesRefreshOnStartupAndInterval(t *testing.T) {
	target := &countingTarget{}
	s := NewScheduler(Options{
		Target:        target,
		Stream:        fixedStream{last: time.Now().Add(time.Hour)},
		ShortInterval: time.Hour,
		LongInterval:  time.Hour,
		RuleInterval:  10 * time.Millisecond,
	})

	runScheduler(t, s, 100*time.Millisecond)
	if got := target.rules.Load(); got < 2 {
		t.Fatalf("expected startup refresh plus periodic refreshes, got %d", got)
	}
}
