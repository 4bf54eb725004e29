// Package poller schedules the REST reconciliation loops that back up the
// websocket stream.
package poller

import (
	"context"
	"time"

	"github.com/coachpo/litebridge/internal/observability"
	"github.com/coachpo/litebridge/lib/async"
)

const (
	// DefaultShortInterval applies while the stream looks unhealthy.
	DefaultShortInterval = 5 * time.Second
	// DefaultLongInterval applies while the stream is delivering messages.
	DefaultLongInterval = 2 * time.Minute
	// DefaultRuleInterval spaces trading-rule refreshes.
	DefaultRuleInterval = time.Minute
	// DefaultOrderStatusTick is the bucket width gating order-status polls.
	DefaultOrderStatusTick = 10 * time.Second

	// streamSilenceThreshold is how long the stream may stay quiet before the
	// scheduler assumes it is degraded and tightens the polling interval.
	streamSilenceThreshold = time.Minute

	baseTick = time.Second
)

// Target is the reconciliation surface driven by the scheduler.
type Target interface {
	RefreshBalances(ctx context.Context) error
	RefreshOrderStatus(ctx context.Context)
	RefreshTradingRules(ctx context.Context) error
	ActiveCount() int
}

// StreamHealth reports when the last stream message arrived. The zero time
// means no message was ever received.
type StreamHealth interface {
	LastMessageAt() time.Time
}

// Scheduler drives the REST polling loops. Polling is the safety net for the
// stream: the interval tightens when the stream goes silent and relaxes while
// it is healthy. A poll failure is logged and the schedule carries on.
type Scheduler struct {
	target  Target
	stream  StreamHealth
	log     observability.Logger
	metrics observability.Metrics
	clock   func() time.Time

	shortInterval   time.Duration
	longInterval    time.Duration
	ruleInterval    time.Duration
	orderStatusTick time.Duration

	// tick is the status loop's wake-up period, overridable in tests.
	tick time.Duration

	lastPoll      time.Time
	lastOrderTick int64
}

// Options configures a Scheduler. Zero durations apply the defaults.
type Options struct {
	Target  Target
	Stream  StreamHealth
	Logger  observability.Logger
	Metrics observability.Metrics
	Clock   func() time.Time

	ShortInterval   time.Duration
	LongInterval    time.Duration
	RuleInterval    time.Duration
	OrderStatusTick time.Duration
}

// NewScheduler constructs a scheduler.
func NewScheduler(opts Options) *Scheduler {
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
	s := &Scheduler{
		target:          opts.Target,
		stream:          opts.Stream,
		log:             logger,
		metrics:         metrics,
		clock:           clock,
		shortInterval:   opts.ShortInterval,
		longInterval:    opts.LongInterval,
		ruleInterval:    opts.RuleInterval,
		orderStatusTick: opts.OrderStatusTick,
		tick:            baseTick,
	}
	if s.shortInterval <= 0 {
		s.shortInterval = DefaultShortInterval
	}
	if s.longInterval <= 0 {
		s.longInterval = DefaultLongInterval
	}
	if s.ruleInterval <= 0 {
		s.ruleInterval = DefaultRuleInterval
	}
	if s.orderStatusTick <= 0 {
		s.orderStatusTick = DefaultOrderStatusTick
	}
	return s
}

// Run blocks until the context is cancelled, driving the status and
// trading-rule loops.
func (s *Scheduler) Run(ctx context.Context) error {
	group := async.NewGroup(ctx)
	group.Go(s.statusLoop)
	group.Go(s.rulesLoop)
	return group.Wait()
}

// statusLoop wakes every second and polls balances plus order status whenever
// the current interval has elapsed. The first pass fires immediately.
func (s *Scheduler) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.pollStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.clock().Sub(s.lastPoll) >= s.currentInterval() {
				s.pollStatus(ctx)
			}
		}
	}
}

// currentInterval picks the polling cadence from stream health.
func (s *Scheduler) currentInterval() time.Duration {
	if s.stream == nil {
		return s.shortInterval
	}
	last := s.stream.LastMessageAt()
	if last.IsZero() || s.clock().Sub(last) > streamSilenceThreshold {
		return s.shortInterval
	}
	return s.longInterval
}

func (s *Scheduler) pollStatus(ctx context.Context) {
	now := s.clock()
	s.lastPoll = now
	s.metrics.IncCounter(observability.MetricPollRuns, 1, map[string]string{"kind": "status"})

	if err := s.target.RefreshBalances(ctx); err != nil {
		s.log.Warn("balance poll failed", observability.F("error", err.Error()))
	}

	// Order status is polled at most once per tick bucket, and only while
	// orders are actually in flight.
	tick := now.UnixNano() / int64(s.orderStatusTick)
	if tick > s.lastOrderTick && s.target.ActiveCount() > 0 {
		s.lastOrderTick = tick
		s.target.RefreshOrderStatus(ctx)
	}
}

func (s *Scheduler) rulesLoop(ctx context.Context) error {
	if err := s.target.RefreshTradingRules(ctx); err != nil {
		s.log.Warn("trading rule refresh failed", observability.F("error", err.Error()))
	}
	for {
		timer := time.NewTimer(s.ruleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		s.metrics.IncCounter(observability.MetricPollRuns, 1, map[string]string{"kind": "rules"})
		if err := s.target.RefreshTradingRules(ctx); err != nil {
			s.log.Warn("trading rule refresh failed", observability.F("error", err.Error()))
		}
	}
}
