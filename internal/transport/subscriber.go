package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coachpo/litebridge/errs"
	"github.com/coachpo/litebridge/internal/auth"
	"github.com/coachpo/litebridge/internal/observability"
	"github.com/coachpo/litebridge/internal/schema"
)

const (
	// DefaultReadTimeout is the maximum silence tolerated on the socket
	// before the connection's liveness is probed. Quiet markets legitimately
	// hit this window.
	DefaultReadTimeout = 30 * time.Second
	// DefaultPingTimeout bounds the liveness ping issued after a read
	// timeout. A ping that does not come back inside this window means the
	// connection is dead.
	DefaultPingTimeout = 10 * time.Second
	// DefaultReconnectDelay spaces reconnection attempts after a session drop.
	DefaultReconnectDelay = 30 * time.Second
	// DefaultQueueSize bounds the parsed-message queue. A full queue applies
	// backpressure to the socket read rather than dropping messages.
	DefaultQueueSize = 256

	// authGrace is the pause after sending credentials; the exchange does not
	// acknowledge authentication in-band and rejects subscribes sent inside
	// this window.
	authGrace = time.Second
)

// State is the subscriber's connection state.
type State int32

const (
	// StateDisconnected means no session is up.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateAuthenticating means the authenticate handshake is in flight.
	StateAuthenticating
	// StateSubscribed means channels are active and frames are flowing.
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Subscriber owns the websocket session: it dials, authenticates when
// credentials are present, subscribes its channels, and feeds parsed messages
// into a bounded queue. A dropped session reconnects after a fixed delay and
// resubscribes before any frame is consumed.
type Subscriber struct {
	url     string
	signer  *auth.Signer
	log     observability.Logger
	metrics observability.Metrics
	dial    dialFunc

	channels       []string
	readTimeout    time.Duration
	pingTimeout    time.Duration
	reconnectDelay time.Duration
	grace          time.Duration

	out         chan schema.Message
	state       atomic.Int32
	lastMessage atomic.Int64
}

// Options configures a Subscriber.
type Options struct {
	URL     string
	Markets []schema.Market
	// Signer enables the private orders and balances channels when configured.
	Signer  *auth.Signer
	Logger  observability.Logger
	Metrics observability.Metrics

	ReadTimeout    time.Duration
	PingTimeout    time.Duration
	ReconnectDelay time.Duration
	QueueSize      int
}

// NewSubscriber constructs a subscriber for the given markets.
func NewSubscriber(opts Options) *Subscriber {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	channels := make([]string, 0, len(opts.Markets)+2)
	for _, market := range opts.Markets {
		channels = append(channels, "book:"+market.Symbol())
	}
	if opts.Signer.Configured() {
		channels = append(channels, "orders", "balances")
	}
	s := &Subscriber{
		url:            opts.URL,
		signer:         opts.Signer,
		log:            logger,
		metrics:        metrics,
		dial:           dialSocket,
		channels:       channels,
		readTimeout:    opts.ReadTimeout,
		pingTimeout:    opts.PingTimeout,
		reconnectDelay: opts.ReconnectDelay,
		grace:          authGrace,
		out:            make(chan schema.Message, queueSize(opts.QueueSize)),
	}
	if s.readTimeout <= 0 {
		s.readTimeout = DefaultReadTimeout
	}
	if s.pingTimeout <= 0 {
		s.pingTimeout = DefaultPingTimeout
	}
	if s.reconnectDelay <= 0 {
		s.reconnectDelay = DefaultReconnectDelay
	}
	return s
}

func queueSize(n int) int {
	if n <= 0 {
		return DefaultQueueSize
	}
	return n
}

// Messages returns the parsed-message queue.
func (s *Subscriber) Messages() <-chan schema.Message { return s.out }

// State returns the current connection state.
func (s *Subscriber) State() State { return State(s.state.Load()) }

// LastMessageAt reports when the last frame arrived, zero if none has.
func (s *Subscriber) LastMessageAt() time.Time {
	nanos := s.lastMessage.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (s *Subscriber) setState(state State) { s.state.Store(int32(state)) }

// Run maintains the session until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reason := "connection closed"
		if err != nil {
			reason = err.Error()
		}
		s.log.Warn("stream session ended",
			observability.F("error", reason),
			observability.F("retry_in", s.reconnectDelay.String()),
		)
		s.metrics.IncCounter(observability.MetricReconnects, 1, nil)
		if err := sleepCtx(ctx, s.reconnectDelay); err != nil {
			return err
		}
	}
}

// session runs one connection from dial to failure.
func (s *Subscriber) session(ctx context.Context) error {
	s.setState(StateConnecting)
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	if s.signer.Configured() {
		if err := s.authenticate(ctx, conn); err != nil {
			return err
		}
	}
	if err := s.subscribe(ctx, conn); err != nil {
		return err
	}
	s.setState(StateSubscribed)
	s.log.Info("stream subscribed", observability.F("channels", len(s.channels)))

	return s.readLoop(ctx, conn)
}

// authenticate sends credentials and waits out the grace period before any
// subscribe goes on the wire. The exchange does not acknowledge success
// in-band for this flow; a later authenticate frame is informational only.
func (s *Subscriber) authenticate(ctx context.Context, conn wire) error {
	s.setState(StateAuthenticating)
	frame, err := schema.EncodeRequest("authenticate", s.signer.WSAuthPayload())
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, frame); err != nil {
		return err
	}
	return sleepCtx(ctx, s.grace)
}

func (s *Subscriber) subscribe(ctx context.Context, conn wire) error {
	if len(s.channels) == 0 {
		return nil
	}
	// The subscribe payload is the bare channel list, not an object.
	frame, err := schema.EncodeRequest("subscribe", s.channels)
	if err != nil {
		return err
	}
	return conn.Write(ctx, frame)
}

func (s *Subscriber) readLoop(ctx context.Context, conn wire) error {
	for {
		readCtx, cancel := context.WithTimeout(ctx, s.readTimeout)
		data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				// A quiet channel and a dead connection look the same from
				// here. Probe with a single bounded ping and keep reading if
				// the connection answers.
				if err := s.pingCheck(ctx, conn); err != nil {
					return err
				}
				continue
			}
			return err
		}
		s.lastMessage.Store(time.Now().UnixNano())

		msg, err := schema.ParseMessage(data)
		if err != nil {
			if errors.Is(err, schema.ErrUnknownEvent) {
				s.log.Debug("skipping unknown event")
			} else {
				s.log.Warn("malformed frame", observability.F("error", err.Error()))
			}
			continue
		}
		switch msg.(type) {
		case schema.AuthAck, schema.SubscribeAck:
			// Nothing downstream consumes acks.
			s.log.Debug("stream ack received")
			continue
		}
		select {
		case s.out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscriber) pingCheck(ctx context.Context, conn wire) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return errs.New("transport/ping", errs.CodeNetwork,
			errs.WithMessage("liveness ping failed"), errs.WithCause(err))
	}
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
