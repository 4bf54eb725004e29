package schema

import (
	"github.com/goccy/go-json"

	"github.com/coachpo/litebridge/errs"
)

// Message is a tagged variant parsed once at the transport boundary.
// Downstream components switch on the concrete type instead of probing keys.
type Message interface {
	message()
}

// BookMessage carries an order book set or delta from the book channel.
type BookMessage struct {
	Book BookPayload
}

// TradeMessage carries a public trade notification.
type TradeMessage struct {
	Trade TradePayload
}

// OrderMessage carries an order update from the user stream.
type OrderMessage struct {
	Order OrderPayload
}

// BalanceMessage carries a balance update from the user stream.
type BalanceMessage struct {
	Balance BalancePayload
}

// AuthAck acknowledges an authenticate request.
type AuthAck struct{}

// SubscribeAck acknowledges a subscribe or unsubscribe request.
type SubscribeAck struct {
	Channels []string
}

func (BookMessage) message()    {}
func (TradeMessage) message()   {}
func (OrderMessage) message()   {}
func (BalanceMessage) message() {}
func (AuthAck) message()        {}
func (SubscribeAck) message()   {}

// ErrUnknownEvent is returned by ParseMessage for events the connector does
// not consume. Callers skip these rather than failing the stream.
var ErrUnknownEvent = errs.New("schema/message", errs.CodeInvalid, errs.WithMessage("unknown event"))

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseMessage decodes a raw websocket frame into its tagged variant.
func ParseMessage(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.New("schema/message", errs.CodeInvalid,
			errs.WithMessage("malformed envelope"), errs.WithCause(err))
	}

	switch env.Event {
	case "book":
		var payload BookPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, errs.New("schema/message", errs.CodeInvalid,
				errs.WithMessage("malformed book payload"), errs.WithCause(err))
		}
		return BookMessage{Book: payload}, nil
	case "trade":
		var payload TradePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, errs.New("schema/message", errs.CodeInvalid,
				errs.WithMessage("malformed trade payload"), errs.WithCause(err))
		}
		return TradeMessage{Trade: payload}, nil
	case "order":
		var payload OrderPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, errs.New("schema/message", errs.CodeInvalid,
				errs.WithMessage("malformed order payload"), errs.WithCause(err))
		}
		return OrderMessage{Order: payload}, nil
	case "balance":
		var payload BalancePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, errs.New("schema/message", errs.CodeInvalid,
				errs.WithMessage("malformed balance payload"), errs.WithCause(err))
		}
		return BalanceMessage{Balance: payload}, nil
	case "authenticate":
		return AuthAck{}, nil
	case "subscribe", "unsubscribe":
		var channels []string
		_ = json.Unmarshal(env.Data, &channels)
		return SubscribeAck{Channels: channels}, nil
	default:
		return nil, ErrUnknownEvent
	}
}

// Request is an outbound websocket payload using the same envelope shape.
type Request struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EncodeRequest serialises an outbound request frame.
func EncodeRequest(event string, data any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(Request{Event: event, Data: data})
	if err != nil {
		return nil, errs.New("schema/message", errs.CodeInvalid,
			errs.WithMessage("encode request"), errs.WithCause(err))
	}
	return raw, nil
}
