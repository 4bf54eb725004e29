// Package transport maintains the websocket session with the exchange and
// turns raw frames into parsed messages exactly once.
package transport

import (
	"context"

	"github.com/coder/websocket"

	"github.com/coachpo/litebridge/errs"
)

// maxFrameSize bounds inbound frames; full book snapshots on busy markets
// run to a few hundred kilobytes.
const maxFrameSize = 1 << 20

// wire is one live websocket connection. The indirection keeps the session
// logic testable without a network listener.
type wire interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close() error
}

type dialFunc func(ctx context.Context, url string) (wire, error)

type socket struct {
	conn *websocket.Conn
}

func dialSocket(ctx context.Context, url string) (wire, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errs.New("transport/dial", errs.CodeNetwork,
			errs.WithMessage("dial "+url), errs.WithCause(err))
	}
	conn.SetReadLimit(maxFrameSize)
	return &socket{conn: conn}, nil
}

func (s *socket) Read(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := s.conn.Read(ctx)
		if err != nil {
			return nil, errs.New("transport/read", errs.CodeNetwork, errs.WithCause(err))
		}
		if msgType != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (s *socket) Write(ctx context.Context, data []byte) error {
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return errs.New("transport/write", errs.CodeNetwork, errs.WithCause(err))
	}
	return nil
}

func (s *socket) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return errs.New("transport/ping", errs.CodeNetwork, errs.WithCause(err))
	}
	return nil
}

func (s *socket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "shutdown")
}
