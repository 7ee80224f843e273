package eventbus

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Path is where the server mounts the bus.
const Path = "/message-bus"

// Socket is a Bus reached through the server's websocket over its Unix
// socket. Every call opens its own connection.
type Socket struct {
	dialer *websocket.Dialer
	url    string
	log    *zap.Logger
}

type SocketOption func(*Socket)

func WithLogger(l *zap.Logger) SocketOption {
	return func(s *Socket) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHandshakeTimeout bounds connecting to the bus (not waiting on it).
func WithHandshakeTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.dialer.HandshakeTimeout = d }
}

func NewSocket(socket string, opts ...SocketOption) *Socket {
	var d net.Dialer
	s := &Socket{
		dialer: &websocket.Dialer{
			NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return d.DialContext(ctx, "unix", socket)
			},
			HandshakeTimeout: 5 * time.Second,
		},
		url: "ws://midi-daw" + Path,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrEventBus, err)
	}
	return conn, nil
}

func (s *Socket) Publish(ctx context.Context, name string) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(name)); err != nil {
		return fmt.Errorf("%w: publish %q: %v", ErrEventBus, name, err)
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.log.Debug("event published", zap.String("event", name))
	return nil
}

func (s *Socket) WaitFor(ctx context.Context, name string) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	want := normalize(name)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: waiting for %q: %v", ErrEventBus, name, err)
		}
		if normalize(string(frame)) == want {
			s.log.Debug("event received", zap.String("event", want))
			return nil
		}
	}
}
