package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub is the server side of the bus. Text frames from one connection are
// relayed to every other connection as JSON strings. In-process
// publishers reach all connections and Local waiters alike.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger
	local    *Local

	mu    sync.Mutex
	conns map[*hubConn]struct{}
}

type hubConn struct {
	ws   *websocket.Conn
	send chan []byte
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:   log,
		local: NewLocal(),
		conns: make(map[*hubConn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("message bus upgrade failed", zap.Error(err))
		return
	}
	c := &hubConn{ws: ws, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	h.readLoop(c)

	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	close(c.send)
}

func (h *Hub) readLoop(c *hubConn) {
	defer c.ws.Close()
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.broadcast(c, string(data))
	}
}

func (c *hubConn) writeLoop() {
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *Hub) broadcast(from *hubConn, name string) {
	frame, _ := json.Marshal(name)
	h.mu.Lock()
	for c := range h.conns {
		if c == from {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.log.Warn("message bus subscriber too slow, event dropped", zap.String("event", name))
		}
	}
	h.mu.Unlock()
	h.local.Publish(context.Background(), name)
}

// Publish sends name to every connection and in-process waiter.
func (h *Hub) Publish(ctx context.Context, name string) error {
	h.broadcast(nil, name)
	return nil
}

// WaitFor waits in-process for an event from any source.
func (h *Hub) WaitFor(ctx context.Context, name string) error {
	return h.local.WaitFor(ctx, name)
}

// Connections is the number of open websocket subscribers.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
