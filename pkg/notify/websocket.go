package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/logging"
)

// wsWakeup is the only message shape this bridge ever sends: a single
// advertised index, never entry bodies.
type wsWakeup struct {
	HighestIndex int64 `json:"highest_index"`
}

// WSHub is the server side of a WebSocket Notifier: it accepts
// upgraded connections and broadcasts wake-ups to all of them.
type WSHub struct {
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewWSHub creates an empty hub. logger may be nil, in which case a
// plain-text logger is used.
func NewWSHub(logger logging.Logger) *WSHub {
	if logger == nil {
		logger = logging.New(logging.Config{})
	}
	return &WSHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// HandleWebSocket upgrades the HTTP request to a WebSocket connection
// and registers it for future broadcasts.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.drain(conn)
}

// drain reads (and discards) frames from conn only to detect when the
// client disconnects; the protocol is push-only from the server.
func (h *WSHub) drain(conn *websocket.Conn) {
	defer h.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Notify implements Notifier by broadcasting to every connected client.
func (h *WSHub) Notify(ctx context.Context, highestIndex logentry.LogIndex) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	msg := wsWakeup{HighestIndex: int64(highestIndex)}
	for _, c := range conns {
		if err := c.WriteJSON(msg); err != nil {
			h.logger.Warnf("websocket broadcast to client failed: %v", err)
			h.remove(c)
		}
	}
	return nil
}

// Subscribe is not meaningful on the server-side hub; the hub is a
// fan-out point, not a subscriber. It always returns an error.
func (h *WSHub) Subscribe(ctx context.Context) (<-chan logentry.LogIndex, error) {
	return nil, fmt.Errorf("notify: WSHub is a broadcaster, use WSClient to subscribe")
}

// Close disconnects every connected client.
func (h *WSHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	return nil
}

// WSClient is the client side: it dials a WSHub's endpoint and turns
// incoming wake-ups into a channel of indices.
type WSClient struct {
	conn *websocket.Conn
}

// DialWS connects to a WSHub at url (e.g. "ws://host:port/notify").
func DialWS(url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("notify: dial %s: %w", url, err)
	}
	return &WSClient{conn: conn}, nil
}

// Notify is not meaningful on the client side; only the hub broadcasts.
func (c *WSClient) Notify(ctx context.Context, highestIndex logentry.LogIndex) error {
	return fmt.Errorf("notify: WSClient cannot broadcast, use WSHub")
}

// Subscribe returns a channel fed by every wake-up read off the
// connection until ctx is canceled or the connection closes.
func (c *WSClient) Subscribe(ctx context.Context) (<-chan logentry.LogIndex, error) {
	out := make(chan logentry.LogIndex, 16)
	go func() {
		defer close(out)
		defer c.conn.Close()
		for {
			var msg wsWakeup
			if err := c.conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case out <- logentry.LogIndex(msg.HighestIndex):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close disconnects the client.
func (c *WSClient) Close() error {
	return c.conn.Close()
}

var (
	_ Notifier = (*WSHub)(nil)
	_ Notifier = (*WSClient)(nil)
)
