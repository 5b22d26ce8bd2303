// Package websocket pushes JSON state snapshots to connected UI clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/livesub/pkg/errorsx"
	"github.com/harunnryd/livesub/pkg/logging"
)

const writeWait = 5 * time.Second

// Hub fans the latest snapshot out to every client. Slow clients skip
// intermediate snapshots and always receive the newest one.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
	closed  bool
}

type client struct {
	conn   *websocket.Conn
	notify chan []byte
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logging.NewComponentLogger(log, "snapshot_hub"),
		clients: make(map[*client]struct{}),
	}
}

// Publish encodes v and hands it to every client.
func (h *Hub) Publish(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.last = b
	for c := range h.clients {
		offer(c.notify, b)
	}
	return nil
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, notify: make(chan []byte, 1)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		offer(c.notify, h.last)
	}
	h.mu.Unlock()
	h.logger.Info("snapshot_client_connected", slog.String("remote", r.RemoteAddr))

	go h.readLoop(c)
	h.writeLoop(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.notify)
		delete(h.clients, c)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.drop(c)
	for msg := range c.notify {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("snapshot_write_failed",
				slog.String("error", err.Error()),
				slog.String("reason", string(errorsx.ReasonTransportSend)))
			return
		}
	}
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.notify)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// offer replaces any undelivered message with msg.
func offer(ch chan []byte, msg []byte) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

// Forward publishes every value received on updates until ctx ends or the
// channel closes.
func Forward[T any](ctx context.Context, h *Hub, updates <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			if err := h.Publish(v); err != nil {
				h.logger.Warn("snapshot_encode_failed", slog.String("error", err.Error()))
			}
		}
	}
}
