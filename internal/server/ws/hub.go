// Package ws exposes the trade tail: a WebSocket hub that consumes arb.trades
// and broadcasts entries to connected UI clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	readBlock   = time.Second
	readCount   = 50
	readBackoff = 300 * time.Millisecond
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS policy is enforced by the HTTP middleware chain.
		return true
	},
}

// client represents a single WebSocket connection. unfiltered clients receive
// every trade; the default view is executor-sourced taken trades only.
type client struct {
	conn       *websocket.Conn
	send       chan []byte
	unfiltered bool
}

// Hub manages connected clients and broadcasts trades read from the bus.
type Hub struct {
	bus      domain.Bus
	consumer string
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a Hub reading the trade stream as the given consumer name.
func NewHub(bus domain.Bus, consumer string, logger *slog.Logger) *Hub {
	return &Hub{
		bus:      bus,
		consumer: consumer,
		logger:   logger.With(slog.String("component", "ws_hub")),
		clients:  make(map[*client]struct{}),
	}
}

// Run consumes arb.trades (group tail) and fans entries out to connected
// clients until the context is cancelled. Every entry is acknowledged; a
// client with a full send buffer is disconnected rather than blocking the
// tail.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.bus.EnsureGroup(ctx, domain.StreamTrades, domain.GroupTail); err != nil {
		return err
	}

	h.logger.Info("trade tail started")
	defer h.logger.Info("trade tail stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entries, err := h.bus.ReadGroup(ctx, domain.StreamTrades, domain.GroupTail, h.consumer, readCount, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.logger.Warn("bus read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readBackoff):
			}
			continue
		}

		for _, entry := range entries {
			h.broadcast(entry.Payload)
			if err := h.bus.Ack(ctx, domain.StreamTrades, domain.GroupTail, entry.ID); err != nil {
				h.logger.Warn("ack failed", slog.String("entry", entry.ID), slog.String("error", err.Error()))
			}
		}
	}
}

// broadcast routes one trade payload to every eligible client.
func (h *Hub) broadcast(payload []byte) {
	var trade domain.Trade
	if err := json.Unmarshal(payload, &trade); err != nil {
		h.logger.Warn("trade parse failed", slog.String("error", err.Error()))
		return
	}
	executorTaken := trade.Source == domain.SourceExecutor && trade.Taken

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.unfiltered && !executorTaken {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop the connection, not the tail.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// HandleWS upgrades the connection and registers the client. ?all=1 opts out
// of the executor/taken filter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	unfiltered := false
	if v := r.URL.Query().Get("all"); v != "" {
		if b, err := domain.ParseToggleBool(v); err == nil {
			unfiltered = b
		}
	}

	c := &client{
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		unfiltered: unfiltered,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// writePump flushes the client's send channel and keeps the connection alive
// with periodic pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains incoming frames (only pongs and closes are expected) and
// unregisters the client when the connection drops.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
