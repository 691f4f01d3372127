package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"toy-exchange/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Public read-only feed; nothing sensitive crosses it.
		return true
	},
}

// Hub fans executed trades out to WebSocket clients, keyed by ticker.
// It implements engine.TradeSink and receives trades after their
// transaction commits.
type Hub struct {
	clients    map[string]map[*Client]bool // ticker → subscribers
	register   chan *Client
	unregister chan *Client
	broadcast  chan types.Transaction
	logger     *slog.Logger
}

// Client represents a connected WebSocket subscriber.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	ticker string
	send   chan []byte
}

// NewHub creates a new trade hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan types.Transaction, 256),
		logger:     logger.With("component", "trade-hub"),
	}
}

// PublishTrade queues a committed trade for broadcast. Non-blocking: if
// the hub is saturated the event is dropped (clients can re-read history
// over REST).
func (h *Hub) PublishTrade(t types.Transaction) {
	select {
	case h.broadcast <- t:
	default:
		h.logger.Warn("broadcast channel full, dropping trade", "ticker", t.Ticker)
	}
}

// Run is the hub's main loop (call in a goroutine).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			subs, ok := h.clients[client.ticker]
			if !ok {
				subs = make(map[*Client]bool)
				h.clients[client.ticker] = subs
			}
			subs[client] = true
			h.logger.Info("client subscribed", "ticker", client.ticker, "count", len(subs))

		case client := <-h.unregister:
			if subs, ok := h.clients[client.ticker]; ok {
				if _, ok := subs[client]; ok {
					delete(subs, client)
					close(client.send)
				}
			}

		case trade := <-h.broadcast:
			data, err := json.Marshal(TradeEvent{
				Type:      "trade",
				Timestamp: trade.Timestamp,
				Data:      trade,
			})
			if err != nil {
				h.logger.Error("failed to marshal trade event", "error", err)
				continue
			}
			for client := range h.clients[trade.Ticker] {
				select {
				case client.send <- data:
				default:
					// Client can't keep up, close it
					close(client.send)
					delete(h.clients[trade.Ticker], client)
				}
			}
		}
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// writePump pumps trade events from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump drains the connection; the feed is read-only, so inbound
// messages are discarded and only liveness matters.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
	}
}

// NewClient registers a subscriber for one ticker and starts its pumps.
func NewClient(hub *Hub, conn *websocket.Conn, ticker string) *Client {
	client := &Client{
		hub:    hub,
		conn:   conn,
		ticker: ticker,
		send:   make(chan []byte, 64),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
