// Package ws streams trade, price and market events from the signal bus to
// websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	// replayLimit caps the trades replayed to a resuming client. It must stay
	// below sendBufferSize.
	replayLimit = 200
)

// Channels are the bus channels relayed to clients.
var Channels = []string{domain.ChannelTrades, domain.ChannelPrices, domain.ChannelMarkets}

// Envelope is the frame written to clients. ID is set on replayed trades and
// is the stream position a client passes back as ?since= to resume.
type Envelope struct {
	Channel string          `json:"channel"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// subscribeMsg is sent by clients to change what they receive. An empty
// market list means every market.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
	Markets  []string `json:"markets"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.RWMutex
	subs    map[string]bool
	markets map[string]bool
}

type broadcastMsg struct {
	channel  string
	marketID string
	frame    []byte
}

// Hub fans bus messages out to connected websocket clients.
type Hub struct {
	bus        domain.SignalBus
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a Hub. allowedOrigins restricts browser origins; empty
// allows any.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowedOrigins) == 0 ||
				slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Run subscribes to the bus and serves clients until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for _, ch := range Channels {
		go h.relay(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(msg.channel, msg.marketID) {
					continue
				}
				select {
				case c.send <- msg.frame:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay forwards one bus channel into the broadcast loop.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			msg, err := newBroadcast(channel, data)
			if err != nil {
				h.logger.Warn("dropping malformed event", slog.String("channel", channel), slog.String("error", err.Error()))
				continue
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func newBroadcast(channel string, data []byte) (broadcastMsg, error) {
	var ref struct {
		MarketID string `json:"market_id"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return broadcastMsg{}, err
	}
	frame, err := json.Marshal(Envelope{Channel: channel, Data: data})
	if err != nil {
		return broadcastMsg{}, err
	}
	return broadcastMsg{channel: channel, marketID: ref.MarketID, frame: frame}, nil
}

// HandleWS upgrades the request and registers the client. New clients
// receive every channel for every market. With ?since=<id> ("0" for the
// oldest retained entry) the trades recorded after id are replayed first.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		subs:    make(map[string]bool),
		markets: make(map[string]bool),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	if since := r.URL.Query().Get("since"); since != "" {
		h.replay(r.Context(), c, since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// replay queues the trades streamed after since. It runs before the client is
// registered, so live events follow the replayed ones.
func (h *Hub) replay(ctx context.Context, c *client, since string) {
	msgs, err := h.bus.StreamRead(ctx, domain.StreamTrades, since, replayLimit)
	if err != nil {
		h.logger.Warn("trade replay failed", slog.String("since", since), slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		frame, err := json.Marshal(Envelope{Channel: domain.ChannelTrades, ID: m.ID, Data: m.Payload})
		if err != nil {
			h.logger.Warn("dropping malformed stream entry", slog.String("id", m.ID), slog.String("error", err.Error()))
			continue
		}
		c.send <- frame
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) wants(channel, marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.subs[channel] {
		return false
	}
	return len(c.markets) == 0 || c.markets[marketID]
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	on := msg.Action != "unsubscribe"
	for _, ch := range msg.Channels {
		if on {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
	for _, m := range msg.Markets {
		if on {
			c.markets[m] = true
		} else {
			delete(c.markets, m)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(message, &msg); err == nil && (msg.Action == "subscribe" || msg.Action == "unsubscribe") {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
