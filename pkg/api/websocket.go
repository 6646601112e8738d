package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/events"
)

const (
	ordersChannel = "orders:"
	bookChannel   = "book:"
	tradesChannel = "trades:"

	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub maintains active WebSocket connections and pushes exchange events to
// the clients subscribed to the matching channel. It is an events.Subscriber.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// done is closed when Run returns
	done chan struct{}

	// snapshot renders the current book of a pair for book:<pair> pushes
	snapshot func(order.Pair) (BookSnapshot, bool)

	log *zap.SugaredLogger
	mu  sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main loop. It closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_connected", "client", client.id, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Infow("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			close(h.done)
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver routes one exchange event to its channels. Slow clients miss
// messages rather than stalling delivery.
func (h *Hub) Deliver(_ context.Context, e events.Event) error {
	switch {
	case e.Order != nil:
		o := e.Order
		h.BroadcastToChannel(ordersChannel+o.Creator.Hex(), WSMessage{
			Type: string(e.Type),
			Seq:  e.Seq,
			Data: OrderUpdate{
				Creator:   o.Creator.Hex(),
				Nonce:     o.Nonce,
				SymbolIn:  o.SymbolIn,
				SymbolOut: o.SymbolOut,
				Status:    o.Status.String(),
				Filled:    str(o.Filled),
				Remaining: str(o.Remaining),
				Reason:    o.Reason,
				Timestamp: e.Time.UnixMilli(),
			},
		})
		if e.Type == events.OrderDormant || e.Type == events.OrderActivated {
			return nil
		}
		pair := order.CanonicalPair(o.SymbolIn, o.SymbolOut)
		channel := bookChannel + pair.String()
		if h.snapshot == nil || !h.hasSubscribers(channel) {
			return nil
		}
		if snap, ok := h.snapshot(pair); ok {
			h.BroadcastToChannel(channel, WSMessage{Type: "book", Seq: e.Seq, Data: snap})
		}

	case e.Trade != nil:
		t := e.Trade
		h.BroadcastToChannel(tradesChannel+t.Pair.String(), WSMessage{
			Type: string(e.Type),
			Seq:  e.Seq,
			Data: TradeUpdate{
				TradeInfo: TradeInfo{
					Pair:        t.Pair.String(),
					Price:       str(t.Price),
					BaseAmount:  str(t.BaseAmount),
					QuoteAmount: str(t.QuoteAmount),
				},
				Kind:      t.Kind,
				Timestamp: e.Time.UnixMilli(),
			},
		})
	}
	return nil
}

func (h *Hub) hasSubscribers(channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.IsSubscribed(channel) {
			return true
		}
	}
	return false
}

// BroadcastToChannel sends a message to all clients subscribed to a channel
func (h *Hub) BroadcastToChannel(channel string, msg WSMessage) {
	msg.Channel = channel
	message, err := json.Marshal(msg)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				h.log.Warnw("ws_client_lagging", "client", client.id, "channel", channel)
			}
		}
	}
}

// normalizeChannel checksums the address of an orders channel so clients
// may subscribe with any casing.
func normalizeChannel(channel string) (string, bool) {
	switch {
	case strings.HasPrefix(channel, ordersChannel):
		addr := strings.TrimPrefix(channel, ordersChannel)
		if !common.IsHexAddress(addr) {
			return "", false
		}
		return ordersChannel + common.HexToAddress(addr).Hex(), true
	case strings.HasPrefix(channel, bookChannel), strings.HasPrefix(channel, tradesChannel):
		i := strings.IndexByte(channel, ':')
		parts := strings.Split(channel[i+1:], "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", false
		}
		return channel[:i+1] + order.CanonicalPair(parts[0], parts[1]).String(), true
	default:
		return "", false
	}
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

// Subscribe adds a channel subscription
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_subscribed", "client", c.id, "channel", channel)
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
	c.hub.log.Debugw("ws_unsubscribed", "client", c.id, "channel", channel)
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		for _, raw := range req.Channels {
			channel, ok := normalizeChannel(raw)
			if !ok {
				c.hub.log.Debugw("ws_unknown_channel", "client", c.id, "channel", raw)
				continue
			}
			switch req.Op {
			case "subscribe":
				c.Subscribe(channel)
			case "unsubscribe":
				c.Unsubscribe(channel)
			default:
				c.hub.log.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
			}
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
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

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to current write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
