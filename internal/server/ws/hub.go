// Package ws pushes position snapshots to websocket clients. Each client
// follows one owner, optionally on one chain.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/positionview/internal/domain"
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
	sendBufferSize = 32
)

// Message types sent to clients.
const (
	TypeHello    = "hello"
	TypeSnapshot = "snapshot"
	TypeUpdated  = "positions_updated"
)

// client represents a single websocket connection.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	owner   common.Address
	chainID uint64 // 0 follows every chain
}

func (c *client) follows(owner common.Address, chainID uint64) bool {
	return c.owner == owner && (c.chainID == 0 || c.chainID == chainID)
}

// outbound is a message addressed to the followers of one identity.
type outbound struct {
	owner   common.Address
	chainID uint64
	data    []byte
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub manages connected clients. Snapshots published by this process arrive
// through BroadcastSnapshot; when a bus is configured, update events from
// other replicas are relayed as well.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a hub. bus may be nil. allowedOrigins restricts upgrades;
// empty allows every origin.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// Run is the hub event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.relay(ctx)
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
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected",
				slog.String("owner", c.owner.Hex()),
				slog.Int("total_clients", n),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.follows(msg.owner, msg.chainID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("owner", c.owner.Hex()))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastSnapshot sends snap to the followers of its identity. It never
// blocks; when the hub is saturated the message is dropped.
func (h *Hub) BroadcastSnapshot(snap domain.Snapshot) {
	data, err := json.Marshal(envelope{Type: TypeSnapshot, Payload: snap})
	if err != nil {
		h.logger.Error("marshal snapshot failed", slog.String("error", err.Error()))
		return
	}
	h.enqueue(outbound{owner: snap.Owner, chainID: snap.ChainID, data: data})
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full", slog.String("owner", msg.owner.Hex()))
	}
}

// busEvent holds the fields of a bus update event used for routing.
type busEvent struct {
	Owner   string `json:"owner"`
	ChainID uint64 `json:"chain_id"`
}

// relay forwards update events from the bus.
func (h *Hub) relay(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, domain.PositionsChannel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", domain.PositionsChannel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed")
				return
			}
			var evt busEvent
			if err := json.Unmarshal(raw, &evt); err != nil || !common.IsHexAddress(evt.Owner) {
				continue
			}
			data, err := json.Marshal(envelope{Type: TypeUpdated, Payload: json.RawMessage(raw)})
			if err != nil {
				continue
			}
			h.enqueue(outbound{owner: common.HexToAddress(evt.Owner), chainID: evt.ChainID, data: data})
		}
	}
}

// HandleWS upgrades the request and follows the owner given in the query.
// GET /ws?owner=&chain_id=
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner")
	if !common.IsHexAddress(owner) {
		http.Error(w, `{"error":"owner must be a 0x-prefixed address"}`, http.StatusBadRequest)
		return
	}
	var chainID uint64
	if v := q.Get("chain_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"chain_id must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		chainID = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		owner:   common.HexToAddress(owner),
		chainID: chainID,
	}
	h.register <- c
	c.hello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) hello() {
	msg, err := json.Marshal(envelope{Type: TypeHello, Payload: map[string]any{
		"owner":    c.owner.Hex(),
		"chain_id": c.chainID,
	}})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump drains the connection so pongs and close frames are processed.
func (c *client) readPump() {
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump writes queued messages as text frames and keeps the connection
// alive with pings.
func (c *client) writePump() {
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
