package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/service"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscriptions is the part of service.GameService the hub needs.
type Subscriptions interface {
	Connect(ctx context.Context, subscriberID string) error
	Disconnect(ctx context.Context, subscriberID string) error
	Wait(ctx context.Context, subscriberID string) (notify.Message, error)
	Invite(ctx context.Context, req service.InviteRequest) error
}

// Action is an inbound client frame.
type Action struct {
	Action    string `json:"action"`
	To        string `json:"to,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Client is one WebSocket connection.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	subscriberID string
	ctx          context.Context
	cancel       context.CancelFunc
}

// Hub maintains the set of active clients.
type Hub struct {
	subs   Subscriptions
	logger zerolog.Logger

	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
}

// NewHub creates a hub. Run must be started before ServeWS is used.
func NewHub(subs Subscriptions, logger zerolog.Logger) *Hub {
	return &Hub{
		subs:       subs,
		logger:     logger.With().Str("component", "websocket").Logger(),
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. When ctx ends every client is disconnected.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			if stale, ok := h.clients[client.subscriberID]; ok {
				stale.cancel()
			}
			h.clients[client.subscriberID] = client
			h.count.Store(int64(len(h.clients)))
			h.logger.Debug().Str("subscriber_id", client.subscriberID).Int("clients", len(h.clients)).Msg("client registered")

		case client := <-h.unregister:
			h.removeClient(client)

		case <-ctx.Done():
			for _, client := range h.clients {
				h.removeClient(client)
			}
			return
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// ServeWS registers subscriberID and upgrades the request.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, subscriberID string) {
	if err := h.subs.Connect(r.Context(), subscriberID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, notify.ErrSubscriberExists) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("subscriber_id", subscriberID).Msg("websocket upgrade failed")
		_ = h.subs.Disconnect(context.Background(), subscriberID)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		subscriberID: subscriberID,
		ctx:          ctx,
		cancel:       cancel,
	}

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		_ = h.subs.Disconnect(context.Background(), subscriberID)
		return
	}

	go client.writePump()
	go client.readPump()
	go client.deliverPump()
}

func (h *Hub) removeClient(client *Client) {
	current, ok := h.clients[client.subscriberID]
	if !ok || current != client {
		return
	}
	delete(h.clients, client.subscriberID)
	h.count.Store(int64(len(h.clients)))
	client.cancel()

	if err := h.subs.Disconnect(context.Background(), client.subscriberID); err != nil && !errors.Is(err, notify.ErrSubscriberNotFound) {
		h.logger.Warn().Err(err).Str("subscriber_id", client.subscriberID).Msg("disconnect failed")
	}
	h.logger.Debug().Str("subscriber_id", client.subscriberID).Int("clients", len(h.clients)).Msg("client unregistered")
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// queue hands a frame to writePump unless the client is shutting down.
func (c *Client) queue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// deliverPump moves messages from the subscriber's mailbox to the socket.
func (c *Client) deliverPump() {
	for {
		msg, err := c.hub.subs.Wait(c.ctx, c.subscriberID)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, notify.ErrMailboxClosed) {
				c.hub.logger.Warn().Err(err).Str("subscriber_id", c.subscriberID).Msg("wait failed")
			}
			c.leave()
			return
		}

		data, err := json.Marshal(msg)
		if err != nil {
			c.hub.logger.Error().Err(err).Str("subscriber_id", c.subscriberID).Msg("failed to marshal message")
			continue
		}
		if !c.queue(data) {
			return
		}
	}
}

// readPump handles inbound actions until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("subscriber_id", c.subscriberID).Msg("websocket error")
			}
			return
		}
		c.handleAction(data)
	}
}

func (c *Client) handleAction(data []byte) {
	var action Action
	if err := json.Unmarshal(data, &action); err != nil {
		c.reply(notify.NewError(http.StatusBadRequest, "malformed action"))
		return
	}

	switch action.Action {
	case "invite":
		err := c.hub.subs.Invite(c.ctx, service.InviteRequest{
			From:      c.subscriberID,
			To:        action.To,
			SessionID: action.SessionID,
		})
		if err != nil {
			c.reply(notify.NewError(http.StatusUnprocessableEntity, err.Error()))
		}
	default:
		c.reply(notify.NewError(http.StatusBadRequest, "unknown action: "+action.Action))
	}
}

func (c *Client) reply(msg notify.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.queue(data)
}

// writePump writes queued frames and pings the peer.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
