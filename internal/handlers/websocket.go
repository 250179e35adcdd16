package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"stakeplay-backend/internal/events"
	"stakeplay-backend/internal/logger"
	"stakeplay-backend/internal/settlement"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Client struct {
	UserID string
	Conn   *websocket.Conn
	send   chan events.Event
}

// Hub fans engine events out to connected sockets. It implements
// events.Notifier; a slow client drops events instead of blocking the engine.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

var _ events.Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*Client]struct{})}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*Client]struct{})
	}
	h.clients[c.UserID][c] = struct{}{}
	logger.Debug("Client registered", "user", c.UserID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	logger.Debug("Client unregistered", "user", c.UserID)
}

// Publish delivers ev to the target user's sockets, or to everyone when the
// event has no user.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(c *Client) {
		select {
		case c.send <- ev:
		default:
			logger.Warn("Dropping event for slow client", "user", c.UserID, "type", ev.Type)
		}
	}

	if ev.UserID != "" {
		for c := range h.clients[ev.UserID] {
			deliver(c)
		}
		return nil
	}
	for _, set := range h.clients {
		for c := range set {
			deliver(c)
		}
	}
	return nil
}

// Connected reports how many sockets a user holds.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

type WebSocketHandler struct {
	engine *settlement.Engine
	hub    *Hub
}

func NewWebSocketHandler(engine *settlement.Engine, hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{engine: engine, hub: hub}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade to WebSocket", "error", err)
		return
	}

	client := &Client{UserID: userID, Conn: conn, send: make(chan events.Event, sendBuffer)}
	h.hub.register(client)

	if bal, err := h.engine.Balance(c.Request.Context(), userID); err == nil {
		client.send <- events.New(events.TypeBalanceUpdate, userID, bal)
	}

	go h.writePump(client)
	h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *Client) {
	defer func() {
		h.hub.unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket error", "user", client.UserID, "error", err)
			}
			return
		}
		if msg.Type == "PING" {
			h.hub.Publish(context.Background(), events.New("PONG", client.UserID, gin.H{"timestamp": time.Now().Unix()}))
		}
	}
}

func (h *WebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-client.send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(Message{Type: ev.Type, Data: ev.Data}); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
