package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/calvinwijaya/solitaire-be/internal/game"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the HTTP middleware
	},
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	PlayerID  string      `json:"playerId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	playerID  string
	hub       *Hub
}

// Hub fans session updates out to the clients watching each session.
type Hub struct {
	clients    map[*Client]bool
	unregister chan *Client
	broadcast  chan []byte
	sessions   map[string]map[*Client]bool
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		sessions:   make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run serves unregistrations and global broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.watchLocked(client, client.sessionID)
}

func (h *Hub) watchLocked(client *Client, sessionID string) {
	if old := client.sessionID; old != "" && h.sessions[old] != nil {
		delete(h.sessions[old], client)
		if len(h.sessions[old]) == 0 {
			delete(h.sessions, old)
		}
	}
	client.sessionID = sessionID
	if sessionID == "" {
		return
	}
	if _, exists := h.sessions[sessionID]; !exists {
		h.sessions[sessionID] = make(map[*Client]bool)
	}
	h.sessions[sessionID][client] = true
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.watchLocked(client, "")
}

// Watchers returns how many clients follow a session.
func (h *Hub) Watchers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		klog.Errorf("Error marshaling message: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		klog.Warningf("Broadcast queue full, dropping %s message", message.Type)
	}
}

// BroadcastToSession sends a message to all clients watching a session
func (h *Hub) BroadcastToSession(sessionID string, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		klog.Errorf("Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.sessions[sessionID] {
		select {
		case client.send <- data:
		default:
			// Slow client; it catches up with the next update
		}
	}
}

// BroadcastSessionUpdate pushes the current view of s to its watchers.
func (h *Hub) BroadcastSessionUpdate(s *game.Session) {
	h.BroadcastToSession(s.ID(), Message{
		Type:      "sessionUpdate",
		SessionID: s.ID(),
		PlayerID:  s.PlayerID(),
		Data:      s.View(),
	})
}

// WebSocketHandler handles WebSocket connections
func (h *Hub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Warningf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		sessionID: r.URL.Query().Get("sessionId"),
		playerID:  r.URL.Query().Get("playerId"),
		hub:       h,
	}
	welcome, _ := json.Marshal(Message{
		Type:      "welcome",
		SessionID: client.sessionID,
		PlayerID:  client.playerID,
		Data: map[string]string{
			"message": "Connected to solitaire server",
		},
	})
	client.send <- welcome
	h.add(client)
	klog.V(2).Infof("WebSocket client connected (session=%s player=%s)", client.sessionID, client.playerID)

	go client.readPump()
	go client.writePump()
}

// readPump reads client messages. The only one understood is "subscribe",
// which moves the client to another session.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				klog.Warningf("WebSocket error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			klog.V(2).Infof("Ignoring malformed client message: %v", err)
			continue
		}
		if msg.Type == "subscribe" {
			c.hub.mu.Lock()
			if c.hub.clients[c] {
				c.hub.watchLocked(c, msg.SessionID)
			}
			c.hub.mu.Unlock()
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
				// The hub closed the channel
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
