// Package wsnotify runs the WebSocket hub that pushes a serialized
// controller-state snapshot (the pcrdata message) to every connected
// client once a second, plus bridged log records from internal/logger.
package wsnotify

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// MessageType identifies the kind of payload carried by a Message.
type MessageType string

const (
	// MessageTypeSnapshot is the 1Hz pcrdata push of the full
	// controller state.
	MessageTypeSnapshot MessageType = "pcrdata"
	// MessageTypeLog carries one log record, bridged in from
	// internal/logger's wsBridgeCore.
	MessageTypeLog MessageType = "log"
)

// Message is the envelope sent to every connected client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Client is one WebSocket client connection.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan Message
}

// Hub maintains the set of active clients and broadcasts messages.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run starts the hub's main loop. Call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
}

func (h *Hub) broadcastMessage(message Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Send <- message:
		default:
			h.log.Warn("wsnotify: dropping message, client send buffer full", zap.String("client", client.ID))
		}
	}
}

// Register adds a client to the hub and starts its write pump, which
// drains client.Send until the hub closes the channel.
func (h *Hub) Register(client *Client) {
	h.register <- client
	go h.writePump(client)
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) writePump(client *Client) {
	for msg := range client.Send {
		if err := client.Conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Broadcast enqueues a message for delivery to every connected client.
func (h *Hub) Broadcast(msgType MessageType, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Error("wsnotify: marshal broadcast payload", zap.Error(err))
		return
	}
	h.broadcast <- Message{Type: msgType, Timestamp: time.Now(), Data: payload}
}

// RunSnapshotPusher emits MessageTypeSnapshot every interval until stop
// is closed, calling snapshot() fresh each tick so
// callers never race on a stale captured value.
func (h *Hub) RunSnapshotPusher(interval time.Duration, stop <-chan struct{}, snapshot func() interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Broadcast(MessageTypeSnapshot, snapshot())
		case <-stop:
			return
		}
	}
}
