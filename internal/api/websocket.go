package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quantlab/internal/live"
	"quantlab/internal/logger"
	"quantlab/internal/monitoring"
)

// WebSocketHandler streams execution tick results to connected clients
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex
	metrics  *monitoring.Metrics
	log      logger.Logger
}

// Client represents a WebSocket client
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(upgrader websocket.Upgrader, metrics *monitoring.Metrics) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: upgrader,
		clients:  make(map[string]*Client),
		metrics:  metrics,
		log:      logger.Global().WithField("component", "websocket"),
	}
}

// TickStream upgrades the connection and subscribes it to the tick feed
func (h *WebSocketHandler) TickStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, 64),
	}
	h.register(client)

	go client.writePump()
	go h.readPump(client)
}

// BroadcastTick fans out one tick result to all connected clients.
// Slow clients are dropped rather than blocking the broadcast.
func (h *WebSocketHandler) BroadcastTick(result *live.TickResult) {
	msg := Message{Type: "tick", Data: result, Time: time.Now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal tick message", "error", err)
		return
	}

	h.mu.RLock()
	var stale []*Client
	for _, client := range h.clients {
		select {
		case client.Send <- payload:
		default:
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.unregister(client)
	}
}

func (h *WebSocketHandler) register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SetActiveConnections(float64(count))
	}
	h.log.Info("websocket client connected", "client_id", client.ID)
}

func (h *WebSocketHandler) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	count := len(h.clients)
	h.mu.Unlock()

	close(client.Send)
	client.Conn.Close()
	if h.metrics != nil {
		h.metrics.SetActiveConnections(float64(count))
	}
	h.log.Info("websocket client disconnected", "client_id", client.ID)
}

// readPump drains inbound frames so pings are answered, unregistering
// on the first read error.
func (h *WebSocketHandler) readPump(client *Client) {
	defer h.unregister(client)
	client.Conn.SetReadLimit(1024)
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
