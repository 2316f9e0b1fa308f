package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy is enforced by the CORS middleware
	},
}

// Hub maintains the set of active websocket clients and broadcasts
// alerts to all of them.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		logger:    logger.Named("ws"),
	}
}

// Run drains the broadcast channel; call in its own goroutine.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Write deadline keeps one blocked client from hanging the hub.
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("websocket write failed, dropping client", zap.Error(err))
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info("websocket client connected", zap.Int("clients", total))

	// Push-only stream; the read loop exists to notice disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			remaining := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			h.logger.Info("websocket client disconnected", zap.Int("clients", remaining))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("websocket read error", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Broadcast sends raw JSON to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket broadcast buffer full, dropping message")
	}
}

// BroadcastAlert is the callback wired into the alert manager.
func (h *Hub) BroadcastAlert(a alert.Alert) {
	payload, err := json.Marshal(gin.H{"type": "alert", "alert": a})
	if err != nil {
		h.logger.Error("alert marshal failed", zap.Error(err))
		return
	}
	h.Broadcast(payload)
}
