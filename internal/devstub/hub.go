package devstub

import (
	"encoding/json"
	gosync "sync"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"
)

// wsClient — одно сырое websocket-подключение к комнате.
type wsClient struct {
	conn     *websocket.Conn
	username string

	writeMu gosync.Mutex
}

func (c *wsClient) send(frame any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

// Hub раздает кадры сырого протокола всем подключениям комнаты.
type Hub struct {
	log *slog.Logger

	mu    gosync.Mutex
	rooms map[string]map[*wsClient]bool
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]map[*wsClient]bool),
	}
}

func (h *Hub) join(roomID string, c *wsClient) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*wsClient]bool)
	}
	h.rooms[roomID][c] = true
	h.mu.Unlock()

	h.broadcast(roomID, map[string]any{
		"type":     "user_joined",
		"username": c.username,
	}, c)
}

func (h *Hub) leave(roomID string, c *wsClient) {
	h.mu.Lock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	h.broadcast(roomID, map[string]any{
		"type":     "user_left",
		"username": c.username,
	}, nil)
}

// broadcast отправляет кадр всем клиентам комнаты кроме except.
func (h *Hub) broadcast(roomID string, frame any, except *wsClient) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != except {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(frame); err != nil {
			h.log.Debug("Не удалось отправить кадр", "error", err, "room", roomID)
		}
	}
}

// serve читает кадры клиента до закрытия соединения.
func (h *Hub) serve(roomID string, c *wsClient, onMessage func(content string) json.RawMessage) {
	h.join(roomID, c)
	defer h.leave(roomID, c)

	for {
		var frame struct {
			Type    string `json:"type"`
			Message string `json:"message,omitempty"`
			Typing  bool   `json:"typing,omitempty"`
		}
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		switch frame.Type {
		case "message":
			stored := onMessage(frame.Message)
			h.broadcast(roomID, map[string]any{
				"type":    "message",
				"message": stored,
			}, nil)

		case "typing":
			h.broadcast(roomID, map[string]any{
				"type":     "typing",
				"username": c.username,
				"typing":   frame.Typing,
			}, c)
		}
	}
}
