package devstub

import (
	"context"
	"encoding/json"
	"net/http"
	gosync "sync"

	"golang.org/x/exp/slog"
	nws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"unicampus/internal/app/client/chat"
)

// muxConn — одно мультиплексированное подключение.
type muxConn struct {
	conn *nws.Conn
	user *user

	writeMu gosync.Mutex
	rooms   map[string]bool
}

func (c *muxConn) write(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.conn, map[string]any{
		"event": event,
		"data":  json.RawMessage(data),
	})
}

// muxGateway обслуживает мультиплексированный протокол: одно соединение
// на клиента, комнаты выбираются событиями join_room/leave_room.
type muxGateway struct {
	server *Server
	log    *slog.Logger

	mu    gosync.Mutex
	conns map[*muxConn]bool
}

func newMuxGateway(server *Server, log *slog.Logger) *muxGateway {
	return &muxGateway{
		server: server,
		log:    log,
		conns:  make(map[*muxConn]bool),
	}
}

// broadcastMessage рассылает new_message всем подключениям комнаты кроме except.
func (g *muxGateway) broadcastMessage(roomID string, msg chat.Message, except *muxConn) {
	g.mu.Lock()
	conns := make([]*muxConn, 0, len(g.conns))
	for c := range g.conns {
		if c != except && c.rooms[roomID] {
			conns = append(conns, c)
		}
	}
	g.mu.Unlock()

	ctx := context.Background()
	for _, c := range conns {
		if err := c.write(ctx, "new_message", map[string]any{"room_id": roomID, "message": msg}); err != nil {
			g.log.Debug("Не удалось отправить new_message", "error", err)
		}
	}
}

func (s *Server) handleMuxSocket(w http.ResponseWriter, r *http.Request) {
	u, err := s.verifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := nws.Accept(w, r, &nws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	c := &muxConn{conn: conn, user: u, rooms: make(map[string]bool)}

	s.mux.mu.Lock()
	s.mux.conns[c] = true
	s.mux.mu.Unlock()

	defer func() {
		s.mux.mu.Lock()
		delete(s.mux.conns, c)
		s.mux.mu.Unlock()
		conn.Close(nws.StatusNormalClosure, "")
	}()

	s.mux.serve(r.Context(), c)
}

func (g *muxGateway) serve(ctx context.Context, c *muxConn) {
	for {
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			return
		}

		switch env.Event {
		case "join_room":
			var p struct {
				RoomID string `json:"room_id"`
			}
			if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
				_ = c.write(ctx, "error", map[string]string{"message": "некорректная комната"})
				continue
			}

			g.mu.Lock()
			c.rooms[p.RoomID] = true
			g.mu.Unlock()

		case "leave_room":
			var p struct {
				RoomID string `json:"room_id"`
			}
			if err := json.Unmarshal(env.Data, &p); err != nil {
				continue
			}

			g.mu.Lock()
			delete(c.rooms, p.RoomID)
			g.mu.Unlock()

		case "send_message":
			var p struct {
				RoomID  string `json:"room_id"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(env.Data, &p); err != nil || p.Content == "" {
				_ = c.write(ctx, "error", map[string]string{"message": "пустое сообщение"})
				continue
			}

			g.mu.Lock()
			joined := c.rooms[p.RoomID]
			g.mu.Unlock()
			if !joined {
				_ = c.write(ctx, "error", map[string]string{"message": "сначала войдите в комнату"})
				continue
			}

			msg := g.server.storeMessage(p.RoomID, c.user, p.Content)

			// Подтверждение отправителю, new_message остальным
			if err := c.write(ctx, "message_sent", msg); err != nil {
				g.log.Debug("Не удалось отправить подтверждение", "error", err)
			}
			g.broadcastMessage(p.RoomID, msg, c)

			raw, _ := json.Marshal(msg)
			g.server.hub.broadcast(p.RoomID, map[string]any{"type": "message", "message": json.RawMessage(raw)}, nil)

		case "user_typing":
			var p struct {
				RoomID string `json:"room_id"`
				Typing bool   `json:"typing"`
			}
			if err := json.Unmarshal(env.Data, &p); err != nil {
				continue
			}

			g.mu.Lock()
			conns := make([]*muxConn, 0, len(g.conns))
			for other := range g.conns {
				if other != c && other.rooms[p.RoomID] {
					conns = append(conns, other)
				}
			}
			g.mu.Unlock()

			for _, other := range conns {
				_ = other.write(ctx, "user_typing", map[string]any{
					"room_id":  p.RoomID,
					"username": c.user.Login,
					"typing":   p.Typing,
				})
			}

		case "join_invitations", "leave_invitations":
			// Приглашения в dev-сервере не рассылаются, подписку просто принимаем

		default:
			g.log.Debug("Неизвестное событие", "event", env.Event)
		}
	}
}
