package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrSendTimeout — сервер не подтвердил отправку за отведенное время.
var ErrSendTimeout = errors.New("сервер не подтвердил отправку сообщения")

// envelope — кадр мультиплексированного протокола: именованное событие
// плюс произвольная полезная нагрузка.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomPayload struct {
	RoomID string `json:"room_id"`
}

type sendPayload struct {
	RoomID  string `json:"room_id"`
	Content string `json:"content"`
}

type newMessagePayload struct {
	RoomID  string  `json:"room_id"`
	Message Message `json:"message"`
}

type typingPayload struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

type memberPayload struct {
	RoomID   string `json:"room_id"`
	Username string `json:"username"`
}

type entityDeletedPayload struct {
	Entity string `json:"entity"`
	ID     int64  `json:"id"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// InvitationEvent — уведомление о приглашении в комнату.
type InvitationEvent struct {
	RoomID       string `json:"room_id"`
	FromUsername string `json:"from_username"`
}

// MuxConfig — параметры мультиплексированного клиента.
type MuxConfig struct {
	// BaseURL — адрес чат-сервера, допускаются схемы http(s) и ws(s).
	BaseURL     string
	SendTimeout time.Duration
}

func (c *MuxConfig) withDefaults() MuxConfig {
	cfg := *c
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return cfg
}

// sendWaiter — ожидание подтверждения одной отправки. Каналы буферизованы,
// чтобы цикл чтения не блокировался на опоздавшем получателе.
type sendWaiter struct {
	ackCh chan Message
	errCh chan error
}

// Manager — мультиплексированный websocket-клиент: одно соединение на все
// комнаты, события различаются по имени. Комнаты выбираются явными
// join_room/leave_room, менеджер помнит одну текущую комнату и при входе
// в новую из старой сам не выходит.
type Manager struct {
	cfg MuxConfig
	log *slog.Logger

	// Сериализует проверку и установление соединения в Connect:
	// параллельные вызовы не должны плодить соединения.
	dialMu gosync.Mutex

	mu          gosync.Mutex
	conn        *websocket.Conn
	token       string
	connected   bool
	currentRoom string
	closed      bool

	writeMu gosync.Mutex

	pendingMu gosync.Mutex
	pending   []*sendWaiter

	handlersMu     gosync.RWMutex
	msgHandlers    []func(roomID string, msg Message)
	typingHandlers []func(roomID string, ev TypingEvent)
	memberHandlers []func(roomID string, ev MembershipEvent)
	deleteHandlers []func(entity string, id int64)
	inviteHandlers []func(InvitationEvent)
	connHandlers   []func(bool)
	errHandlers    []func(error)
}

func NewManager(cfg MuxConfig, log *slog.Logger) *Manager {
	return &Manager{
		cfg: cfg.withDefaults(),
		log: log,
	}
}

// OnMessage регистрирует обработчик новых сообщений.
func (m *Manager) OnMessage(fn func(roomID string, msg Message)) {
	m.handlersMu.Lock()
	m.msgHandlers = append(m.msgHandlers, fn)
	m.handlersMu.Unlock()
}

// OnTyping регистрирует обработчик индикатора набора.
func (m *Manager) OnTyping(fn func(roomID string, ev TypingEvent)) {
	m.handlersMu.Lock()
	m.typingHandlers = append(m.typingHandlers, fn)
	m.handlersMu.Unlock()
}

// OnMembership регистрирует обработчик входов/выходов участников.
func (m *Manager) OnMembership(fn func(roomID string, ev MembershipEvent)) {
	m.handlersMu.Lock()
	m.memberHandlers = append(m.memberHandlers, fn)
	m.handlersMu.Unlock()
}

// OnEntityDeleted регистрирует обработчик удаления сущностей сервером.
func (m *Manager) OnEntityDeleted(fn func(entity string, id int64)) {
	m.handlersMu.Lock()
	m.deleteHandlers = append(m.deleteHandlers, fn)
	m.handlersMu.Unlock()
}

// OnInvitation регистрирует обработчик приглашений в комнаты.
func (m *Manager) OnInvitation(fn func(InvitationEvent)) {
	m.handlersMu.Lock()
	m.inviteHandlers = append(m.inviteHandlers, fn)
	m.handlersMu.Unlock()
}

// OnConnectionChange регистрирует обработчик смены подключенности.
func (m *Manager) OnConnectionChange(fn func(connected bool)) {
	m.handlersMu.Lock()
	m.connHandlers = append(m.connHandlers, fn)
	m.handlersMu.Unlock()
}

// OnError регистрирует обработчик ошибок, не привязанных к отправке.
func (m *Manager) OnError(fn func(error)) {
	m.handlersMu.Lock()
	m.errHandlers = append(m.errHandlers, fn)
	m.handlersMu.Unlock()
}

// IsConnected сообщает, живо ли соединение.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// CurrentRoom возвращает комнату последнего успешного JoinRoom.
func (m *Manager) CurrentRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRoom
}

// Connect открывает соединение с токеном. Повторный вызов с тем же
// токеном при живом соединении — no-op; смена токена пересоздает
// соединение.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.mu.Lock()
	if m.connected && m.token == token {
		m.mu.Unlock()
		return nil
	}
	old := m.conn
	m.conn = nil
	m.connected = false
	m.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusNormalClosure, "reconnect")
	}

	dialURL := wsBaseURL(m.cfg.BaseURL) + "/ws/chat/?token=" + url.QueryEscape(token)

	conn, resp, err := websocket.Dial(ctx, dialURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("ошибка подключения к чату: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.token = token
	m.connected = true
	m.closed = false
	m.mu.Unlock()

	m.log.Info("Мультиплексированный чат подключен")
	m.emitConnection(true)

	go m.readLoop(conn)
	return nil
}

// Disconnect закрывает соединение намеренно: подписчики получают
// connected=false, ожидающие отправки — ошибку.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	wasConnected := m.connected
	m.connected = false
	m.currentRoom = ""
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
	m.failPending(errors.New("соединение закрыто"))

	if wasConnected {
		m.emitConnection(false)
	}
}

// JoinRoom входит в комнату и запоминает ее текущей.
func (m *Manager) JoinRoom(ctx context.Context, roomID string) error {
	if err := m.writeEvent(ctx, EventJoinRoom, roomPayload{RoomID: roomID}); err != nil {
		return err
	}

	m.mu.Lock()
	m.currentRoom = roomID
	m.mu.Unlock()
	return nil
}

// LeaveRoom выходит из комнаты.
func (m *Manager) LeaveRoom(ctx context.Context, roomID string) error {
	if err := m.writeEvent(ctx, EventLeaveRoom, roomPayload{RoomID: roomID}); err != nil {
		return err
	}

	m.mu.Lock()
	if m.currentRoom == roomID {
		m.currentRoom = ""
	}
	m.mu.Unlock()
	return nil
}

// JoinInvitations подписывается на уведомления о приглашениях.
func (m *Manager) JoinInvitations(ctx context.Context) error {
	return m.writeEvent(ctx, EventJoinInvitations, nil)
}

// LeaveInvitations отписывается от уведомлений о приглашениях.
func (m *Manager) LeaveInvitations(ctx context.Context) error {
	return m.writeEvent(ctx, EventLeaveInvitations, nil)
}

// SendMessage отправляет сообщение и ждет подтверждения сервера:
// message_sent, error или таймаут — что придет раньше. По таймауту
// ожидание снимается, опоздавшее подтверждение молча игнорируется.
func (m *Manager) SendMessage(ctx context.Context, roomID, content string) (*Message, error) {
	waiter := &sendWaiter{
		ackCh: make(chan Message, 1),
		errCh: make(chan error, 1),
	}

	m.pendingMu.Lock()
	m.pending = append(m.pending, waiter)
	m.pendingMu.Unlock()

	if err := m.writeEvent(ctx, EventSendMessage, sendPayload{RoomID: roomID, Content: content}); err != nil {
		m.removeWaiter(waiter)
		return nil, err
	}

	select {
	case msg := <-waiter.ackCh:
		return &msg, nil
	case err := <-waiter.errCh:
		return nil, err
	case <-time.After(m.cfg.SendTimeout):
		m.removeWaiter(waiter)
		return nil, ErrSendTimeout
	case <-ctx.Done():
		m.removeWaiter(waiter)
		return nil, ctx.Err()
	}
}

// SendTyping шлет индикатор набора в комнату.
func (m *Manager) SendTyping(ctx context.Context, roomID string, typing bool) error {
	return m.writeEvent(ctx, EventUserTyping, typingPayload{RoomID: roomID, Typing: typing})
}

func (m *Manager) writeEvent(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return errors.New("нет соединения с чатом")
	}

	env := envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ошибка сериализации события %s: %w", event, err)
		}
		env.Data = data
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("ошибка отправки события %s: %w", event, err)
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	ctx := context.Background()
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			m.handleDisconnect(err)
			return
		}
		m.dispatch(env)
	}
}

func (m *Manager) handleDisconnect(err error) {
	m.mu.Lock()
	intentional := m.closed
	m.conn = nil
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	m.failPending(errors.New("соединение закрыто"))

	if intentional {
		return
	}

	m.log.Warn("Соединение с чатом потеряно", "error", err)
	if wasConnected {
		m.emitConnection(false)
	}
}

func (m *Manager) dispatch(env envelope) {
	switch env.Event {
	case EventMessageSent:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			m.log.Warn("Кривое подтверждение отправки", "error", err)
			return
		}
		if !m.resolveAck(msg) {
			m.log.Debug("Подтверждение без ожидающей отправки", "message_id", msg.ID)
		}

	case EventError:
		var p errorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.log.Warn("Кривое событие error", "error", err)
			return
		}
		serverErr := fmt.Errorf("сервер чата: %s", p.Message)
		if !m.resolveErr(serverErr) {
			m.emitError(serverErr)
		}

	case EventNewMessage:
		var p newMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.log.Warn("Кривое событие new_message", "error", err)
			return
		}
		m.emitMessage(p.RoomID, p.Message)

	case EventUserTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.log.Warn("Кривое событие user_typing", "error", err)
			return
		}
		m.emitTyping(p.RoomID, TypingEvent{Username: p.Username, Typing: p.Typing})

	case EventUserJoined, EventUserLeft:
		var p memberPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.log.Warn("Кривое событие участника", "error", err, "event", env.Event)
			return
		}
		m.emitMembership(p.RoomID, MembershipEvent{Username: p.Username, Joined: env.Event == EventUserJoined})

	case EventEntityDeleted:
		var p entityDeletedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.log.Warn("Кривое событие entity_deleted", "error", err)
			return
		}
		m.emitEntityDeleted(p.Entity, p.ID)

	case EventInvitation:
		var p InvitationEvent
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.log.Warn("Кривое событие приглашения", "error", err)
			return
		}
		m.emitInvitation(p)

	default:
		m.log.Debug("Неизвестное событие", "event", env.Event)
	}
}

// resolveAck вручает подтверждение самой старой ожидающей отправке.
// Подтверждения сопоставляются по порядку: сервер отвечает в порядке
// поступления запросов.
func (m *Manager) resolveAck(msg Message) bool {
	waiter := m.popWaiter()
	if waiter == nil {
		return false
	}
	waiter.ackCh <- msg
	return true
}

func (m *Manager) resolveErr(err error) bool {
	waiter := m.popWaiter()
	if waiter == nil {
		return false
	}
	waiter.errCh <- err
	return true
}

func (m *Manager) popWaiter() *sendWaiter {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if len(m.pending) == 0 {
		return nil
	}
	waiter := m.pending[0]
	m.pending = m.pending[1:]
	return waiter
}

func (m *Manager) removeWaiter(w *sendWaiter) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	for i, candidate := range m.pending {
		if candidate == w {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Manager) failPending(err error) {
	m.pendingMu.Lock()
	pending := m.pending
	m.pending = nil
	m.pendingMu.Unlock()

	for _, waiter := range pending {
		waiter.errCh <- err
	}
}

func (m *Manager) emitMessage(roomID string, msg Message) {
	m.handlersMu.RLock()
	handlers := append([](func(string, Message))(nil), m.msgHandlers...)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(roomID, msg)
	}
}

func (m *Manager) emitTyping(roomID string, ev TypingEvent) {
	m.handlersMu.RLock()
	handlers := append([](func(string, TypingEvent))(nil), m.typingHandlers...)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(roomID, ev)
	}
}

func (m *Manager) emitMembership(roomID string, ev MembershipEvent) {
	m.handlersMu.RLock()
	handlers := append([](func(string, MembershipEvent))(nil), m.memberHandlers...)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(roomID, ev)
	}
}

func (m *Manager) emitEntityDeleted(entity string, id int64) {
	m.handlersMu.RLock()
	handlers := append([](func(string, int64))(nil), m.deleteHandlers...)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(entity, id)
	}
}

func (m *Manager) emitInvitation(ev InvitationEvent) {
	m.handlersMu.RLock()
	handlers := append([](func(InvitationEvent))(nil), m.inviteHandlers...)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (m *Manager) emitConnection(connected bool) {
	m.handlersMu.RLock()
	handlers := append([](func(bool))(nil), m.connHandlers...)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(connected)
	}
}

func (m *Manager) emitError(err error) {
	m.handlersMu.RLock()
	handlers := append([](func(error))(nil), m.errHandlers...)
	m.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(err)
	}
}
