package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"
)

// State — состояние сырого websocket-транспорта.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePolling:
		return "polling"
	default:
		return "disconnected"
	}
}

// closeAction — что делать после закрытия соединения сервером.
type closeAction int

const (
	actionReconnect closeAction = iota
	actionPoll
)

// Явная таблица решений по коду закрытия: штатное закрытие переводит
// клиента в режим опроса, все остальные коды — в переподключение.
var closeActions = map[int]closeAction{
	websocket.CloseNormalClosure: actionPoll,
}

func closeActionFor(code int) closeAction {
	if action, ok := closeActions[code]; ok {
		return action
	}
	return actionReconnect
}

// SocketConfig — параметры сырого транспорта.
type SocketConfig struct {
	// BaseURL — адрес чат-сервера, допускаются схемы http(s) и ws(s).
	BaseURL string
	Token   string

	PollInterval         time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

func (c *SocketConfig) withDefaults() SocketConfig {
	cfg := *c
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	return cfg
}

// SocketClient — сырой websocket-клиент чата с опросным фолбэком.
//
// Без токена клиент сразу уходит в режим опроса, но подписчикам
// сигналит "подключен": вызывающий код не различает транспорты,
// это сознательное упрощение UX.
type SocketClient struct {
	cfg     SocketConfig
	log     *slog.Logger
	fetcher MessageFetcher
	dialer  *websocket.Dialer

	mu         gosync.Mutex
	state      State
	conn       *websocket.Conn
	roomID     string
	attempts   int
	lastSeenID int64
	closed     bool
	pollCancel context.CancelFunc

	writeMu gosync.Mutex

	handlersMu     gosync.RWMutex
	msgHandlers    []func(Message)
	typingHandlers []func(TypingEvent)
	memberHandlers []func(MembershipEvent)
	connHandlers   []func(bool)
	errHandlers    []func(error)
}

func NewSocketClient(cfg SocketConfig, fetcher MessageFetcher, log *slog.Logger) *SocketClient {
	return &SocketClient{
		cfg:     cfg.withDefaults(),
		log:     log,
		fetcher: fetcher,
		dialer:  websocket.DefaultDialer,
	}
}

// OnMessage регистрирует обработчик входящих сообщений.
func (c *SocketClient) OnMessage(fn func(Message)) {
	c.handlersMu.Lock()
	c.msgHandlers = append(c.msgHandlers, fn)
	c.handlersMu.Unlock()
}

// OnTyping регистрирует обработчик индикатора набора.
func (c *SocketClient) OnTyping(fn func(TypingEvent)) {
	c.handlersMu.Lock()
	c.typingHandlers = append(c.typingHandlers, fn)
	c.handlersMu.Unlock()
}

// OnMembership регистрирует обработчик входов/выходов участников.
func (c *SocketClient) OnMembership(fn func(MembershipEvent)) {
	c.handlersMu.Lock()
	c.memberHandlers = append(c.memberHandlers, fn)
	c.handlersMu.Unlock()
}

// OnConnectionChange регистрирует обработчик смены "подключенности".
func (c *SocketClient) OnConnectionChange(fn func(connected bool)) {
	c.handlersMu.Lock()
	c.connHandlers = append(c.connHandlers, fn)
	c.handlersMu.Unlock()
}

// OnError регистрирует обработчик ошибок транспорта. Канал ошибок
// отделен от каналов сообщений, чтобы экран мог отличить
// "сообщений пока нет" от "что-то сломалось".
func (c *SocketClient) OnError(fn func(error)) {
	c.handlersMu.Lock()
	c.errHandlers = append(c.errHandlers, fn)
	c.handlersMu.Unlock()
}

// State возвращает текущее состояние транспорта.
func (c *SocketClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect подключается к комнате. При ошибке установления соединения
// клиент деградирует в режим опроса, а не возвращает ошибку наверх.
func (c *SocketClient) Connect(ctx context.Context, roomID string) error {
	c.mu.Lock()
	c.roomID = roomID
	c.closed = false
	c.attempts = 0
	c.mu.Unlock()

	if c.cfg.Token == "" {
		c.setState(StatePolling)
		c.startPolling(ctx)
		c.emitConnection(true)
		return nil
	}

	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.log.Warn("Не удалось открыть websocket, переходим на опрос", "error", err, "room", roomID)
		c.emitError(fmt.Errorf("websocket dial: %w", err))
		c.emitConnection(false)
		c.setState(StatePolling)
		c.startPolling(ctx)
	}
	return nil
}

func (c *SocketClient) dial(ctx context.Context) error {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	dialURL := wsBaseURL(c.cfg.BaseURL) + "/ws/chat/" + roomID + "/?token=" + url.QueryEscape(c.cfg.Token)

	conn, resp, err := c.dialer.DialContext(ctx, dialURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.stopPollingLocked()
	c.mu.Unlock()

	c.log.Info("Websocket подключен", "room", roomID)
	c.emitConnection(true)

	go c.readLoop(ctx, conn)
	return nil
}

func (c *SocketClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(ctx, err)
			return
		}
		c.dispatchFrame(data)
	}
}

func (c *SocketClient) handleReadError(ctx context.Context, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.emitConnection(false)

	action := actionPoll
	if ce, ok := err.(*websocket.CloseError); ok {
		action = closeActionFor(ce.Code)
		c.log.Debug("Websocket закрыт", "code", ce.Code, "action", action)
	} else {
		c.emitError(fmt.Errorf("websocket read: %w", err))
	}

	switch action {
	case actionReconnect:
		go c.reconnect(ctx)
	case actionPoll:
		c.setState(StatePolling)
		c.startPolling(ctx)
	}
}

// reconnect повторяет подключение с линейным бэкофом attempt*base.
// После исчерпания попыток клиент уходит в режим опроса.
func (c *SocketClient) reconnect(ctx context.Context) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if attempt > c.cfg.MaxReconnectAttempts {
			c.log.Warn("Попытки переподключения исчерпаны, переходим на опрос")
			c.setState(StatePolling)
			c.startPolling(ctx)
			return
		}

		delay := time.Duration(attempt) * c.cfg.ReconnectBaseDelay
		c.log.Debug("Переподключение", "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.setState(StateConnecting)
		err := c.dial(ctx)
		if err == nil {
			return
		}
		c.emitError(fmt.Errorf("reconnect: %w", err))
	}
}

type inboundFrame struct {
	Type     string   `json:"type"`
	Message  *Message `json:"message,omitempty"`
	Username string   `json:"username,omitempty"`
	Typing   bool     `json:"typing,omitempty"`
}

type outboundFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Typing    bool   `json:"typing,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
}

func (c *SocketClient) dispatchFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Кривой кадр логируем и выбрасываем, наверх не пробрасываем
		c.log.Warn("Кривой кадр от сервера", "error", err)
		return
	}

	switch frame.Type {
	case frameMessage:
		if frame.Message == nil {
			c.log.Warn("Кадр message без тела")
			return
		}
		c.mu.Lock()
		if frame.Message.ID > c.lastSeenID {
			c.lastSeenID = frame.Message.ID
		}
		c.mu.Unlock()
		c.emitMessage(*frame.Message)

	case frameTyping:
		c.emitTyping(TypingEvent{Username: frame.Username, Typing: frame.Typing})

	case frameUserJoined:
		c.emitMembership(MembershipEvent{Username: frame.Username, Joined: true})

	case frameUserLeft:
		c.emitMembership(MembershipEvent{Username: frame.Username, Joined: false})

	default:
		c.log.Debug("Неизвестный тип кадра", "type", frame.Type)
	}
}

// SendMessage отправляет сообщение по живому соединению, а без него —
// HTTP-запросом с синтетическим локальным эхом: отправитель увидит свое
// сообщение, даже если realtime-эха не будет.
func (c *SocketClient) SendMessage(ctx context.Context, content string) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	roomID := c.roomID
	c.mu.Unlock()

	if state == StateConnected && conn != nil {
		c.writeMu.Lock()
		err := conn.WriteJSON(outboundFrame{Type: frameMessage, Message: content})
		c.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("ошибка отправки сообщения: %w", err)
		}
		return nil
	}

	msg, err := c.fetcher.PostRoomMessage(ctx, roomID, content)
	if err != nil {
		return fmt.Errorf("ошибка отправки сообщения: %w", err)
	}

	c.mu.Lock()
	if msg.ID > c.lastSeenID {
		c.lastSeenID = msg.ID
	}
	c.mu.Unlock()

	c.emitMessage(*msg)
	return nil
}

// SendTyping шлет индикатор набора. Работает только по живому соединению.
func (c *SocketClient) SendTyping(typing bool) error {
	return c.writeFrame(outboundFrame{Type: frameTyping, Typing: typing})
}

// SendReadReceipt шлет отметку о прочтении. Работает только по живому соединению.
func (c *SocketClient) SendReadReceipt(messageID int64) error {
	return c.writeFrame(outboundFrame{Type: frameReadReceipt, MessageID: messageID})
}

func (c *SocketClient) writeFrame(frame outboundFrame) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("нет живого соединения")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// Disconnect закрывает соединение и останавливает опрос.
func (c *SocketClient) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.stopPollingLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
}

func (c *SocketClient) startPolling(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pollCancel != nil || c.closed {
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	go c.pollLoop(pollCtx)
}

func (c *SocketClient) stopPollingLocked() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

// pollLoop раз в интервал забирает сообщения комнаты по HTTP и отдает
// подписчикам только самое новое. Несколько сообщений, пришедших между
// опросами, схлопываются в последнее — историческое поведение,
// сохраняем как есть.
func (c *SocketClient) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *SocketClient) pollOnce(ctx context.Context) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	messages, err := c.fetcher.RoomMessages(ctx, roomID)
	if err != nil {
		c.log.Debug("Ошибка опроса сообщений", "error", err, "room", roomID)
		return
	}
	if len(messages) == 0 {
		return
	}

	newest := messages[0]
	for _, m := range messages[1:] {
		if m.ID > newest.ID {
			newest = m
		}
	}

	c.mu.Lock()
	isNew := newest.ID > c.lastSeenID
	if isNew {
		c.lastSeenID = newest.ID
	}
	c.mu.Unlock()

	if isNew {
		c.emitMessage(newest)
	}
}

func (c *SocketClient) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *SocketClient) emitMessage(msg Message) {
	c.handlersMu.RLock()
	handlers := append([](func(Message))(nil), c.msgHandlers...)
	c.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (c *SocketClient) emitTyping(ev TypingEvent) {
	c.handlersMu.RLock()
	handlers := append([](func(TypingEvent))(nil), c.typingHandlers...)
	c.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (c *SocketClient) emitMembership(ev MembershipEvent) {
	c.handlersMu.RLock()
	handlers := append([](func(MembershipEvent))(nil), c.memberHandlers...)
	c.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (c *SocketClient) emitConnection(connected bool) {
	c.handlersMu.RLock()
	handlers := append([](func(bool))(nil), c.connHandlers...)
	c.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(connected)
	}
}

func (c *SocketClient) emitError(err error) {
	c.handlersMu.RLock()
	handlers := append([](func(error))(nil), c.errHandlers...)
	c.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "wss://"), strings.HasPrefix(base, "ws://"):
		return base
	default:
		return "ws://" + base
	}
}
