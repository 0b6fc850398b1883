package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

type fakeFetcher struct {
	mu       gosync.Mutex
	messages []Message
	posted   []string
	nextID   int64
}

func (f *fakeFetcher) RoomMessages(_ context.Context, _ string) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out, nil
}

func (f *fakeFetcher) PostRoomMessage(_ context.Context, _ string, content string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := Message{ID: f.nextID, Content: content, CreatedAt: time.Now()}
	f.messages = append(f.messages, msg)
	f.posted = append(f.posted, content)
	return &msg, nil
}

func (f *fakeFetcher) seed(msgs ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msgs...)
	for _, m := range msgs {
		if m.ID > f.nextID {
			f.nextID = m.ID
		}
	}
}

type recorder struct {
	mu       gosync.Mutex
	messages []Message
	conns    []bool
}

func (r *recorder) onMessage(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
}

func (r *recorder) onConn(connected bool) {
	r.mu.Lock()
	r.conns = append(r.conns, connected)
	r.mu.Unlock()
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recorder) lastMessage() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[len(r.messages)-1]
}

func (r *recorder) connLog() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.conns))
	copy(out, r.conns)
	return out
}

func TestSocketPollingWithoutToken(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.seed(
		Message{ID: 1, Content: "первое"},
		Message{ID: 3, Content: "третье"},
		Message{ID: 2, Content: "второе"},
	)

	rec := &recorder{}
	client := NewSocketClient(SocketConfig{PollInterval: 20 * time.Millisecond}, fetcher, discardLogger())
	client.OnMessage(rec.onMessage)
	client.OnConnectionChange(rec.onConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer client.Disconnect()

	if err := client.Connect(ctx, "room1"); err != nil {
		t.Fatalf("Connect вернул ошибку: %v", err)
	}

	if got := client.State(); got != StatePolling {
		t.Errorf("Без токена клиент должен уйти в опрос, состояние: %v", got)
	}

	conns := rec.connLog()
	if len(conns) == 0 || !conns[0] {
		t.Error("Без токена подписчики должны получить connected=true")
	}

	waitFor(t, func() bool { return rec.messageCount() > 0 }, "Опрос не доставил сообщение")

	// Из пачки между опросами доставляется только самое новое
	if got := rec.lastMessage().ID; got != 3 {
		t.Errorf("Ожидалось только новейшее сообщение id=3, получено id=%d", got)
	}

	time.Sleep(60 * time.Millisecond)
	if rec.messageCount() != 1 {
		t.Errorf("Старые сообщения не должны доставляться повторно, доставлено: %d", rec.messageCount())
	}

	fetcher.seed(Message{ID: 4, Content: "четвертое"})
	waitFor(t, func() bool { return rec.messageCount() == 2 }, "Новое сообщение не доставлено опросом")

	if got := rec.lastMessage().ID; got != 4 {
		t.Errorf("Ожидалось сообщение id=4, получено id=%d", got)
	}
}

func TestSocketSendMessageFallback(t *testing.T) {
	fetcher := &fakeFetcher{}
	rec := &recorder{}

	client := NewSocketClient(SocketConfig{PollInterval: time.Hour}, fetcher, discardLogger())
	client.OnMessage(rec.onMessage)

	ctx := context.Background()
	defer client.Disconnect()

	if err := client.Connect(ctx, "room1"); err != nil {
		t.Fatalf("Connect вернул ошибку: %v", err)
	}

	if err := client.SendMessage(ctx, "привет"); err != nil {
		t.Fatalf("SendMessage без соединения должен уйти по HTTP: %v", err)
	}

	fetcher.mu.Lock()
	posted := len(fetcher.posted)
	fetcher.mu.Unlock()
	if posted != 1 {
		t.Fatalf("Ожидался один HTTP POST, было: %d", posted)
	}

	// Синтетическое локальное эхо: отправитель видит свое сообщение сразу
	if rec.messageCount() != 1 || rec.lastMessage().Content != "привет" {
		t.Errorf("Ожидалось локальное эхо отправленного сообщения, получено: %+v", rec.messages)
	}
}

func TestSocketSendTypingWithoutConnection(t *testing.T) {
	client := NewSocketClient(SocketConfig{}, &fakeFetcher{}, discardLogger())

	if err := client.SendTyping(true); err == nil {
		t.Error("SendTyping без живого соединения должен вернуть ошибку")
	}
	if err := client.SendReadReceipt(1); err == nil {
		t.Error("SendReadReceipt без живого соединения должен вернуть ошибку")
	}
}

func TestCloseActionTable(t *testing.T) {
	if got := closeActionFor(websocket.CloseNormalClosure); got != actionPoll {
		t.Errorf("Штатное закрытие должно вести в опрос, получено: %v", got)
	}
	if got := closeActionFor(websocket.CloseAbnormalClosure); got != actionReconnect {
		t.Errorf("Аварийное закрытие должно вести в переподключение, получено: %v", got)
	}
	if got := closeActionFor(websocket.CloseGoingAway); got != actionReconnect {
		t.Errorf("Неизвестный код должен вести в переподключение, получено: %v", got)
	}
}

func TestWSBaseURL(t *testing.T) {
	cases := map[string]string{
		"https://chat.unicampus.edu": "wss://chat.unicampus.edu",
		"http://localhost:8080":      "ws://localhost:8080",
		"wss://chat.unicampus.edu":   "wss://chat.unicampus.edu",
		"ws://localhost:8080":        "ws://localhost:8080",
		"localhost:8080":             "ws://localhost:8080",
	}

	for in, want := range cases {
		if got := wsBaseURL(in); got != want {
			t.Errorf("wsBaseURL(%q) = %q, ожидалось %q", in, got, want)
		}
	}
}

func TestSocketConnectEscapesToken(t *testing.T) {
	const token = "jwt token+со/спецсимволами"
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != token {
			t.Errorf("Токен должен дойти без искажений, получено: %q", got)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	client := NewSocketClient(SocketConfig{
		BaseURL:      srv.URL,
		Token:        token,
		PollInterval: time.Hour,
	}, &fakeFetcher{}, discardLogger())
	defer client.Disconnect()

	if err := client.Connect(context.Background(), "room1"); err != nil {
		t.Fatalf("Connect вернул ошибку: %v", err)
	}
	waitFor(t, func() bool { return client.State() == StateConnected }, "Клиент не подключился")
}

func TestSocketLifecycle(t *testing.T) {
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/chat/room7/" {
			t.Errorf("Неверный путь подключения: %s", r.URL.Path)
		}
		if r.URL.Query().Get("token") != "jwt-token" {
			t.Errorf("Токен не передан в query: %s", r.URL.RawQuery)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		conn.WriteJSON(map[string]any{
			"type": "message",
			"message": map[string]any{
				"id":      7,
				"content": "с сервера",
			},
		})

		time.Sleep(50 * time.Millisecond)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}))
	defer srv.Close()

	fetcher := &fakeFetcher{}
	rec := &recorder{}

	client := NewSocketClient(SocketConfig{
		BaseURL:      srv.URL,
		Token:        "jwt-token",
		PollInterval: time.Hour,
	}, fetcher, discardLogger())
	client.OnMessage(rec.onMessage)
	client.OnConnectionChange(rec.onConn)

	ctx := context.Background()
	defer client.Disconnect()

	if err := client.Connect(ctx, "room7"); err != nil {
		t.Fatalf("Connect вернул ошибку: %v", err)
	}

	waitFor(t, func() bool { return client.State() == StateConnected }, "Клиент не подключился")
	waitFor(t, func() bool { return rec.messageCount() > 0 }, "Сообщение с сервера не доставлено")

	if got := rec.lastMessage(); got.ID != 7 || got.Content != "с сервера" {
		t.Errorf("Неверное сообщение: %+v", got)
	}

	// Штатное закрытие сервером переводит клиента в опрос
	waitFor(t, func() bool { return client.State() == StatePolling }, "После штатного закрытия клиент должен уйти в опрос")

	conns := rec.connLog()
	if len(conns) < 2 || !conns[0] || conns[len(conns)-1] {
		t.Errorf("Ожидалась последовательность подключен→отключен, получено: %v", conns)
	}
}
