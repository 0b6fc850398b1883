package devstub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	nws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"unicampus/internal/app/client/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	srv := httptest.NewServer(NewServer("test-secret", testLogger()).Handler())
	t.Cleanup(srv.Close)

	register(t, srv, "ivan", "secret123")
	return srv, login(t, srv, "ivan", "secret123")
}

func register(t *testing.T, srv *httptest.Server, login, password string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{
		"login":      login,
		"password":   password,
		"first_name": "Иван",
		"last_name":  "Иванов",
	})
	resp, err := http.Post(srv.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func login(t *testing.T, srv *httptest.Server, login, password string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"login": login, "password": password})
	resp, err := http.Post(srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func authGet(t *testing.T, srv *httptest.Server, token, path string, out any) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAuthFlow(t *testing.T) {
	srv, token := setupServer(t)

	// Повторная регистрация того же логина
	body, _ := json.Marshal(map[string]string{"login": "ivan", "password": "x12345"})
	resp, err := http.Post(srv.URL+"/api/v1/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Неверный пароль
	body, _ = json.Marshal(map[string]string{"login": "ivan", "password": "wrong"})
	resp, err = http.Post(srv.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Профиль по токену
	var profile struct {
		Username string `json:"username"`
	}
	status := authGet(t, srv, token, "/api/v1/profile/", &profile)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ivan", profile.Username)

	// Без токена доступа нет
	status = authGet(t, srv, "", "/api/v1/profile/", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestIntakeFiltering(t *testing.T) {
	srv, token := setupServer(t)

	var out struct {
		Intakes []intake `json:"intakes"`
	}
	status := authGet(t, srv, token, "/api/v1/intakes/?course=cs", &out)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out.Intakes, 2)
	for _, in := range out.Intakes {
		assert.Equal(t, "cs", in.Course)
	}
}

func TestTicketLifecycle(t *testing.T) {
	srv, token := setupServer(t)

	body, _ := json.Marshal(map[string]string{"subject": "Пропуск", "body": "Не работает пропуск в корпус Б"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/support/tickets/", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Tickets []ticket `json:"tickets"`
	}
	status := authGet(t, srv, token, "/api/v1/support/tickets/", &out)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out.Tickets, 1)
	assert.Equal(t, "Пропуск", out.Tickets[0].Subject)
	assert.Equal(t, "open", out.Tickets[0].Status)
}

func TestRawSocketBroadcast(t *testing.T) {
	srv, token := setupServer(t)

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws/chat/campus/?token=" + token

	connA, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer connA.Close()

	connB, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer connB.Close()

	// Пропускаем кадр user_joined от второго подключения
	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	var joined struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}
	require.NoError(t, connA.ReadJSON(&joined))
	require.Equal(t, "user_joined", joined.Type)

	require.NoError(t, connA.WriteJSON(map[string]string{"type": "message", "message": "привет"}))

	var frame struct {
		Type    string       `json:"type"`
		Message chat.Message `json:"message"`
	}
	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, connB.ReadJSON(&frame))
	assert.Equal(t, "message", frame.Type)
	assert.Equal(t, "привет", frame.Message.Content)
	assert.Equal(t, "ivan", frame.Message.Sender.Username)

	// Сообщение сохранено и доступно по HTTP
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	status := authGet(t, srv, token, "/api/v1/chat/rooms/campus/messages/", &out)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "привет", out.Messages[0].Content)
}

func TestMuxSendAck(t *testing.T) {
	srv, token := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/ws/chat/?token=" + token
	conn, _, err := nws.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(nws.StatusNormalClosure, "")

	write := func(event string, payload any) {
		data, _ := json.Marshal(payload)
		require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"event": event, "data": json.RawMessage(data)}))
	}

	// Отправка без входа в комнату отклоняется
	write("send_message", map[string]string{"room_id": "campus", "content": "привет"})

	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, "error", env.Event)

	// После join_room приходит подтверждение
	write("join_room", map[string]string{"room_id": "campus"})
	write("send_message", map[string]string{"room_id": "campus", "content": "привет"})

	require.NoError(t, wsjson.Read(ctx, conn, &env))
	require.Equal(t, "message_sent", env.Event)

	var msg chat.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "привет", msg.Content)
	assert.NotZero(t, msg.ID)
}
