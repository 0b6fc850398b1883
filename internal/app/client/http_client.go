package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	gosync "sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/exp/slog"

	"unicampus/internal/app/client/chat"
	"unicampus/internal/app/client/config"
	"unicampus/internal/app/client/offline"
)

// ErrQueued - запрос не дошел до сервера и отложен для повтора.
// Вызывающий код показывает это пользователю как успех с оговоркой.
var ErrQueued = errors.New("нет сети, запрос отложен и будет повторен автоматически")

type httpClient struct {
	client    *http.Client
	config    *config.Config
	log       *slog.Logger
	offline   *offline.Service
	validate  *validator.Validate
	baseURL   string
	userAgent string

	tokenMu gosync.RWMutex
	token   string
}

func NewHTTPClient(cfg *config.Config, offlineSvc *offline.Service, log *slog.Logger) (*httpClient, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  false,
		DisableKeepAlives:   false,
		MaxIdleConnsPerHost: 10,
	}

	// Определяем протокол
	scheme := "http://"
	if cfg.EnableTLS {
		scheme = "https://"

		if cfg.CACertPath != "" {
			pem, err := os.ReadFile(cfg.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("ошибка чтения CA-сертификата: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("CA-сертификат не распознан: %s", cfg.CACertPath)
			}
			transport.TLSClientConfig = &tls.Config{RootCAs: pool}
		}
	}
	baseURL := scheme + cfg.ServerAddress

	client := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	return &httpClient{
		client:    client,
		config:    cfg,
		log:       log,
		offline:   offlineSvc,
		validate:  validator.New(),
		baseURL:   baseURL,
		userAgent: "UniCampus-Client/1.0",
	}, nil
}

// SetToken устанавливает токен аутентификации
func (h *httpClient) SetToken(token string) {
	h.tokenMu.Lock()
	h.token = token
	h.tokenMu.Unlock()
}

func (h *httpClient) currentToken() string {
	h.tokenMu.RLock()
	defer h.tokenMu.RUnlock()
	return h.token
}

// TokenExpiry извлекает срок действия из JWT без проверки подписи:
// клиенту подпись недоступна, он решает только "пора ли перелогиниться".
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("ошибка разбора токена: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("токен не содержит срока действия")
	}
	return exp.Time, nil
}

// HealthCheck проверяет доступность сервера
func (h *httpClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", h.baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("сервер недоступен: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("сервер вернул статус: %d", resp.StatusCode)
	}

	return nil
}

func (h *httpClient) Login(ctx context.Context, login, password string) (string, error) {
	if err := h.validate.Struct(credentials{Login: login, Password: password}); err != nil {
		return "", fmt.Errorf("некорректные учетные данные: %w", err)
	}

	req := struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}{login, password}

	resp, err := h.doRequest(ctx, "POST", "/api/v1/auth/login", nil, req)
	if err != nil {
		return "", err
	}

	var loginResp struct {
		Token string `json:"token"`
	}

	if err := h.parseResponse(resp, &loginResp); err != nil {
		return "", err
	}

	h.SetToken(loginResp.Token)
	return loginResp.Token, nil
}

func (h *httpClient) Register(ctx context.Context, login, password, firstName, lastName string) error {
	if err := h.validate.Struct(credentials{Login: login, Password: password}); err != nil {
		return fmt.Errorf("некорректные учетные данные: %w", err)
	}

	req := struct {
		Login     string `json:"login"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}{login, password, firstName, lastName}

	resp, err := h.doRequest(ctx, "POST", "/api/v1/auth/register", nil, req)
	if err != nil {
		return err
	}

	return h.parseResponse(resp, nil)
}

// Profile возвращает профиль студента
func (h *httpClient) Profile(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := h.getJSON(ctx, "/api/v1/profile/", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Intakes возвращает наборы на курсы с учетом фильтров
func (h *httpClient) Intakes(ctx context.Context, filters map[string]string) ([]Intake, error) {
	var listResp struct {
		Intakes []Intake `json:"intakes"`
	}
	if err := h.getJSON(ctx, "/api/v1/intakes/", filters, &listResp); err != nil {
		return nil, err
	}
	return listResp.Intakes, nil
}

// IntakeClasses возвращает расписание занятий набора
func (h *httpClient) IntakeClasses(ctx context.Context, intakeID int64) ([]Class, error) {
	var listResp struct {
		Classes []Class `json:"classes"`
	}
	path := fmt.Sprintf("/api/v1/intakes/%d/classes/", intakeID)
	if err := h.getJSON(ctx, path, nil, &listResp); err != nil {
		return nil, err
	}
	return listResp.Classes, nil
}

// Announcements возвращает объявления университета
func (h *httpClient) Announcements(ctx context.Context) ([]Announcement, error) {
	var listResp struct {
		Announcements []Announcement `json:"announcements"`
	}
	if err := h.getJSON(ctx, "/api/v1/announcements/", nil, &listResp); err != nil {
		return nil, err
	}
	return listResp.Announcements, nil
}

// CreateTicket регистрирует заявку в поддержку. Без сети заявка
// откладывается в очередь, вызывающий код получает ErrQueued.
func (h *httpClient) CreateTicket(ctx context.Context, req TicketRequest) error {
	if err := h.validate.Struct(req); err != nil {
		return fmt.Errorf("некорректная заявка: %w", err)
	}

	_, err := h.mutate(ctx, "POST", "/api/v1/support/tickets/", req)
	return err
}

// MyTickets возвращает заявки текущего студента
func (h *httpClient) MyTickets(ctx context.Context) ([]Ticket, error) {
	var listResp struct {
		Tickets []Ticket `json:"tickets"`
	}
	if err := h.getJSON(ctx, "/api/v1/support/tickets/", nil, &listResp); err != nil {
		return nil, err
	}
	return listResp.Tickets, nil
}

// Rooms возвращает комнаты чата текущего студента
func (h *httpClient) Rooms(ctx context.Context) ([]Room, error) {
	var listResp struct {
		Rooms []Room `json:"rooms"`
	}
	if err := h.getJSON(ctx, "/api/v1/chat/rooms/", nil, &listResp); err != nil {
		return nil, err
	}
	return listResp.Rooms, nil
}

// RoomMessages возвращает сообщения комнаты
func (h *httpClient) RoomMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	var listResp struct {
		Messages []chat.Message `json:"messages"`
	}
	path := "/api/v1/chat/rooms/" + roomID + "/messages/"
	if err := h.getJSON(ctx, path, nil, &listResp); err != nil {
		return nil, err
	}
	return listResp.Messages, nil
}

// PostRoomMessage отправляет сообщение по HTTP. Используется чатом как
// фолбэк без живого соединения, поэтому не откладывается в очередь:
// отправителю нужен готовый ответ для локального эха.
func (h *httpClient) PostRoomMessage(ctx context.Context, roomID, content string) (*chat.Message, error) {
	req := struct {
		Content string `json:"content"`
	}{content}

	path := "/api/v1/chat/rooms/" + roomID + "/messages/"
	resp, err := h.doRequest(ctx, "POST", path, nil, req)
	if err != nil {
		return nil, err
	}

	var msg chat.Message
	if err := h.parseResponse(resp, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// getJSON выполняет GET-запрос с кэшированием: успешный ответ попадает в
// кэш, при сетевой ошибке отдается последняя закэшированная копия.
func (h *httpClient) getJSON(ctx context.Context, path string, query map[string]string, result any) error {
	desc := offline.RequestDescriptor{
		Method: http.MethodGet,
		URL:    h.baseURL + path,
		Query:  query,
	}

	resp, err := h.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		if cached := h.offline.CachedResponse(ctx, desc); cached != nil {
			h.log.Debug("Ответ отдан из кэша", "url", desc.URL)
			if result == nil {
				return nil
			}
			if uerr := json.Unmarshal(cached.Body, result); uerr == nil {
				return nil
			}
		}
		return fmt.Errorf("сервер недоступен: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode >= 400 {
		return serverError(resp.StatusCode, body)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	h.offline.CacheResponse(ctx, desc, offline.CachedResponse{
		Body:       body,
		Status:     resp.StatusCode,
		StatusText: resp.Status,
		Headers:    headers,
	})

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("ошибка парсинга ответа: %w", err)
		}
	}
	return nil
}

// mutate выполняет мутирующий запрос. При сетевой ошибке запрос уходит в
// офлайн-очередь и возвращается ErrQueued; ответ сервера, даже ошибочный,
// в очередь не попадает.
func (h *httpClient) mutate(ctx context.Context, method, path string, body any) ([]byte, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
		}
	}

	var payload any
	if data != nil {
		payload = json.RawMessage(data)
	}

	resp, err := h.doRequest(ctx, method, path, nil, payload)
	if err != nil {
		headers := http.Header{}
		headers.Set("Content-Type", "application/json")

		h.offline.QueueRequest(ctx, offline.RequestDescriptor{
			Method:  method,
			URL:     h.baseURL + path,
			Headers: headers,
			Body:    data,
		})
		return nil, ErrQueued
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, serverError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// Replay повторяет отложенный запрос от имени офлайн-очереди, подставляя
// актуальный токен вместо вырезанного при постановке.
func (h *httpClient) Replay(ctx context.Context, queued offline.QueuedRequest) offline.ReplayResult {
	var reqBody io.Reader
	if len(queued.Body) > 0 {
		reqBody = bytes.NewReader(queued.Body)
	}

	req, err := http.NewRequestWithContext(ctx, queued.Method, queued.URL, reqBody)
	if err != nil {
		return offline.ReplayResult{Err: err}
	}

	if len(queued.Query) > 0 {
		q := req.URL.Query()
		for k, v := range queued.Query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	for k, vals := range queued.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", h.userAgent)
	if token := h.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return offline.ReplayResult{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return offline.ReplayResult{Status: resp.StatusCode}
}

func (h *httpClient) doRequest(ctx context.Context, method, path string, query map[string]string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ошибка маршалинга тела запроса: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}

	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	// Добавляем заголовки
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	if token := h.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	h.log.Debug("Отправка запроса",
		"method", method,
		"url", req.URL.String(),
	)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}

	return resp, nil
}

func (h *httpClient) parseResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	h.log.Debug("Получен ответ",
		"status", resp.StatusCode,
		"body", string(body),
	)

	if resp.StatusCode >= 400 {
		return serverError(resp.StatusCode, body)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("ошибка парсинга ответа: %w", err)
		}
	}

	return nil
}

func serverError(status int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return fmt.Errorf("ошибка сервера: %s", errResp.Error)
	}
	return fmt.Errorf("ошибка сервера: статус %d", status)
}
