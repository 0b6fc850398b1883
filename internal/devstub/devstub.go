// Package devstub — учебный сервер платформы для локальной разработки
// клиента: REST API, сырой websocket-чат и мультиплексированный чат
// поверх общей in-memory базы.
package devstub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slog"

	"unicampus/internal/app/client/chat"
)

const tokenTTL = 24 * time.Hour

type user struct {
	ID        int64
	Login     string
	Password  string
	FirstName string
	LastName  string
}

type ticket struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	owner     int64
}

type intake struct {
	ID       int64     `json:"id"`
	Course   string    `json:"course"`
	Title    string    `json:"title"`
	Year     int       `json:"year"`
	Capacity int       `json:"capacity"`
	Enrolled int       `json:"enrolled"`
	StartsAt time.Time `json:"starts_at"`
}

type class struct {
	ID       int64     `json:"id"`
	IntakeID int64     `json:"intake_id"`
	Title    string    `json:"title"`
	Lecturer string    `json:"lecturer"`
	Room     string    `json:"room"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type announcement struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
}

type room struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Direct bool   `json:"direct"`
}

// Server — dev-сервер с in-memory данными.
type Server struct {
	log    *slog.Logger
	secret []byte
	hub    *Hub
	mux    *muxGateway

	mu            gosync.Mutex
	users         map[string]*user
	tickets       []ticket
	intakes       []intake
	classes       map[int64][]class
	announcements []announcement
	rooms         []room
	messages      map[string][]chat.Message
	nextID        int64
}

func NewServer(secret string, log *slog.Logger) *Server {
	s := &Server{
		log:      log,
		secret:   []byte(secret),
		hub:      NewHub(log),
		users:    make(map[string]*user),
		classes:  make(map[int64][]class),
		messages: make(map[string][]chat.Message),
		nextID:   1000,
	}
	s.mux = newMuxGateway(s, log)
	s.seed()
	return s
}

// seed наполняет сервер демонстрационными данными.
func (s *Server) seed() {
	now := time.Now()

	s.intakes = []intake{
		{ID: 1, Course: "cs", Title: "Информатика, осень", Year: now.Year(), Capacity: 120, Enrolled: 87, StartsAt: now.AddDate(0, 1, 0)},
		{ID: 2, Course: "math", Title: "Прикладная математика", Year: now.Year(), Capacity: 60, Enrolled: 55, StartsAt: now.AddDate(0, 1, 0)},
		{ID: 3, Course: "cs", Title: "Информатика, весна", Year: now.Year() + 1, Capacity: 120, Enrolled: 12, StartsAt: now.AddDate(0, 6, 0)},
	}
	s.classes[1] = []class{
		{ID: 1, IntakeID: 1, Title: "Алгоритмы", Lecturer: "Иванова А.П.", Room: "501", StartsAt: now.AddDate(0, 1, 1), EndsAt: now.AddDate(0, 1, 1).Add(90 * time.Minute)},
		{ID: 2, IntakeID: 1, Title: "Базы данных", Lecturer: "Петров С.Н.", Room: "318", StartsAt: now.AddDate(0, 1, 2), EndsAt: now.AddDate(0, 1, 2).Add(90 * time.Minute)},
	}
	s.announcements = []announcement{
		{ID: 1, Title: "Перенос занятий", Body: "Занятия 5 сентября переносятся в корпус Б.", Author: "Деканат", PublishedAt: now.Add(-24 * time.Hour)},
		{ID: 2, Title: "Стипендии", Body: "Прием заявок на повышенную стипендию открыт до конца месяца.", Author: "Деканат", PublishedAt: now.Add(-2 * time.Hour)},
	}
	s.rooms = []room{
		{ID: "cs-2026", Name: "Информатика 2026", Direct: false},
		{ID: "campus", Name: "Общий кампус", Direct: false},
	}
}

func (s *Server) nextEntityID() int64 {
	s.nextID++
	return s.nextID
}

// Handler возвращает корневой http.Handler сервера.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/v1/auth/register", s.handleRegister)
	r.Post("/api/v1/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/v1/profile/", s.handleProfile)
		r.Get("/api/v1/intakes/", s.handleIntakes)
		r.Get("/api/v1/intakes/{intakeID}/classes/", s.handleClasses)
		r.Get("/api/v1/announcements/", s.handleAnnouncements)
		r.Get("/api/v1/support/tickets/", s.handleTicketList)
		r.Post("/api/v1/support/tickets/", s.handleTicketCreate)
		r.Get("/api/v1/chat/rooms/", s.handleRooms)
		r.Get("/api/v1/chat/rooms/{roomID}/messages/", s.handleMessages)
		r.Post("/api/v1/chat/rooms/{roomID}/messages/", s.handlePostMessage)
	})

	r.Get("/ws/chat/", s.handleMuxSocket)
	r.Get("/ws/chat/{roomID}/", s.handleRoomSocket)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("Запрос обработан",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// ==================== Аутентификация ====================

func (s *Server) issueToken(u *user) (string, error) {
	claims := jwt.MapClaims{
		"sub":      strconv.FormatInt(u.ID, 10),
		"username": u.Login,
		"exp":      jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		"iat":      jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verifyToken(tokenStr string) (*user, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	username, _ := claims["username"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, fmt.Errorf("пользователь не найден")
	}
	return u, nil
}

type ctxKey string

const userKey ctxKey = "user"

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if len(header) < 7 || header[:7] != "Bearer " {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		u, err := s.verifyToken(header[7:])
		if err != nil {
			s.log.Debug("Невалидный токен", "error", err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login     string `json:"login"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "некорректный запрос"})
		return
	}
	if req.Login == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "логин и пароль обязательны"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[req.Login]; exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "пользователь уже существует"})
		return
	}

	s.users[req.Login] = &user{
		ID:        s.nextEntityID(),
		Login:     req.Login,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "некорректный запрос"})
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Login]
	s.mu.Unlock()

	if !ok || u.Password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "неверный логин или пароль"})
		return
	}

	token, err := s.issueToken(u)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ошибка выпуска токена"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ==================== REST ====================

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         u.ID,
		"username":   u.Login,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
	})
}

func (s *Server) handleIntakes(w http.ResponseWriter, r *http.Request) {
	course := r.URL.Query().Get("course")
	year := r.URL.Query().Get("year")

	s.mu.Lock()
	var out []intake
	for _, in := range s.intakes {
		if course != "" && in.Course != course {
			continue
		}
		if year != "" && strconv.Itoa(in.Year) != year {
			continue
		}
		out = append(out, in)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"intakes": out})
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	intakeID, err := strconv.ParseInt(chi.URLParam(r, "intakeID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "неверный идентификатор набора"})
		return
	}

	s.mu.Lock()
	out := s.classes[intakeID]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"classes": out})
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := s.announcements
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"announcements": out})
}

func (s *Server) handleTicketCreate(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())

	var req struct {
		Subject  string `json:"subject"`
		Body     string `json:"body"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "некорректная заявка"})
		return
	}

	s.mu.Lock()
	t := ticket{
		ID:        s.nextEntityID(),
		Subject:   req.Subject,
		Body:      req.Body,
		Status:    "open",
		CreatedAt: time.Now(),
		owner:     u.ID,
	}
	s.tickets = append(s.tickets, t)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleTicketList(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())

	s.mu.Lock()
	var out []ticket
	for _, t := range s.tickets {
		if t.owner == u.ID {
			out = append(out, t)
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"tickets": out})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := s.rooms
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	s.mu.Lock()
	out := append([]chat.Message(nil), s.messages[roomID]...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	roomID := chi.URLParam(r, "roomID")

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "пустое сообщение"})
		return
	}

	msg := s.storeMessage(roomID, u, req.Content)

	// Сообщение, отправленное по HTTP, тоже уходит realtime-подписчикам
	raw, _ := json.Marshal(msg)
	s.hub.broadcast(roomID, map[string]any{"type": "message", "message": json.RawMessage(raw)}, nil)
	s.mux.broadcastMessage(roomID, msg, nil)

	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) storeMessage(roomID string, u *user, content string) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := chat.Message{
		ID: s.nextEntityID(),
		Sender: chat.Sender{
			ID:        u.ID,
			Username:  u.Login,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		},
		Content:   content,
		CreatedAt: time.Now(),
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	return msg
}

// ==================== Сырой websocket ====================

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	u, err := s.verifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsClient{conn: conn, username: u.Login}
	s.hub.serve(roomID, client, func(content string) json.RawMessage {
		msg := s.storeMessage(roomID, u, content)
		s.mux.broadcastMessage(roomID, msg, nil)
		raw, _ := json.Marshal(msg)
		return raw
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
