package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"unicampus/internal/app/client/chat"
	"unicampus/internal/app/client/config"
	"unicampus/internal/app/client/crypto"
	"unicampus/internal/app/client/netmon"
	"unicampus/internal/app/client/offline"
	"unicampus/internal/app/client/storage"
)

type App struct {
	config     *config.Config
	log        *slog.Logger
	session    *crypto.SessionStore
	httpClient *httpClient
	store      storage.KeyValue
	monitor    *netmon.ProbeMonitor
	offline    *offline.Service
	chatMux    *chat.Manager
	state      *AppState
	deviceID   string

	authenticated bool
	cancel        context.CancelFunc
	mu            gosync.RWMutex
}

// AppState хранит состояние приложения
type AppState struct {
	UserLogin string    `json:"user_login"`
	LastLogin time.Time `json:"last_login"`
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	state, err := loadAppState(cfg)
	if err != nil {
		log.Warn("Не удалось загрузить состояние приложения", "error", err)
		state = &AppState{}
	}

	deviceID, err := loadOrCreateDeviceID(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации идентификатора устройства: %w", err)
	}

	session := crypto.NewSessionStore(cfg.TokenPath, deviceID)

	// Инициализируем локальное хранилище (используем SQLite)
	var store storage.KeyValue
	sqliteStore, err := storage.NewSQLiteStore(cfg.DataPath)
	if err != nil {
		log.Warn("Не удалось инициализировать SQLite, используем память", "error", err)
		store = storage.NewMemoryStore()
	} else {
		store = sqliteStore
	}

	scheme := "http://"
	if cfg.EnableTLS {
		scheme = "https://"
	}
	monitor := netmon.NewProbeMonitor(scheme+cfg.ServerAddress+"/api/v1/health", cfg.ProbeInterval(), log)

	offlineSvc := offline.NewService(store, monitor, log, offline.Options{
		MaxReplayAttempts: cfg.MaxReplayAttempts,
	})

	httpCl, err := NewHTTPClient(cfg, offlineSvc, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации HTTP клиента: %w", err)
	}
	offlineSvc.SetAPIClient(httpCl)

	chatMux := chat.NewManager(chat.MuxConfig{
		BaseURL:     scheme + cfg.ChatAddress,
		SendTimeout: cfg.SendTimeout(),
	}, log)

	app := &App{
		config:     cfg,
		log:        log,
		session:    session,
		httpClient: httpCl,
		store:      store,
		monitor:    monitor,
		offline:    offlineSvc,
		chatMux:    chatMux,
		state:      state,
		deviceID:   deviceID,
	}

	// Загружаем токен если он есть
	if token, err := session.Load(); err == nil && token != "" {
		if expiry, err := TokenExpiry(token); err == nil && time.Now().After(expiry) {
			log.Debug("Сохраненный токен истек", "expired_at", expiry)
			_ = session.Clear()
		} else {
			httpCl.SetToken(token)
			app.authenticated = true
			log.Debug("Токен загружен из файла")
		}
	}

	return app, nil
}

func loadAppState(cfg *config.Config) (*AppState, error) {
	statePath := filepath.Join(cfg.ConfigDir, "state.json")

	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return &AppState{}, nil
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		return nil, err
	}

	var state AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	return &state, nil
}

func (a *App) saveAppState() error {
	statePath := filepath.Join(a.config.ConfigDir, "state.json")
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(statePath, data, 0600)
}

// loadOrCreateDeviceID возвращает постоянный идентификатор устройства.
// Он служит секретом для шифрования сессии и меткой в запросах.
func loadOrCreateDeviceID(configDir string) (string, error) {
	idPath := filepath.Join(configDir, "device_id")

	if data, err := os.ReadFile(idPath); err == nil && len(data) > 0 {
		return string(data), nil
	}

	id := uuid.NewString()
	if err := os.WriteFile(idPath, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("ошибка сохранения идентификатора устройства: %w", err)
	}
	return id, nil
}

// Start запускает фоновые службы: мониторинг сети и офлайн-очередь.
func (a *App) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.monitor.Start(ctx)
	a.offline.Start(ctx)

	a.log.Info("Клиент запущен",
		"server", a.config.ServerAddress,
		"env", a.config.Env,
	)
}

// Shutdown останавливает фоновые службы и закрывает хранилище.
func (a *App) Shutdown() {
	a.log.Debug("Завершение работы клиента...")

	a.chatMux.Disconnect()
	a.offline.Stop()

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("Ошибка закрытия хранилища", "error", err)
	}
}

// Offline возвращает офлайн-сервис
func (a *App) Offline() *offline.Service {
	return a.offline
}

// DeviceID возвращает идентификатор устройства
func (a *App) DeviceID() string {
	return a.deviceID
}

// CheckConnection проверяет соединение с сервером
func (a *App) CheckConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return a.httpClient.HealthCheck(ctx)
}

// IsAuthenticated проверяет, аутентифицирован ли пользователь
func (a *App) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authenticated
}

// UserLogin возвращает логин текущего пользователя
func (a *App) UserLogin() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.UserLogin
}

// Login выполняет вход пользователя
func (a *App) Login(ctx context.Context, login, password string) error {
	token, err := a.httpClient.Login(ctx, login, password)
	if err != nil {
		return err
	}

	if err := a.session.Save(token); err != nil {
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}

	a.mu.Lock()
	a.authenticated = true
	a.state.UserLogin = login
	a.state.LastLogin = time.Now()

	if err := a.saveAppState(); err != nil {
		a.log.Warn("Не удалось сохранить состояние", "error", err)
	}
	a.mu.Unlock()

	a.log.Info("Вход выполнен успешно", "login", login)
	return nil
}

// Register регистрирует нового пользователя
func (a *App) Register(ctx context.Context, login, password, firstName, lastName string) error {
	if err := a.httpClient.Register(ctx, login, password, firstName, lastName); err != nil {
		return err
	}

	a.log.Info("Пользователь успешно зарегистрирован", "login", login)
	return nil
}

// Logout удаляет сохраненную сессию и отключает чат
func (a *App) Logout() error {
	a.chatMux.Disconnect()
	a.httpClient.SetToken("")

	a.mu.Lock()
	a.authenticated = false
	a.state.UserLogin = ""
	if err := a.saveAppState(); err != nil {
		a.log.Warn("Не удалось сохранить состояние", "error", err)
	}
	a.mu.Unlock()

	if err := a.session.Clear(); err != nil {
		return fmt.Errorf("ошибка удаления сессии: %w", err)
	}
	return nil
}

// Token возвращает сохраненный токен сессии
func (a *App) Token() (string, error) {
	token, err := a.session.Load()
	if err != nil {
		if errors.Is(err, crypto.ErrNoSession) {
			return "", fmt.Errorf("токен не найден. Выполните вход: unicampus auth login")
		}
		return "", err
	}
	return token, nil
}

// ==================== API ====================

// Profile возвращает профиль студента
func (a *App) Profile(ctx context.Context) (*Profile, error) {
	return a.httpClient.Profile(ctx)
}

// Intakes возвращает наборы на курсы
func (a *App) Intakes(ctx context.Context, filters map[string]string) ([]Intake, error) {
	return a.httpClient.Intakes(ctx, filters)
}

// IntakeClasses возвращает расписание занятий набора
func (a *App) IntakeClasses(ctx context.Context, intakeID int64) ([]Class, error) {
	return a.httpClient.IntakeClasses(ctx, intakeID)
}

// Announcements возвращает объявления университета
func (a *App) Announcements(ctx context.Context) ([]Announcement, error) {
	return a.httpClient.Announcements(ctx)
}

// CreateTicket регистрирует заявку в поддержку
func (a *App) CreateTicket(ctx context.Context, req TicketRequest) error {
	return a.httpClient.CreateTicket(ctx, req)
}

// MyTickets возвращает заявки текущего студента
func (a *App) MyTickets(ctx context.Context) ([]Ticket, error) {
	return a.httpClient.MyTickets(ctx)
}

// Rooms возвращает комнаты чата
func (a *App) Rooms(ctx context.Context) ([]Room, error) {
	return a.httpClient.Rooms(ctx)
}

// ==================== Чат ====================

// ChatManager возвращает мультиплексированный чат-клиент
func (a *App) ChatManager() *chat.Manager {
	return a.chatMux
}

// ConnectChat подключает мультиплексированный чат с текущим токеном
func (a *App) ConnectChat(ctx context.Context) error {
	token, err := a.Token()
	if err != nil {
		return err
	}
	return a.chatMux.Connect(ctx, token)
}

// RoomSocket создает сырой websocket-клиент для одной комнаты.
// Без сохраненного токена клиент сразу работает в режиме опроса.
func (a *App) RoomSocket() *chat.SocketClient {
	token, err := a.session.Load()
	if err != nil {
		token = ""
	}

	scheme := "http://"
	if a.config.EnableTLS {
		scheme = "https://"
	}

	return chat.NewSocketClient(chat.SocketConfig{
		BaseURL:      scheme + a.config.ChatAddress,
		Token:        token,
		PollInterval: a.config.PollInterval(),
	}, a.httpClient, a.log)
}
