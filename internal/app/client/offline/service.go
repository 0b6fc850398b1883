package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"unicampus/internal/app/client/netmon"
	"unicampus/internal/app/client/storage"
)

const (
	queueKey    = "offline_request_queue"
	cachePrefix = "offline_cache_"
)

// Options — параметры офлайн-сервиса.
type Options struct {
	// MaxReplayAttempts — сколько раз повторять запрос при временной ошибке
	// (сеть, 5xx), прежде чем выбросить его из очереди. Значение 1
	// воспроизводит историческое поведение "любая ошибка — выброс".
	MaxReplayAttempts int
}

// Service прячет от вызывающего кода временную недоступность сети:
// кэширует идемпотентные чтения и откладывает мутирующие записи.
//
// Сервис создается явно один раз на старте приложения и передается
// зависимостям — никаких синглтонов на уровне пакета.
type Service struct {
	store   storage.KeyValue
	monitor netmon.Monitor
	log     *slog.Logger
	opts    Options

	mu          gosync.RWMutex
	isConnected bool
	nextID      int
	listeners   map[int]func(bool)
	api         APIClient

	// Критическая секция повтора очереди. Флаг вместе с мьютексом заменяет
	// булев guard оригинала: под настоящим параллелизмом одного булева мало.
	queueMu         gosync.Mutex
	queueProcessing bool

	unsubscribe func()
}

// NewService создает офлайн-сервис. API-клиент регистрируется позже
// через SetAPIClient, автоматика запускается методом Start.
func NewService(store storage.KeyValue, monitor netmon.Monitor, log *slog.Logger, opts Options) *Service {
	if opts.MaxReplayAttempts < 1 {
		opts.MaxReplayAttempts = 1
	}

	return &Service{
		store:       store,
		monitor:     monitor,
		log:         log,
		opts:        opts,
		isConnected: monitor.IsConnected(),
		listeners:   make(map[int]func(bool)),
	}
}

// SetAPIClient регистрирует HTTP-клиент для повтора очереди.
// Пока клиент не зарегистрирован, ProcessQueue — no-op.
func (s *Service) SetAPIClient(api APIClient) {
	s.mu.Lock()
	s.api = api
	s.mu.Unlock()
}

// Start подписывается на монитор сети и, если очередь не пуста и сеть
// доступна, запускает первичный повтор. Переход "нет сети" → "есть сеть"
// всегда запускает ровно один проход по очереди.
func (s *Service) Start(ctx context.Context) {
	s.unsubscribe = s.monitor.Subscribe(func(connected bool) {
		s.onConnectivityChange(ctx, connected)
	})

	s.mu.Lock()
	s.isConnected = s.monitor.IsConnected()
	connected := s.isConnected
	s.mu.Unlock()

	if connected && len(s.loadQueue(ctx)) > 0 {
		go s.ProcessQueue(ctx)
	}
}

// Stop отписывается от монитора сети.
func (s *Service) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Service) onConnectivityChange(ctx context.Context, connected bool) {
	s.mu.Lock()
	wasConnected := s.isConnected
	s.isConnected = connected

	fns := make([]func(bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}

	if !wasConnected && connected {
		s.log.Info("Сеть восстановлена, запускаем повтор очереди")
		go s.ProcessQueue(ctx)
	}
}

// IsConnected возвращает последнее известное состояние сети.
// Никогда не блокируется и сам сеть не проверяет.
func (s *Service) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

// Subscribe регистрирует подписчика: он синхронно получает текущее
// состояние, затем каждое изменение. Возвращает функцию отписки.
func (s *Service) Subscribe(fn func(connected bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := s.isConnected
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// CacheResponse сохраняет успешный ответ на GET-запрос. Для остальных
// методов — no-op. Кэширование строго best-effort: ошибка хранилища
// логируется и глотается.
func (s *Service) CacheResponse(ctx context.Context, desc RequestDescriptor, resp CachedResponse) {
	if !strings.EqualFold(desc.Method, http.MethodGet) {
		return
	}

	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("Не удалось сериализовать ответ для кэша", "error", err, "url", desc.URL)
		return
	}

	if err := s.store.Set(ctx, cachePrefix+CacheKey(desc), string(data)); err != nil {
		s.log.Warn("Не удалось сохранить ответ в кэш", "error", err, "url", desc.URL)
	}
}

// CachedResponse возвращает закэшированный ответ или nil при промахе либо
// любой ошибке хранилища/десериализации. Восстановленный ответ всегда
// имеет статус 200 независимо от того, что лежало в кэше.
func (s *Service) CachedResponse(ctx context.Context, desc RequestDescriptor) *CachedResponse {
	raw, err := s.store.Get(ctx, cachePrefix+CacheKey(desc))
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("Ошибка чтения кэша", "error", err, "url", desc.URL)
		}
		return nil
	}

	var resp CachedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		s.log.Warn("Поврежденная запись кэша", "error", err, "url", desc.URL)
		return nil
	}

	resp.Status = http.StatusOK
	resp.StatusText = "OK"
	return &resp
}

// QueueRequest откладывает неудавшийся мутирующий запрос для повтора.
// Заголовок Authorization вырезается до сохранения.
func (s *Service) QueueRequest(ctx context.Context, desc RequestDescriptor) {
	queued := QueuedRequest{
		ID:         time.Now().UnixNano(),
		Method:     desc.Method,
		URL:        desc.URL,
		Query:      desc.Query,
		Headers:    stripAuthorization(desc.Headers),
		Body:       desc.Body,
		EnqueuedAt: time.Now(),
	}

	queue := s.loadQueue(ctx)
	queue = append(queue, queued)

	if err := s.saveQueue(ctx, queue); err != nil {
		s.log.Warn("Не удалось сохранить очередь запросов", "error", err)
		return
	}

	s.log.Debug("Запрос отложен для повтора",
		"method", desc.Method,
		"url", desc.URL,
		"queue_len", len(queue),
	)
}

// QueueLength возвращает текущую длину очереди.
func (s *Service) QueueLength(ctx context.Context) int {
	return len(s.loadQueue(ctx))
}

// PendingRequests возвращает снимок очереди для просмотра.
func (s *Service) PendingRequests(ctx context.Context) []QueuedRequest {
	return s.loadQueue(ctx)
}

// ProcessQueue последовательно повторяет отложенные запросы в порядке
// постановки. Повторный вызов во время идущего прохода — no-op, как и
// вызов до регистрации API-клиента.
//
// Исход каждого повтора классифицируется: 4xx — постоянный отказ, запись
// выбрасывается сразу; сетевая ошибка или 5xx — временный, запись
// остается в очереди, пока не исчерпает MaxReplayAttempts.
func (s *Service) ProcessQueue(ctx context.Context) {
	s.queueMu.Lock()
	if s.queueProcessing {
		s.queueMu.Unlock()
		return
	}
	s.queueProcessing = true
	s.queueMu.Unlock()

	defer func() {
		s.queueMu.Lock()
		s.queueProcessing = false
		s.queueMu.Unlock()
	}()

	s.mu.RLock()
	api := s.api
	s.mu.RUnlock()

	if api == nil {
		return
	}

	queue := s.loadQueue(ctx)
	if len(queue) == 0 {
		return
	}

	s.log.Info("Повтор отложенных запросов", "count", len(queue))

	var remaining []QueuedRequest
	for _, queued := range queue {
		// На всякий случай вырезаем Authorization еще раз: клиент сам
		// подставит актуальный токен.
		queued.Headers = stripAuthorization(queued.Headers)

		result := api.Replay(ctx, queued)

		switch classifyReplay(result) {
		case replayOK:
			s.log.Debug("Отложенный запрос выполнен", "method", queued.Method, "url", queued.URL)

		case replayPermanent:
			s.log.Warn("Отложенный запрос отклонен сервером, выбрасываем",
				"method", queued.Method,
				"url", queued.URL,
				"status", result.Status,
			)

		case replayTransient:
			queued.Attempts++
			if queued.Attempts >= s.opts.MaxReplayAttempts {
				s.log.Warn("Отложенный запрос исчерпал попытки, выбрасываем",
					"method", queued.Method,
					"url", queued.URL,
					"attempts", queued.Attempts,
				)
			} else {
				remaining = append(remaining, queued)
			}
		}
	}

	if err := s.saveQueue(ctx, remaining); err != nil {
		s.log.Warn("Не удалось сохранить очередь после повтора", "error", err)
	}
}

type replayOutcome int

const (
	replayOK replayOutcome = iota
	replayTransient
	replayPermanent
)

func classifyReplay(result ReplayResult) replayOutcome {
	switch {
	case result.Err != nil:
		return replayTransient
	case result.Status >= 500:
		return replayTransient
	case result.Status >= 400:
		return replayPermanent
	default:
		return replayOK
	}
}

// loadQueue читает очередь из хранилища; любая ошибка деградирует
// до пустой очереди — сервис не должен ронять вызывающий код.
func (s *Service) loadQueue(ctx context.Context) []QueuedRequest {
	raw, err := s.store.Get(ctx, queueKey)
	if err != nil {
		if err != storage.ErrNotFound {
			s.log.Warn("Ошибка чтения очереди, считаем пустой", "error", err)
		}
		return nil
	}

	var queue []QueuedRequest
	if err := json.Unmarshal([]byte(raw), &queue); err != nil {
		s.log.Warn("Поврежденная очередь, считаем пустой", "error", err)
		return nil
	}
	return queue
}

func (s *Service) saveQueue(ctx context.Context, queue []QueuedRequest) error {
	if len(queue) == 0 {
		return s.store.Delete(ctx, queueKey)
	}

	data, err := json.Marshal(queue)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, queueKey, string(data))
}
