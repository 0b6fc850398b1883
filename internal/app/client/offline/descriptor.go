package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// RequestDescriptor — закрытое описание HTTP-запроса.
// Метод, URL, параметры, заголовки и тело фиксируются явно, чтобы форма
// записи в кэше/очереди и форма при повторе не могли разойтись.
type RequestDescriptor struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Query   map[string]string `json:"query,omitempty"`
	Headers http.Header       `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// QueuedRequest — отложенный мутирующий запрос, ожидающий повтора.
// Заголовок Authorization вырезается до сохранения: при повторе
// HTTP-клиент подставит актуальный токен.
type QueuedRequest struct {
	ID         int64             `json:"id"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Query      map[string]string `json:"query,omitempty"`
	Headers    http.Header       `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Attempts   int               `json:"attempts"`
}

// CachedResponse — ранее полученный успешный ответ на GET-запрос.
type CachedResponse struct {
	Body       json.RawMessage   `json:"body"`
	Status     int               `json:"status"`
	StatusText string            `json:"status_text"`
	Headers    map[string]string `json:"headers,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ReplayResult — исход повтора отложенного запроса.
// Err != nil означает сетевую ошибку (до сервера не достучались),
// иначе Status содержит HTTP-статус ответа.
type ReplayResult struct {
	Status int
	Err    error
}

// APIClient — внешний HTTP-клиент, которому сервис отдает запросы на повтор.
// Клиент сам подставляет свежий bearer-токен, если его нет в дескрипторе.
type APIClient interface {
	Replay(ctx context.Context, req QueuedRequest) ReplayResult
}

func stripAuthorization(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	clone := h.Clone()
	clone.Del("Authorization")
	if len(clone) == 0 {
		return nil
	}
	return clone
}
