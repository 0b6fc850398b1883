package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/exp/slog"

	"unicampus/internal/app/client/config"
	"unicampus/internal/app/client/netmon"
	"unicampus/internal/app/client/offline"
	"unicampus/internal/app/client/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHTTPClient(t *testing.T, serverURL string) (*httpClient, *offline.Service) {
	t.Helper()

	cfg := &config.Config{
		ServerAddress:     strings.TrimPrefix(serverURL, "http://"),
		MaxReplayAttempts: 1,
	}

	svc := offline.NewService(
		storage.NewMemoryStore(),
		netmon.NewManualMonitor(true),
		testLogger(),
		offline.Options{MaxReplayAttempts: 1},
	)

	h, err := NewHTTPClient(cfg, svc, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания HTTP клиента: %v", err)
	}
	svc.SetAPIClient(h)
	return h, svc
}

func TestGetServedFromCacheWhenOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/announcements/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"announcements":[{"id":1,"title":"Перенос занятий","author":"Деканат"}]}`))
	}))

	h, _ := newTestHTTPClient(t, srv.URL)
	ctx := context.Background()

	got, err := h.Announcements(ctx)
	if err != nil {
		t.Fatalf("Первый запрос должен пройти: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Перенос занятий" {
		t.Fatalf("Неверный ответ сервера: %+v", got)
	}

	// Сервер пропадает — чтение обслуживается из кэша
	srv.Close()

	cached, err := h.Announcements(ctx)
	if err != nil {
		t.Fatalf("Без сети ответ должен прийти из кэша: %v", err)
	}
	if len(cached) != 1 || cached[0].Title != "Перенос занятий" {
		t.Errorf("Из кэша вернулось не то, что кэшировалось: %+v", cached)
	}

	// Промах кэша без сети — ошибка, а не пустой успех
	if _, err := h.Profile(ctx); err == nil {
		t.Error("Некэшированное чтение без сети должно вернуть ошибку")
	}
}

func TestMutateQueuedWhenOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	h, svc := newTestHTTPClient(t, srv.URL)
	ctx := context.Background()

	// Сервер недоступен с самого начала
	srv.Close()

	err := h.CreateTicket(ctx, TicketRequest{Subject: "Пропуск", Body: "Не работает пропуск в корпус Б"})
	if !errors.Is(err, ErrQueued) {
		t.Fatalf("Ожидался ErrQueued, получено: %v", err)
	}

	queue := svc.PendingRequests(ctx)
	if len(queue) != 1 {
		t.Fatalf("Заявка должна попасть в очередь, длина: %d", len(queue))
	}
	if queue[0].Method != http.MethodPost || !strings.HasSuffix(queue[0].URL, "/api/v1/support/tickets/") {
		t.Errorf("Неверная запись в очереди: %+v", queue[0])
	}
}

func TestMutateServerErrorNotQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"некорректная заявка"}`))
	}))
	defer srv.Close()

	h, svc := newTestHTTPClient(t, srv.URL)
	ctx := context.Background()

	err := h.CreateTicket(ctx, TicketRequest{Subject: "Пропуск", Body: "текст"})
	if err == nil || errors.Is(err, ErrQueued) {
		t.Fatalf("Ответ сервера с ошибкой не должен откладываться: %v", err)
	}

	if got := svc.QueueLength(ctx); got != 0 {
		t.Errorf("Отклоненный сервером запрос не должен попадать в очередь, длина: %d", got)
	}
}
