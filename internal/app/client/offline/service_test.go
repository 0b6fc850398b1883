package offline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	gosync "sync"
	"testing"
	"time"

	"golang.org/x/exp/slog"

	"unicampus/internal/app/client/netmon"
	"unicampus/internal/app/client/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPIClient записывает все повторы и отдает заранее заданные исходы.
type fakeAPIClient struct {
	mu      gosync.Mutex
	replays []QueuedRequest
	results map[string]ReplayResult // по URL; по умолчанию — успех
	block   chan struct{}           // если не nil, Replay ждет закрытия канала
}

func (f *fakeAPIClient) Replay(_ context.Context, req QueuedRequest) ReplayResult {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.replays = append(f.replays, req)
	if result, ok := f.results[req.URL]; ok {
		return result
	}
	return ReplayResult{Status: http.StatusOK}
}

func (f *fakeAPIClient) replayedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	urls := make([]string, 0, len(f.replays))
	for _, r := range f.replays {
		urls = append(urls, r.URL)
	}
	return urls
}

func newTestService(t *testing.T, connected bool, opts Options) (*Service, *storage.MemoryStore, *netmon.ManualMonitor) {
	t.Helper()
	store := storage.NewMemoryStore()
	monitor := netmon.NewManualMonitor(connected)
	return NewService(store, monitor, testLogger(), opts), store, monitor
}

func TestCacheResponseOnlyGET(t *testing.T) {
	svc, store, _ := newTestService(t, true, Options{})
	ctx := context.Background()

	svc.CacheResponse(ctx, RequestDescriptor{Method: "POST", URL: "https://x/tickets"}, CachedResponse{
		Body: json.RawMessage(`{"id":1}`), Status: 201,
	})

	keys, _ := store.Keys(ctx, cachePrefix)
	if len(keys) != 0 {
		t.Errorf("POST не должен кэшироваться, найдено ключей: %d", len(keys))
	}

	// Регистр метода не важен
	svc.CacheResponse(ctx, RequestDescriptor{Method: "get", URL: "https://x/intakes"}, CachedResponse{
		Body: json.RawMessage(`[]`), Status: 200,
	})

	keys, _ = store.Keys(ctx, cachePrefix)
	if len(keys) != 1 {
		t.Errorf("GET должен кэшироваться, найдено ключей: %d", len(keys))
	}
}

func TestCachedResponseAlwaysStatus200(t *testing.T) {
	svc, _, _ := newTestService(t, true, Options{})
	ctx := context.Background()

	desc := RequestDescriptor{Method: "GET", URL: "https://x/intakes"}
	svc.CacheResponse(ctx, desc, CachedResponse{
		Body:   json.RawMessage(`[{"id":7}]`),
		Status: 299,
	})

	got := svc.CachedResponse(ctx, desc)
	if got == nil {
		t.Fatal("Ожидался закэшированный ответ")
	}
	if got.Status != http.StatusOK {
		t.Errorf("Восстановленный статус должен быть 200, получено: %d", got.Status)
	}
	if string(got.Body) != `[{"id":7}]` {
		t.Errorf("Неверное тело ответа: %s", got.Body)
	}
}

func TestCachedResponseMissAndCorrupt(t *testing.T) {
	svc, store, _ := newTestService(t, true, Options{})
	ctx := context.Background()

	desc := RequestDescriptor{Method: "GET", URL: "https://x/none"}
	if got := svc.CachedResponse(ctx, desc); got != nil {
		t.Error("Промах кэша должен возвращать nil")
	}

	// Поврежденная запись деградирует до промаха
	_ = store.Set(ctx, cachePrefix+CacheKey(desc), "{не json")
	if got := svc.CachedResponse(ctx, desc); got != nil {
		t.Error("Поврежденная запись должна возвращать nil")
	}
}

func TestQueueRequestStripsAuthorization(t *testing.T) {
	svc, _, _ := newTestService(t, false, Options{})
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer secret")
	headers.Set("Content-Type", "application/json")

	before := svc.QueueLength(ctx)
	svc.QueueRequest(ctx, RequestDescriptor{
		Method:  "POST",
		URL:     "https://x/support/tickets",
		Headers: headers,
		Body:    json.RawMessage(`{"subject":"wifi"}`),
	})

	queue := svc.PendingRequests(ctx)
	if len(queue) != before+1 {
		t.Fatalf("Очередь должна вырасти на 1, было %d, стало %d", before, len(queue))
	}

	queued := queue[len(queue)-1]
	if queued.Headers.Get("Authorization") != "" {
		t.Error("Authorization должен быть вырезан из отложенного запроса")
	}
	if queued.Headers.Get("Content-Type") != "application/json" {
		t.Error("Остальные заголовки должны сохраниться")
	}
	if queued.ID == 0 {
		t.Error("Идентификатор должен быть выставлен")
	}
}

func TestProcessQueueAttemptsAllInOrder(t *testing.T) {
	// MaxReplayAttempts=1 воспроизводит историческое поведение:
	// и успех, и ошибка убирают запись из очереди.
	svc, _, _ := newTestService(t, true, Options{MaxReplayAttempts: 1})
	ctx := context.Background()

	for _, url := range []string{"https://x/r1", "https://x/r2", "https://x/r3"} {
		svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: url})
	}

	api := &fakeAPIClient{results: map[string]ReplayResult{
		"https://x/r2": {Err: context.DeadlineExceeded},
	}}
	svc.SetAPIClient(api)

	svc.ProcessQueue(ctx)

	urls := api.replayedURLs()
	if len(urls) != 3 {
		t.Fatalf("Все три запроса должны быть выполнены по одному разу, получено: %v", urls)
	}
	for i, want := range []string{"https://x/r1", "https://x/r2", "https://x/r3"} {
		if urls[i] != want {
			t.Errorf("Нарушен порядок повтора: %v", urls)
			break
		}
	}

	if got := svc.QueueLength(ctx); got != 0 {
		t.Errorf("Очередь должна опустеть, осталось: %d", got)
	}
}

func TestProcessQueueClassifiesOutcomes(t *testing.T) {
	svc, _, _ := newTestService(t, true, Options{MaxReplayAttempts: 3})
	ctx := context.Background()

	svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: "https://x/rejected"})
	svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: "https://x/flaky"})
	svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: "https://x/ok"})

	api := &fakeAPIClient{results: map[string]ReplayResult{
		"https://x/rejected": {Status: http.StatusBadRequest},
		"https://x/flaky":    {Err: context.DeadlineExceeded},
	}}
	svc.SetAPIClient(api)

	svc.ProcessQueue(ctx)

	queue := svc.PendingRequests(ctx)
	if len(queue) != 1 {
		t.Fatalf("В очереди должен остаться только временно неудавшийся запрос: %+v", queue)
	}
	if queue[0].URL != "https://x/flaky" {
		t.Errorf("Остаться должен был flaky, остался: %s", queue[0].URL)
	}
	if queue[0].Attempts != 1 {
		t.Errorf("Счетчик попыток должен быть 1, получено: %d", queue[0].Attempts)
	}

	// Второй и третий проходы исчерпывают попытки
	svc.ProcessQueue(ctx)
	svc.ProcessQueue(ctx)

	if got := svc.QueueLength(ctx); got != 0 {
		t.Errorf("После исчерпания попыток очередь должна опустеть, осталось: %d", got)
	}
}

func TestProcessQueueReentrancy(t *testing.T) {
	svc, _, _ := newTestService(t, true, Options{MaxReplayAttempts: 1})
	ctx := context.Background()

	svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: "https://x/slow"})

	block := make(chan struct{})
	api := &fakeAPIClient{block: block}
	svc.SetAPIClient(api)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		svc.ProcessQueue(ctx)
		close(done)
	}()

	<-started
	// Даем первому проходу захватить флаг
	time.Sleep(50 * time.Millisecond)

	// Повторный вызов во время идущего прохода — no-op
	svc.ProcessQueue(ctx)

	close(block)
	<-done

	if got := len(api.replayedURLs()); got != 1 {
		t.Errorf("Должна быть ровно одна попытка повтора, получено: %d", got)
	}
}

func TestProcessQueueWithoutAPIClient(t *testing.T) {
	svc, _, _ := newTestService(t, true, Options{MaxReplayAttempts: 1})
	ctx := context.Background()

	svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: "https://x/r1"})
	svc.ProcessQueue(ctx)

	if got := svc.QueueLength(ctx); got != 1 {
		t.Errorf("Без API-клиента очередь не должна меняться, осталось: %d", got)
	}
}

func TestConnectivityTransitionTriggersReplay(t *testing.T) {
	svc, _, monitor := newTestService(t, false, Options{MaxReplayAttempts: 1})
	ctx := context.Background()

	svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: "https://x/r1"})

	api := &fakeAPIClient{}
	svc.SetAPIClient(api)

	svc.Start(ctx)
	defer svc.Stop()

	// Переход "нет сети" → "есть сеть"
	monitor.Set(true)

	deadline := time.After(2 * time.Second)
	for {
		if len(api.replayedURLs()) == 1 && svc.QueueLength(ctx) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Повтор не запустился: попыток %d", len(api.replayedURLs()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Повторная установка того же состояния не запускает новый проход
	monitor.Set(true)
	time.Sleep(50 * time.Millisecond)
	if got := len(api.replayedURLs()); got != 1 {
		t.Errorf("Ожидалась ровно одна попытка, получено: %d", got)
	}
}

func TestSubscribeImmediateCallback(t *testing.T) {
	svc, _, monitor := newTestService(t, true, Options{})
	ctx := context.Background()
	svc.Start(ctx)
	defer svc.Stop()

	var calls []bool
	unsubscribe := svc.Subscribe(func(connected bool) {
		calls = append(calls, connected)
	})

	// Подписчик синхронно получает текущее состояние
	if len(calls) != 1 || calls[0] != true {
		t.Fatalf("Ожидался немедленный вызов с true, получено: %v", calls)
	}

	monitor.Set(false)
	if len(calls) != 2 || calls[1] != false {
		t.Errorf("Ожидалось уведомление о переходе, получено: %v", calls)
	}

	unsubscribe()
	monitor.Set(true)
	if len(calls) != 2 {
		t.Errorf("Уведомление после отписки: %v", calls)
	}
}

func TestStorageFailureDegradesToEmpty(t *testing.T) {
	// Хранилище, падающее на каждом обращении
	svc := NewService(failingStore{}, netmon.NewManualMonitor(true), testLogger(), Options{})
	ctx := context.Background()

	if got := svc.CachedResponse(ctx, RequestDescriptor{Method: "GET", URL: "https://x"}); got != nil {
		t.Error("Ошибка хранилища должна деградировать до промаха")
	}

	// Ни одна операция не должна паниковать
	svc.CacheResponse(ctx, RequestDescriptor{Method: "GET", URL: "https://x"}, CachedResponse{})
	svc.QueueRequest(ctx, RequestDescriptor{Method: "POST", URL: "https://x"})
	svc.ProcessQueue(ctx)

	if got := svc.QueueLength(ctx); got != 0 {
		t.Errorf("Очередь при сломанном хранилище считается пустой, получено: %d", got)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, error) {
	return "", io.ErrUnexpectedEOF
}
func (failingStore) Set(context.Context, string, string) error { return io.ErrUnexpectedEOF }
func (failingStore) Delete(context.Context, string) error      { return io.ErrUnexpectedEOF }
func (failingStore) Keys(context.Context, string) ([]string, error) {
	return nil, io.ErrUnexpectedEOF
}
func (failingStore) Close() error { return nil }
