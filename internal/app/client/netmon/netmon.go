package netmon

import (
	"context"
	"net/http"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"
)

// Monitor — источник сигнала о доступности сети.
// Реализация обязана вызывать подписчика только при смене состояния.
type Monitor interface {
	IsConnected() bool
	Subscribe(fn func(connected bool)) (unsubscribe func())
}

// ProbeMonitor периодически проверяет доступность сервера HEAD-запросом
// и рассылает подписчикам переходы между "есть сеть" и "нет сети".
type ProbeMonitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	log      *slog.Logger

	mu        gosync.RWMutex
	connected bool
	nextID    int
	listeners map[int]func(bool)
}

func NewProbeMonitor(probeURL string, interval time.Duration, log *slog.Logger) *ProbeMonitor {
	return &ProbeMonitor{
		probeURL: probeURL,
		interval: interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log:       log,
		listeners: make(map[int]func(bool)),
	}
}

// Start запускает цикл проверок. Первая проверка выполняется сразу,
// чтобы состояние было известно до первого тика.
func (p *ProbeMonitor) Start(ctx context.Context) {
	p.setConnected(p.probe(ctx))

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.log.Debug("Мониторинг сети остановлен")
				return
			case <-ticker.C:
				p.setConnected(p.probe(ctx))
			}
		}
	}()
}

func (p *ProbeMonitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.probeURL, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	// Любой ответ сервера означает, что сеть есть
	return true
}

func (p *ProbeMonitor) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *ProbeMonitor) Subscribe(fn func(bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *ProbeMonitor) setConnected(connected bool) {
	p.mu.Lock()
	if p.connected == connected {
		p.mu.Unlock()
		return
	}
	p.connected = connected

	fns := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	p.log.Info("Состояние сети изменилось", "connected", connected)
	for _, fn := range fns {
		fn(connected)
	}
}

// ManualMonitor — управляемый вручную монитор. Используется в тестах
// и там, где сигнал о сети приходит извне.
type ManualMonitor struct {
	mu        gosync.RWMutex
	connected bool
	nextID    int
	listeners map[int]func(bool)
}

func NewManualMonitor(connected bool) *ManualMonitor {
	return &ManualMonitor{
		connected: connected,
		listeners: make(map[int]func(bool)),
	}
}

func (m *ManualMonitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *ManualMonitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Set выставляет состояние сети и уведомляет подписчиков при переходе.
func (m *ManualMonitor) Set(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected

	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}
