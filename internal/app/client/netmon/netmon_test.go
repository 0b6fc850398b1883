package netmon

import (
	"testing"
)

func TestManualMonitorTransitions(t *testing.T) {
	mon := NewManualMonitor(false)

	var got []bool
	unsubscribe := mon.Subscribe(func(connected bool) {
		got = append(got, connected)
	})

	// Повторная установка того же состояния не должна уведомлять
	mon.Set(false)
	if len(got) != 0 {
		t.Errorf("Не ожидалось уведомлений, получено: %d", len(got))
	}

	mon.Set(true)
	mon.Set(false)
	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("Неверная последовательность уведомлений: %v", got)
	}

	unsubscribe()
	mon.Set(true)
	if len(got) != 2 {
		t.Errorf("Уведомление после отписки: %v", got)
	}
}

func TestManualMonitorIsConnected(t *testing.T) {
	mon := NewManualMonitor(true)
	if !mon.IsConnected() {
		t.Error("Ожидалось состояние 'подключен'")
	}

	mon.Set(false)
	if mon.IsConnected() {
		t.Error("Ожидалось состояние 'отключен'")
	}
}
