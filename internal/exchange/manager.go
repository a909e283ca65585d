package exchange

import (
	"fmt"
	"sort"
	"sync"

	"cryptoarb/internal/config"
)

// Manager хранит реестр подключённых бирж.
// Register идемпотентен: повторная регистрация возвращает существующий адаптер.
type Manager struct {
	mu     sync.RWMutex
	venues map[string]Exchange
}

// NewManager создает пустой реестр
func NewManager() *Manager {
	return &Manager{venues: make(map[string]Exchange)}
}

// NewManagerFromConfig создает реестр со всеми биржами из конфигурации
func NewManagerFromConfig(cfgs map[string]config.ExchangeConfig) (*Manager, error) {
	m := NewManager()
	for name, cfg := range cfgs {
		ex, err := New(name, cfg)
		if err != nil {
			return nil, fmt.Errorf("init exchange %s: %w", name, err)
		}
		m.Register(ex)
	}
	return m, nil
}

// Register добавляет биржу в реестр. Возвращает действующий адаптер:
// уже зарегистрированный под этим именем либо переданный.
func (m *Manager) Register(ex Exchange) Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.venues[ex.Name()]; ok {
		return existing
	}
	m.venues[ex.Name()] = ex
	return ex
}

// Replace заменяет адаптер биржи, закрывая прежний.
// Используется при пересоздании деградировавшего подключения.
func (m *Manager) Replace(ex Exchange) {
	m.mu.Lock()
	old, ok := m.venues[ex.Name()]
	m.venues[ex.Name()] = ex
	m.mu.Unlock()
	if ok && old != ex {
		_ = old.Close()
	}
}

// Get возвращает биржу по имени
func (m *Manager) Get(name string) (Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.venues[name]
	if !ok {
		return nil, fmt.Errorf("exchange not registered: %s", name)
	}
	return ex, nil
}

// Names возвращает отсортированный список зарегистрированных бирж
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.venues))
	for name := range m.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All возвращает снимок реестра
func (m *Manager) All() map[string]Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Exchange, len(m.venues))
	for k, v := range m.venues {
		out[k] = v
	}
	return out
}

// CloseAll закрывает все подключения. Ошибки собираются, закрытие не прерывается.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, ex := range m.venues {
		if err := ex.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return firstErr
}
