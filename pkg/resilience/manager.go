package resilience

import (
	"sync"
)

// Manager hands out one circuit breaker per logical dependency name so
// independent dependencies fail in isolation. Breakers live for the
// lifetime of the manager.
type Manager struct {
	mu        sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  Settings
	observers []Observer
}

// NewManager creates a new circuit breaker manager with the given defaults.
// The Name field of the defaults is ignored; each breaker is named by the
// dependency it guards.
func NewManager(defaults Settings) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for the named dependency, creating it on first use
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	settings := m.defaults
	settings.Name = name
	cb = NewCircuitBreaker(settings)
	for _, observer := range m.observers {
		cb.Subscribe(observer)
	}
	m.breakers[name] = cb
	return cb
}

// Subscribe registers an observer on all current and future breakers
func (m *Manager) Subscribe(observer Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observers = append(m.observers, observer)
	for _, cb := range m.breakers {
		cb.Subscribe(observer)
	}
}

// Statuses returns snapshots of every breaker, for observability endpoints
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.breakers))
	for _, cb := range m.breakers {
		statuses = append(statuses, cb.Status())
	}
	return statuses
}

// AllMetrics returns cumulative counter snapshots of every breaker
func (m *Manager) AllMetrics() []Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]Metrics, 0, len(m.breakers))
	for _, cb := range m.breakers {
		all = append(all, cb.Metrics())
	}
	return all
}
