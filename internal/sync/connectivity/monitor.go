// Package connectivity tracks the device's online/offline state as
// reported by the host platform's native connectivity signal. The
// monitor never probes the network itself, so "online" does not
// guarantee the API server is actually reachable.
package connectivity

import "sync"

// Monitor exposes the current connectivity state and transition
// notifications. The host platform bridge pushes state changes via
// SetOnline.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(initialOnline bool) *Monitor {
	return &Monitor{
		online: initialOnline,
		subs:   make(map[int]func(online bool)),
	}
}

// IsOnline returns the last reported connectivity state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline records a state change pushed by the platform signal.
// Subscribers are notified only on actual transitions; repeated
// reports of the same state are dropped.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers a transition callback and returns its
// subscription id. Callbacks run synchronously on the goroutine that
// reported the transition and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.subs[m.nextID] = fn
	return m.nextID
}

// Unsubscribe removes a transition callback.
func (m *Monitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}
