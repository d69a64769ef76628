// Package connectivity tracks network reachability for MessCheck.
//
// The Monitor caches the current online/offline state and broadcasts
// transitions to subscribers. It cannot fail; it can only lag the true
// reachability of the network if the underlying signal does.
package connectivity

import (
	"log/slog"
	"sync"

	"github.com/messcheck/messcheck/internal/models"
)

// Subscriber is a callback invoked on every connectivity transition.
type Subscriber func(state models.ConnectivityState)

type subscriberEntry struct {
	id int64
	fn Subscriber
}

// Monitor maintains the current connectivity state and notifies subscribers
// on transitions, in registration order.
type Monitor struct {
	mu     sync.Mutex
	state  models.ConnectivityState
	subs   []subscriberEntry
	nextID int64
}

// NewMonitor creates a Monitor with the given initial state. Callers should
// seed it from a fresh probe rather than assuming online.
func NewMonitor(initial models.ConnectivityState) *Monitor {
	slog.Debug("Monitor.NewMonitor: creating connectivity monitor", "initial", initial)
	return &Monitor{state: initial}
}

// Status returns the current cached connectivity state. Never blocks.
func (m *Monitor) Status() models.ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a callback for connectivity transitions and returns an
// unsubscribe function. The callback is invoked once immediately with the
// current state, so subscribers never miss the initial value, then again on
// every transition.
func (m *Monitor) Subscribe(fn Subscriber) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriberEntry{id: id, fn: fn})
	current := m.state
	m.mu.Unlock()

	slog.Debug("Monitor.Subscribe: subscriber registered", "id", id, "current", current)
	fn(current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, entry := range m.subs {
			if entry.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				slog.Debug("Monitor.Subscribe: subscriber removed", "id", id)
				return
			}
		}
	}
}

// SetOnline records that the environment became reachable.
func (m *Monitor) SetOnline() {
	m.setState(models.ConnectivityOnline)
}

// SetOffline records that the environment became unreachable.
func (m *Monitor) SetOffline() {
	m.setState(models.ConnectivityOffline)
}

// setState updates the cached state and notifies subscribers synchronously in
// registration order. A redundant signal (same state as cached) notifies
// nobody, so subscribers only ever observe transitions.
func (m *Monitor) setState(state models.ConnectivityState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	subs := make([]subscriberEntry, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	slog.Info("Monitor.setState: connectivity changed", "state", state, "subscribers", len(subs))
	for _, entry := range subs {
		entry.fn(state)
	}
}
