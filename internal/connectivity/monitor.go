// Package connectivity tracks whether the register can currently reach the backend.
package connectivity

import (
	"sync"

	"github.com/mwren/tillpoint/internal/logging"
)

// Monitor holds the single observable "online" boolean and fans transitions
// out to subscribers. The signal is advisory: a reported "online" does not
// guarantee a submission will succeed, and the synchronizer handles
// submission failures independently of what the monitor says.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   []func(online bool)
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(initialOnline bool) *Monitor {
	return &Monitor{online: initialOnline}
}

// Online reports the current reachability state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a callback invoked on every state transition. The
// synchronizer subscribes exactly once at construction; deep callback chains
// are avoided by keeping this a flat list. Callbacks run synchronously on
// the goroutine that observed the transition and must not block.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// SetOnline records a reachability observation. Only a transition notifies
// subscribers; repeated observations of the same state are dropped.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	logging.Info("connectivity changed", map[string]interface{}{
		"online": online,
	})

	for _, fn := range subs {
		fn(online)
	}
}
