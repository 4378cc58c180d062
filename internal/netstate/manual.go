package netstate

import (
	"errors"
	"sync"
)

// Manual is an Observer driven by its host: the mobile bridge and the CLI
// push state with Set.
type Manual struct {
	mu       sync.Mutex
	listener Listener
	state    bool
	known    bool
}

// NewManual creates a Manual observer.
func NewManual() *Manual {
	return &Manual{}
}

// Start registers listener. If a state was Set before Start it is replayed.
func (m *Manual) Start(listener Listener) error {
	if listener == nil {
		return errors.New("netstate: nil listener")
	}
	m.mu.Lock()
	m.listener = listener
	state, known := m.state, m.known
	m.mu.Unlock()

	if known {
		listener(state)
	}
	return nil
}

// Set reports available to the listener.
func (m *Manual) Set(available bool) {
	m.mu.Lock()
	m.state, m.known = available, true
	l := m.listener
	m.mu.Unlock()

	if l != nil {
		l(available)
	}
}

// Available returns the last state Set, false if none.
func (m *Manual) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop detaches the listener.
func (m *Manual) Stop() {
	m.mu.Lock()
	m.listener = nil
	m.mu.Unlock()
}

var _ Observer = (*Manual)(nil)
