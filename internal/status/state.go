package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/AngkinV/Nexus-Chat/internal/bus"
)

// State represents the connection state of the real-time channel.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Disconnected},
}

// Machine tracks and enforces channel state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Publish(bus.NewEvent(bus.ConnStateChanged, StatusChange{From: from, To: to}))
	return nil
}

// Settle moves the machine to Disconnected from whatever state it is in.
// It is a no-op when already Disconnected.
func (m *Machine) Settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == Disconnected {
		return
	}
	from := m.current
	m.current = Disconnected
	m.bus.Publish(bus.NewEvent(bus.ConnStateChanged, StatusChange{From: from, To: Disconnected}))
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
