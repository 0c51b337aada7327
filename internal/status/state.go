package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/christian-oudard/signal-cli/internal/bus"
)

// State represents an account session runtime state.
type State string

const (
	Loading   State = "LOADING"
	Ready     State = "READY"
	Receiving State = "RECEIVING"
	CaughtUp  State = "CAUGHT_UP"
	Closed    State = "CLOSED"
	Failed    State = "FAILED"
)

// validTransitions defines allowed state transitions. CaughtUp means the
// receive loop drained the server backlog and is waiting for live envelopes.
var validTransitions = map[State][]State{
	Loading:   {Ready, Failed},
	Ready:     {Receiving, Closed, Failed},
	Receiving: {CaughtUp, Ready, Closed, Failed},
	CaughtUp:  {Receiving, Ready, Closed, Failed},
	Closed:    {},
	Failed:    {Closed},
}

// Machine tracks and enforces account session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Loading state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Loading,
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
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
