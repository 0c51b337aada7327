package status

import (
	"testing"

	"github.com/christian-oudard/signal-cli/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Loading {
		t.Errorf("initial state = %s, want LOADING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Loading, Ready},
		{Loading, Failed},
		{Ready, Receiving},
		{Ready, Closed},
		{Receiving, CaughtUp},
		{Receiving, Ready},
		{CaughtUp, Receiving},
		{CaughtUp, Ready},
		{Failed, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Receiving); err == nil {
		t.Error("Transition(LOADING -> RECEIVING) should fail")
	}
}

func TestClosedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Closed)
	for _, s := range []State{Loading, Ready, Receiving, Failed} {
		if err := m.Transition(s); err == nil {
			t.Errorf("Transition(CLOSED -> %s) should fail", s)
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Ready); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.status_changed" {
		t.Errorf("event kind = %q, want session.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Loading || change.To != Ready {
		t.Errorf("change = %v -> %v, want LOADING -> READY", change.From, change.To)
	}
}

// TestReceiveLifecycle walks the full receive cycle:
// LOADING → READY → RECEIVING → CAUGHT_UP → READY → CLOSED
func TestReceiveLifecycle(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Ready, Receiving, CaughtUp, Ready, Closed}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Closed {
		t.Errorf("final state = %s, want CLOSED", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Loading:   {},
		Ready:     {Ready},
		Receiving: {Ready, Receiving},
		CaughtUp:  {Ready, Receiving, CaughtUp},
		Closed:    {Ready, Closed},
		Failed:    {Failed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
