package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-separated, namespaced by source:
// "identity.changed", "group.updated", "contact.updated",
// "message.received", "receive.caught_up", "session.status_changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
