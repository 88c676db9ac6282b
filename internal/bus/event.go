package bus

import "time"

// Event kinds published by the sync daemon. Subscribers filter by the
// namespace prefix before the first dot ("conn.", "chat.", ...).
const (
	ConnStateChanged   = "conn.state_changed"
	ConnGaveUp         = "conn.gave_up"
	ChatUpdated        = "chat.updated"
	ChatRemoved        = "chat.removed"
	ChatActiveChanged  = "chat.active_changed"
	MessageUpserted    = "message.upserted"
	MessageFailed      = "message.failed"
	TypingChanged      = "message.typing"
	PresenceChanged    = "presence.changed"
	ContactsChanged    = "contact.changed"
	NotificationRaised = "notify.raised"
	SessionReset       = "session.reset"
)

// Event represents a state change published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

// Namespace returns the prefix of the kind up to and including the first dot.
func (e Event) Namespace() string {
	for i := 0; i < len(e.Kind); i++ {
		if e.Kind[i] == '.' {
			return e.Kind[:i+1]
		}
	}
	return e.Kind
}
