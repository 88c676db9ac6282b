package cache

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// TempPrefix marks locally generated message ids.
const TempPrefix = "temp-"

// MessageKind is the content kind of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// ParseMessageKind maps a server message type to a MessageKind, defaulting
// to text.
func ParseMessageKind(s string) MessageKind {
	switch MessageKind(strings.ToLower(s)) {
	case KindImage:
		return KindImage
	case KindFile:
		return KindFile
	}
	return KindText
}

// DeliveryState tracks an outbound message from optimistic insert to
// confirmation.
type DeliveryState string

const (
	Pending   DeliveryState = "pending"
	Confirmed DeliveryState = "confirmed"
	Failed    DeliveryState = "failed"
)

// Message is one entry in a conversation log. Pending and failed entries
// carry a temporary id; ClientID repeats it so a server echo can name the
// entry it confirms.
type Message struct {
	ID             string
	ClientID       string
	ConversationID int64
	SenderID       int64
	SenderName     string
	SenderAvatar   string
	Content        string
	Kind           MessageKind
	FileURL        string
	CreatedAt      time.Time
	State          DeliveryState
	IsSelf         bool
}

// Temporary reports whether the id was generated locally.
func (m Message) Temporary() bool {
	return strings.HasPrefix(m.ID, TempPrefix)
}

// Summary is the one-line preview shown in the conversation list.
func (m Message) Summary() string {
	switch m.Kind {
	case KindImage:
		return "[Image]"
	case KindFile:
		return "[File]"
	}
	return m.Content
}

// Outcome describes what Reconcile did with a confirmed message.
type Outcome int

const (
	Duplicate Outcome = iota
	Replaced
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	}
	return "duplicate"
}

// Messages holds one ordered log per conversation and the per-conversation
// typing sets.
type Messages struct {
	logs      map[int64][]Message
	typing    map[int64]map[int64]time.Time
	typingTTL time.Duration
}

// NewMessages creates an empty message cache. Typing entries expire after
// typingTTL unless refreshed; zero disables expiry.
func NewMessages(typingTTL time.Duration) *Messages {
	return &Messages{
		logs:      make(map[int64][]Message),
		typing:    make(map[int64]map[int64]time.Time),
		typingTTL: typingTTL,
	}
}

// AddPending appends an optimistic message.
func (ms *Messages) AddPending(m Message) {
	m.State = Pending
	if m.ClientID == "" {
		m.ClientID = m.ID
	}
	ms.logs[m.ConversationID] = append(ms.logs[m.ConversationID], m)
}

// Reconcile merges a server-confirmed message into its conversation log.
//
// A confirmed id already in the log is a no-op. For the local user's own
// messages the pending entry is replaced in place: by ClientID when the echo
// carries one, otherwise the first pending entry from the same sender with
// exactly the same content. That fallback picks the oldest of several
// identical pending messages, which may not be the one the server confirmed.
// Anything unmatched is appended.
func (ms *Messages) Reconcile(m Message) Outcome {
	m.State = Confirmed
	log := ms.logs[m.ConversationID]
	if indexByID(log, m.ID) >= 0 {
		return Duplicate
	}
	if m.IsSelf {
		idx := -1
		if m.ClientID != "" {
			idx = slices.IndexFunc(log, func(e Message) bool {
				return e.State == Pending && e.ClientID == m.ClientID
			})
		} else {
			idx = slices.IndexFunc(log, func(e Message) bool {
				return e.State == Pending && e.SenderID == m.SenderID && e.Content == m.Content
			})
		}
		if idx >= 0 {
			log[idx] = m
			return Replaced
		}
	}
	ms.logs[m.ConversationID] = append(log, m)
	return Appended
}

// MarkLatestPendingFailed flags the most recent pending message of a
// conversation as failed, leaving it in place for a retry.
func (ms *Messages) MarkLatestPendingFailed(chatID int64) (Message, bool) {
	log := ms.logs[chatID]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].State == Pending {
			log[i].State = Failed
			return log[i], true
		}
	}
	return Message{}, false
}

// MarkFailed flags one pending message as failed.
func (ms *Messages) MarkFailed(chatID int64, id string) bool {
	log := ms.logs[chatID]
	i := indexByID(log, id)
	if i < 0 || log[i].State != Pending {
		return false
	}
	log[i].State = Failed
	return true
}

// Retry moves a failed message back to pending.
func (ms *Messages) Retry(chatID int64, id string) (Message, bool) {
	log := ms.logs[chatID]
	i := indexByID(log, id)
	if i < 0 || log[i].State != Failed {
		return Message{}, false
	}
	log[i].State = Pending
	return log[i], true
}

// Find returns a message by id.
func (ms *Messages) Find(chatID int64, id string) (Message, bool) {
	log := ms.logs[chatID]
	if i := indexByID(log, id); i >= 0 {
		return log[i], true
	}
	return Message{}, false
}

// Prepend inserts an older history page before the current log, skipping
// ids already present. Returns how many messages were added.
func (ms *Messages) Prepend(chatID int64, page []Message) int {
	log := ms.logs[chatID]
	seen := make(map[string]bool, len(log)+len(page))
	for _, m := range log {
		seen[m.ID] = true
	}
	fresh := make([]Message, 0, len(page))
	for _, m := range page {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.State = Confirmed
		fresh = append(fresh, m)
	}
	if len(fresh) > 0 {
		ms.logs[chatID] = append(fresh, log...)
	}
	return len(fresh)
}

// Log returns a copy of a conversation's log.
func (ms *Messages) Log(chatID int64) []Message {
	return slices.Clone(ms.logs[chatID])
}

// Clear drops a conversation's log and typing set.
func (ms *Messages) Clear(chatID int64) {
	delete(ms.logs, chatID)
	delete(ms.typing, chatID)
}

// Reset drops every log and typing set.
func (ms *Messages) Reset() {
	ms.logs = make(map[int64][]Message)
	ms.typing = make(map[int64]map[int64]time.Time)
}

// SetTyping adds or removes userID from a conversation's typing set.
// Returns whether the visible set changed.
func (ms *Messages) SetTyping(chatID, userID int64, typing bool, now time.Time) bool {
	set := ms.typing[chatID]
	if !typing {
		if _, ok := set[userID]; !ok {
			return false
		}
		delete(set, userID)
		if len(set) == 0 {
			delete(ms.typing, chatID)
		}
		return true
	}
	if set == nil {
		set = make(map[int64]time.Time)
		ms.typing[chatID] = set
	}
	_, existed := set[userID]
	expired := existed && ms.typingTTL > 0 && !now.Before(set[userID])
	set[userID] = now.Add(ms.typingTTL)
	return !existed || expired
}

// TypingUsers returns the users currently typing, dropping expired entries.
func (ms *Messages) TypingUsers(chatID int64, now time.Time) []int64 {
	set := ms.typing[chatID]
	if ms.typingTTL > 0 {
		for uid, until := range set {
			if !now.Before(until) {
				delete(set, uid)
			}
		}
	}
	if len(set) == 0 {
		delete(ms.typing, chatID)
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}

func indexByID(log []Message, id string) int {
	return slices.IndexFunc(log, func(e Message) bool { return e.ID == id })
}
