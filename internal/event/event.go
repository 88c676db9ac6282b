// Package event defines the inbound real-time events as a closed set of Go
// types and decodes wire envelopes into them.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the envelope "type" discriminator.
type Kind string

const (
	KindChatMessage               Kind = "CHAT_MESSAGE"
	KindTyping                    Kind = "TYPING"
	KindError                     Kind = "ERROR"
	KindUserOnline                Kind = "USER_ONLINE"
	KindUserOffline               Kind = "USER_OFFLINE"
	KindContactRequest            Kind = "CONTACT_REQUEST"
	KindContactRequestAccepted    Kind = "CONTACT_REQUEST_ACCEPTED"
	KindContactRequestRejected    Kind = "CONTACT_REQUEST_REJECTED"
	KindContactAdded              Kind = "CONTACT_ADDED"
	KindContactRemoved            Kind = "CONTACT_REMOVED"
	KindChatDisabled              Kind = "CHAT_DISABLED"
	KindChatCreated               Kind = "CHAT_CREATED"
	KindGroupUpdated              Kind = "GROUP_UPDATED"
	KindGroupMemberJoined         Kind = "GROUP_MEMBER_JOINED"
	KindGroupMemberLeft           Kind = "GROUP_MEMBER_LEFT"
	KindGroupDeleted              Kind = "GROUP_DELETED"
	KindGroupAdminChanged         Kind = "GROUP_ADMIN_CHANGED"
	KindGroupOwnershipTransferred Kind = "GROUP_OWNERSHIP_TRANSFERRED"
)

// Event is implemented by every inbound event variant.
type Event interface {
	Kind() Kind
	isEvent()
}

// Envelope is the wire format of every inbound body.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	ChatID  *int64          `json:"chatId,omitempty"`
}

// Time decodes the server's timestamp forms: RFC 3339, zone-less ISO local
// date-time, or epoch milliseconds.
type Time struct {
	time.Time
}

var localLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms)
		return nil
	}
	unquoted, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", s, err)
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, unquoted, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp %q: unrecognized layout", unquoted)
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// User is the minimal user record embedded in relationship events.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
	IsOnline  bool   `json:"isOnline"`
	LastSeen  Time   `json:"lastSeen"`
}

// Member is a group member as carried by chat and group events.
type Member struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatarUrl"`
	IsOnline bool   `json:"isOnline"`
	Role     string `json:"role"`
}

// ChatMessage is a confirmed message pushed by the server.
type ChatMessage struct {
	ID             int64  `json:"id"`
	ChatID         int64  `json:"chatId"`
	SenderID       int64  `json:"senderId"`
	SenderNickname string `json:"senderNickname"`
	SenderAvatar   string `json:"senderAvatar"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	FileURL        string `json:"fileUrl"`
	ClientMsgID    string `json:"clientMsgId"`
	CreatedAt      Time   `json:"createdAt"`
}

// Typing starts or stops a typing indicator.
type Typing struct {
	ChatID   int64 `json:"chatId"`
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
}

// Error reports a failed send in a conversation.
type Error struct {
	ChatID  int64  `json:"chatId"`
	Message string `json:"message"`
}

// UserOnline reports a user coming online.
type UserOnline struct {
	UserID int64 `json:"userId"`
}

// UserOffline reports a user going offline.
type UserOffline struct {
	UserID   int64 `json:"userId"`
	LastSeen Time  `json:"lastSeen"`
}

// ContactRequest is a new inbound relationship request.
type ContactRequest struct {
	ID           int64  `json:"id"`
	FromUserID   int64  `json:"fromUserId"`
	ToUserID     int64  `json:"toUserId"`
	FromNickname string `json:"fromNickname"`
	FromAvatar   string `json:"fromAvatarUrl"`
	Message      string `json:"message"`
	Status       string `json:"status"`
	CreatedAt    Time   `json:"createdAt"`
}

// ContactRequestAccepted reports that a peer accepted our request.
type ContactRequestAccepted struct {
	RequestID int64 `json:"requestId"`
	Contact   User  `json:"contact"`
}

// ContactRequestRejected reports that a peer rejected our request.
type ContactRequestRejected struct {
	RequestID int64 `json:"requestId"`
	UserID    int64 `json:"userId"`
}

// ContactAdded reports a contact added directly, without a request.
type ContactAdded struct {
	Contact User `json:"contact"`
}

// ContactRemoved reports a removed contact.
type ContactRemoved struct {
	ContactID int64 `json:"contactId"`
}

// ChatDisabled removes a conversation.
type ChatDisabled struct {
	ChatID int64 `json:"chatId"`
}

// ChatCreated announces a conversation that includes the local user.
type ChatCreated struct {
	ChatID    int64    `json:"id"`
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	AvatarURL string   `json:"avatarUrl"`
	ContactID int64    `json:"contactId"`
	CreatedAt Time     `json:"createdAt"`
	Members   []Member `json:"members"`
}

// GroupUpdated changes group metadata.
type GroupUpdated struct {
	GroupID     int64  `json:"groupId"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl"`
	Description string `json:"description"`
}

// GroupMemberJoined adds a member.
type GroupMemberJoined struct {
	GroupID int64  `json:"groupId"`
	Member  Member `json:"member"`
}

// GroupMemberLeft removes a member.
type GroupMemberLeft struct {
	GroupID int64 `json:"groupId"`
	UserID  int64 `json:"userId"`
}

// GroupDeleted removes a group conversation.
type GroupDeleted struct {
	GroupID int64 `json:"groupId"`
}

// GroupAdminChanged grants or revokes admin rights.
type GroupAdminChanged struct {
	GroupID int64 `json:"groupId"`
	UserID  int64 `json:"userId"`
	IsAdmin bool  `json:"isAdmin"`
}

// GroupOwnershipTransferred moves ownership between members.
type GroupOwnershipTransferred struct {
	GroupID         int64 `json:"groupId"`
	PreviousOwnerID int64 `json:"previousOwnerId"`
	NewOwnerID      int64 `json:"newOwnerId"`
}

func (ChatMessage) Kind() Kind               { return KindChatMessage }
func (Typing) Kind() Kind                    { return KindTyping }
func (Error) Kind() Kind                     { return KindError }
func (UserOnline) Kind() Kind                { return KindUserOnline }
func (UserOffline) Kind() Kind               { return KindUserOffline }
func (ContactRequest) Kind() Kind            { return KindContactRequest }
func (ContactRequestAccepted) Kind() Kind    { return KindContactRequestAccepted }
func (ContactRequestRejected) Kind() Kind    { return KindContactRequestRejected }
func (ContactAdded) Kind() Kind              { return KindContactAdded }
func (ContactRemoved) Kind() Kind            { return KindContactRemoved }
func (ChatDisabled) Kind() Kind              { return KindChatDisabled }
func (ChatCreated) Kind() Kind               { return KindChatCreated }
func (GroupUpdated) Kind() Kind              { return KindGroupUpdated }
func (GroupMemberJoined) Kind() Kind         { return KindGroupMemberJoined }
func (GroupMemberLeft) Kind() Kind           { return KindGroupMemberLeft }
func (GroupDeleted) Kind() Kind              { return KindGroupDeleted }
func (GroupAdminChanged) Kind() Kind         { return KindGroupAdminChanged }
func (GroupOwnershipTransferred) Kind() Kind { return KindGroupOwnershipTransferred }

func (ChatMessage) isEvent()               {}
func (Typing) isEvent()                    {}
func (Error) isEvent()                     {}
func (UserOnline) isEvent()                {}
func (UserOffline) isEvent()               {}
func (ContactRequest) isEvent()            {}
func (ContactRequestAccepted) isEvent()    {}
func (ContactRequestRejected) isEvent()    {}
func (ContactAdded) isEvent()              {}
func (ContactRemoved) isEvent()            {}
func (ChatDisabled) isEvent()              {}
func (ChatCreated) isEvent()               {}
func (GroupUpdated) isEvent()              {}
func (GroupMemberJoined) isEvent()         {}
func (GroupMemberLeft) isEvent()           {}
func (GroupDeleted) isEvent()              {}
func (GroupAdminChanged) isEvent()         {}
func (GroupOwnershipTransferred) isEvent() {}
