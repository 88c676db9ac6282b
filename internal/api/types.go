package api

import (
	"fmt"
	"strings"

	"github.com/AngkinV/Nexus-Chat/internal/event"
)

// Chat is a conversation summary as the server returns it.
type Chat struct {
	ID              int64          `json:"id"`
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	AvatarURL       string         `json:"avatarUrl"`
	Description     string         `json:"description"`
	LastMessage     string         `json:"lastMessage"`
	LastMessageTime event.Time     `json:"lastMessageTime"`
	UnreadCount     int            `json:"unreadCount"`
	ContactID       int64          `json:"contactId"`
	IsOnline        bool           `json:"isOnline"`
	Members         []event.Member `json:"members"`
}

// IsGroup reports whether the chat is a group.
func (c Chat) IsGroup() bool { return strings.EqualFold(c.Type, "GROUP") }

// AddContactResult tells whether an add-contact call added the peer
// directly or left a pending request.
type AddContactResult struct {
	Type    string                `json:"type"`
	Contact *event.User           `json:"contact"`
	Request *event.ContactRequest `json:"request"`
}

// Direct reports whether the peer was added without a request.
func (r AddContactResult) Direct() bool { return strings.EqualFold(r.Type, "DIRECT") }

func (r AddContactResult) validate() error {
	switch {
	case r.Direct() && r.Contact != nil:
		return nil
	case strings.EqualFold(r.Type, "REQUEST") && r.Request != nil:
		return nil
	}
	return &Error{Op: "add contact", Message: fmt.Sprintf("unexpected result type %q", r.Type)}
}
