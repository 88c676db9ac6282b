package subscription

import (
	"fmt"
	"strconv"
	"strings"
)

// Outbound destinations.
const (
	DestSendMessage = "/app/chat.sendMessage"
	DestTyping      = "/app/chat.typing"
	DestUserStatus  = "/app/user.status"
)

// Fixed inbound topics.
const (
	TopicPresence = "/topic/users"

	DefaultContactsTopic = "/user/queue/contacts"
	DefaultChatsTopic    = "/user/queue/chats"
)

// Topics resolves topic names for one identity. The contacts and chats
// topics come from configuration because the deployment has used both the
// user-queue and the per-user topic form; "{id}" is replaced with the user id.
type Topics struct {
	ContactsPattern string
	ChatsPattern    string
}

// UserMessages is the per-user message topic.
func (Topics) UserMessages(userID int64) string {
	return fmt.Sprintf("/topic/user.%d.messages", userID)
}

// Presence is the global presence topic.
func (Topics) Presence() string { return TopicPresence }

// Contacts is the per-user relationship event topic.
func (t Topics) Contacts(userID int64) string {
	return expand(t.ContactsPattern, DefaultContactsTopic, userID)
}

// Chats is the per-user chat-creation topic.
func (t Topics) Chats(userID int64) string {
	return expand(t.ChatsPattern, DefaultChatsTopic, userID)
}

// Chat is the per-conversation message and typing topic.
func (Topics) Chat(chatID int64) string {
	return fmt.Sprintf("/topic/chat/%d", chatID)
}

// Group is the group-wide membership topic.
func (Topics) Group(groupID int64) string {
	return fmt.Sprintf("/topic/group/%d", groupID)
}

// ChatIDFromTopic extracts the conversation id from a /topic/chat/{id} or
// /topic/group/{id} name.
func ChatIDFromTopic(topic string) (int64, bool) {
	for _, prefix := range []string{"/topic/chat/", "/topic/group/"} {
		if rest, ok := strings.CutPrefix(topic, prefix); ok {
			id, err := strconv.ParseInt(rest, 10, 64)
			return id, err == nil
		}
	}
	return 0, false
}

func expand(pattern, fallback string, userID int64) string {
	if pattern == "" {
		pattern = fallback
	}
	return strings.ReplaceAll(pattern, "{id}", strconv.FormatInt(userID, 10))
}
