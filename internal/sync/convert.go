package sync

import (
	"github.com/AngkinV/Nexus-Chat/internal/api"
	"github.com/AngkinV/Nexus-Chat/internal/cache"
	"github.com/AngkinV/Nexus-Chat/internal/event"
)

func messageFromEvent(p event.ChatMessage, self int64) cache.Message {
	return cache.Message{
		ID:             messageID(p.ID),
		ClientID:       p.ClientMsgID,
		ConversationID: p.ChatID,
		SenderID:       p.SenderID,
		SenderName:     p.SenderNickname,
		SenderAvatar:   p.SenderAvatar,
		Content:        p.Content,
		Kind:           cache.ParseMessageKind(p.MessageType),
		FileURL:        p.FileURL,
		CreatedAt:      p.CreatedAt.Time,
		State:          cache.Confirmed,
		IsSelf:         p.SenderID == self,
	}
}

func memberFromEvent(m event.Member) cache.Member {
	return cache.Member{
		UserID:    m.UserID,
		Nickname:  m.Nickname,
		AvatarRef: m.Avatar,
		IsOnline:  m.IsOnline,
		Role:      cache.ParseRole(m.Role),
	}
}

func contactFromUser(u event.User) cache.Contact {
	c := cache.Contact{
		UserID:    u.ID,
		Username:  u.Username,
		Nickname:  u.Nickname,
		AvatarRef: u.AvatarURL,
		IsOnline:  u.IsOnline,
	}
	if !u.LastSeen.IsZero() {
		seen := u.LastSeen.Time
		c.LastSeen = &seen
	}
	if c.Nickname == "" {
		c.Nickname = c.Username
	}
	return c
}

func requestFromEvent(r event.ContactRequest) cache.Request {
	return cache.Request{
		ID:           r.ID,
		FromUserID:   r.FromUserID,
		ToUserID:     r.ToUserID,
		FromNickname: r.FromNickname,
		FromAvatar:   r.FromAvatar,
		Message:      r.Message,
		Status:       cache.RequestStatus(r.Status),
		CreatedAt:    r.CreatedAt.Time,
	}
}

func conversationFromChat(c api.Chat) (cache.Conversation, []cache.Member) {
	conv := cache.Conversation{
		ID:                 c.ID,
		Kind:               cache.Direct,
		DisplayName:        c.Name,
		AvatarRef:          c.AvatarURL,
		Description:        c.Description,
		LastMessageSummary: c.LastMessage,
		LastMessageAt:      c.LastMessageTime.Time,
		UnreadCount:        c.UnreadCount,
		ContactID:          c.ContactID,
		Online:             c.IsOnline,
	}
	if c.IsGroup() {
		conv.Kind = cache.Group
		conv.ContactID = 0
	}
	var members []cache.Member
	if c.Members != nil {
		members = make([]cache.Member, 0, len(c.Members))
		for _, m := range c.Members {
			members = append(members, memberFromEvent(m))
		}
	}
	return conv, members
}
