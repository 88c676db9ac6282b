package sync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/bus"
	"github.com/AngkinV/Nexus-Chat/internal/cache"
	"github.com/AngkinV/Nexus-Chat/internal/event"
	"github.com/AngkinV/Nexus-Chat/internal/subscription"
	"go.uber.org/zap"
)

// ChatChange is the payload of chat.* bus events.
type ChatChange struct {
	ChatID  int64
	Version uint64
}

// MessageChange is the payload of message.* bus events.
type MessageChange struct {
	ChatID    int64
	MessageID string
	Outcome   cache.Outcome
}

// PresenceChange is the payload of presence.changed.
type PresenceChange struct {
	UserID   int64
	IsOnline bool
}

// HandleEnvelope decodes one inbound body and applies it to the current
// session. Undecodable envelopes are logged and dropped.
func (e *Engine) HandleEnvelope(ctx context.Context, topic string, body []byte) {
	e.handle(ctx, inbound{topic: topic, body: body, epoch: e.epoch.Load()})
}

// handle applies in unless its session has ended. The epoch is compared
// under e.mu, the same lock Logout holds while it resets the caches.
func (e *Engine) handle(ctx context.Context, in inbound) {
	chatID, _ := subscription.ChatIDFromTopic(in.topic)
	evt, err := event.Decode(in.topic, in.body, chatID)
	if err != nil {
		fields := []zap.Field{zap.String("topic", in.topic), zap.Error(err)}
		var de *event.DecodeError
		if errors.As(err, &de) && de.Kind != "" {
			fields = append(fields, zap.String("type", string(de.Kind)))
		}
		e.logger.Warn("dropping inbound envelope", fields...)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if in.epoch != e.epoch.Load() || e.self.ID == 0 {
		e.logger.Debug("dropping envelope from ended session", zap.String("topic", in.topic))
		return
	}
	e.apply(ctx, evt)
}

func (e *Engine) apply(ctx context.Context, evt event.Event) {
	switch p := evt.(type) {
	case event.ChatMessage:
		e.onChatMessage(ctx, p)
	case event.Typing:
		e.onTyping(p)
	case event.Error:
		e.onSendError(p)
	case event.UserOnline:
		e.updatePresence(p.UserID, true, time.Time{})
	case event.UserOffline:
		e.updatePresence(p.UserID, false, p.LastSeen.Time)
	case event.ContactRequest:
		if e.rels.AddInbound(requestFromEvent(p)) {
			e.publish(bus.ContactsChanged, e.rels.PendingCount())
		}
	case event.ContactRequestAccepted:
		added := e.rels.AddContact(contactFromUser(p.Contact))
		_, removed := e.rels.RemoveOutbound(p.RequestID, p.Contact.ID)
		if added || removed {
			e.publish(bus.ContactsChanged, e.rels.PendingCount())
		}
	case event.ContactRequestRejected:
		if _, ok := e.rels.RemoveOutbound(p.RequestID, p.UserID); ok {
			e.publish(bus.ContactsChanged, e.rels.PendingCount())
		}
	case event.ContactAdded:
		added := e.rels.AddContact(contactFromUser(p.Contact))
		_, removed := e.rels.RemoveOutbound(0, p.Contact.ID)
		if added || removed {
			e.publish(bus.ContactsChanged, e.rels.PendingCount())
		}
	case event.ContactRemoved:
		if e.rels.RemoveContact(p.ContactID) {
			e.publish(bus.ContactsChanged, e.rels.PendingCount())
		}
	case event.ChatDisabled:
		e.removeConversation(ctx, p.ChatID)
	case event.ChatCreated:
		e.onChatCreated(ctx, p)
	case event.GroupUpdated:
		if e.convs.UpdateGroup(p.GroupID, p.Name, p.AvatarURL, p.Description) {
			e.chatChanged(p.GroupID)
		}
	case event.GroupMemberJoined:
		if e.convs.UpsertMember(p.GroupID, memberFromEvent(p.Member)) {
			e.chatChanged(p.GroupID)
		}
	case event.GroupMemberLeft:
		if p.UserID == e.self.ID {
			e.removeConversation(ctx, p.GroupID)
			return
		}
		if e.convs.RemoveMember(p.GroupID, p.UserID) {
			e.chatChanged(p.GroupID)
		}
	case event.GroupDeleted:
		e.removeConversation(ctx, p.GroupID)
	case event.GroupAdminChanged:
		role := cache.RoleMember
		if p.IsAdmin {
			role = cache.RoleAdmin
		}
		if e.convs.SetRole(p.GroupID, p.UserID, role) {
			e.chatChanged(p.GroupID)
		}
	case event.GroupOwnershipTransferred:
		changed := e.convs.SetRole(p.GroupID, p.NewOwnerID, cache.RoleOwner)
		if p.PreviousOwnerID != 0 && e.convs.SetRole(p.GroupID, p.PreviousOwnerID, cache.RoleAdmin) {
			changed = true
		}
		if changed {
			e.chatChanged(p.GroupID)
		}
	default:
		e.logger.Error("unhandled event variant", zap.String("type", string(evt.Kind())))
	}
}

func (e *Engine) onChatMessage(ctx context.Context, p event.ChatMessage) {
	isSelf := p.SenderID == e.self.ID
	if !e.convs.Has(p.ChatID) {
		c := cache.Conversation{
			ID:          p.ChatID,
			Kind:        cache.Direct,
			DisplayName: p.SenderNickname,
			AvatarRef:   p.SenderAvatar,
		}
		if !isSelf {
			c.ContactID = p.SenderID
			c.Online = e.presence.IsOnline(p.SenderID)
		}
		e.convs.Upsert(c, nil)
		e.logger.Debug("conversation discovered", zap.Int64("chat_id", p.ChatID))
	}
	e.subscribeLocked(ctx, p.ChatID)

	msg := messageFromEvent(p, e.self.ID)
	outcome := e.msgs.Reconcile(msg)
	if outcome == cache.Duplicate {
		return
	}
	if e.msgs.SetTyping(p.ChatID, p.SenderID, false, e.now()) {
		e.publish(bus.TypingChanged, ChatChange{ChatID: p.ChatID})
	}

	at := msg.CreatedAt
	if at.IsZero() {
		at = e.now()
	}
	e.convs.Touch(p.ChatID, msg.Summary(), at)
	if !isSelf && e.convs.ActiveID() != p.ChatID {
		e.convs.IncrementUnread(p.ChatID)
		if !e.convs.IsMuted(p.ChatID) && e.notifier != nil {
			e.notifier.Notify(Notification{ChatID: p.ChatID, Title: p.SenderNickname, Body: msg.Summary()})
		}
	}
	e.publish(bus.MessageUpserted, MessageChange{ChatID: p.ChatID, MessageID: msg.ID, Outcome: outcome})
	e.chatChanged(p.ChatID)
}

func (e *Engine) onTyping(p event.Typing) {
	if p.UserID == e.self.ID {
		return
	}
	if e.msgs.SetTyping(p.ChatID, p.UserID, p.IsTyping, e.now()) {
		e.publish(bus.TypingChanged, ChatChange{ChatID: p.ChatID})
	}
}

func (e *Engine) onSendError(p event.Error) {
	m, ok := e.msgs.MarkLatestPendingFailed(p.ChatID)
	if !ok {
		e.logger.Warn("send error with no pending message", zap.Int64("chat_id", p.ChatID), zap.String("message", p.Message))
		return
	}
	e.logger.Warn("message failed", zap.Int64("chat_id", p.ChatID), zap.String("id", m.ID), zap.String("message", p.Message))
	e.publish(bus.MessageFailed, MessageChange{ChatID: p.ChatID, MessageID: m.ID})
}

func (e *Engine) onChatCreated(ctx context.Context, p event.ChatCreated) {
	c := cache.Conversation{
		ID:            p.ChatID,
		Kind:          cache.Kind(p.Type),
		DisplayName:   p.Name,
		AvatarRef:     p.AvatarURL,
		ContactID:     p.ContactID,
		LastMessageAt: p.CreatedAt.Time,
	}
	if c.Kind == cache.Direct && c.ContactID != 0 {
		if ct, ok := e.rels.Contact(c.ContactID); ok && c.DisplayName == "" {
			c.DisplayName = ct.Nickname
			c.AvatarRef = ct.AvatarRef
		}
		c.Online = e.presence.IsOnline(c.ContactID)
	}
	var members []cache.Member
	if p.Members != nil {
		members = make([]cache.Member, 0, len(p.Members))
		for _, m := range p.Members {
			members = append(members, memberFromEvent(m))
		}
	}
	e.convs.Upsert(c, members)
	e.subscribeLocked(ctx, p.ChatID)
	e.chatChanged(p.ChatID)
}

// updatePresence applies a presence change to the presence set, the contact
// list and every conversation that references the user. An offline change
// without a server last-seen time is stamped with the local clock.
func (e *Engine) updatePresence(userID int64, online bool, seen time.Time) {
	if seen.IsZero() {
		seen = e.now()
	}
	e.presence.Update(userID, online, seen)
	if e.rels.SetContactPresence(userID, online, seen) {
		e.publish(bus.ContactsChanged, e.rels.PendingCount())
	}
	for _, id := range e.convs.SetPresence(userID, online) {
		e.chatChanged(id)
	}
	e.publish(bus.PresenceChanged, PresenceChange{UserID: userID, IsOnline: online})
}

func (e *Engine) removeConversation(ctx context.Context, id int64) {
	removed, wasActive := e.convs.Remove(id)
	e.msgs.Clear(id)
	delete(e.pages, id)
	e.registry.Unsubscribe(ctx, e.topics.Chat(id))
	e.registry.Unsubscribe(ctx, e.topics.Group(id))
	if !removed {
		return
	}
	e.publish(bus.ChatRemoved, ChatChange{ChatID: id})
	if wasActive {
		e.publish(bus.ChatActiveChanged, ChatChange{})
	}
}

// subscribeLocked makes sure the conversation's topics are subscribed. The
// registry makes repeated calls no-ops.
func (e *Engine) subscribeLocked(ctx context.Context, id int64) {
	c, ok := e.convs.Get(id)
	if !ok {
		return
	}
	e.registry.Subscribe(ctx, e.topics.Chat(id), e.enqueue)
	if c.Kind == cache.Group {
		e.registry.Subscribe(ctx, e.topics.Group(id), e.enqueue)
	}
	e.convs.MarkSubscribed(id)
}

// chatChanged announces a conversation mutation. A change to the active
// conversation is announced again so observers of the selection refresh.
func (e *Engine) chatChanged(id int64) {
	c, ok := e.convs.Get(id)
	if !ok {
		return
	}
	change := ChatChange{ChatID: id, Version: c.Version}
	e.publish(bus.ChatUpdated, change)
	if e.convs.ActiveID() == id {
		e.publish(bus.ChatActiveChanged, change)
	}
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.NewEvent(kind, payload))
}

func messageID(id int64) string { return strconv.FormatInt(id, 10) }
