package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/AngkinV/Nexus-Chat/internal/api"
	"github.com/AngkinV/Nexus-Chat/internal/bus"
	"github.com/AngkinV/Nexus-Chat/internal/cache"
	"github.com/AngkinV/Nexus-Chat/internal/store"
	"github.com/AngkinV/Nexus-Chat/internal/subscription"
	"go.uber.org/zap"
)

type outboundMessage struct {
	ChatID      int64  `json:"chatId"`
	SenderID    int64  `json:"senderId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	FileURL     string `json:"fileUrl,omitempty"`
	ClientMsgID string `json:"clientMsgId"`
}

type outboundTyping struct {
	ChatID   int64 `json:"chatId"`
	UserID   int64 `json:"userId"`
	IsTyping bool  `json:"isTyping"`
}

// SendMessage appends a pending message, moves its conversation to the top
// and publishes it. The returned message carries the temporary id that the
// server echo will be reconciled against.
func (e *Engine) SendMessage(ctx context.Context, chatID int64, content string, kind cache.MessageKind, fileURL string) (cache.Message, error) {
	if kind == "" {
		kind = cache.KindText
	}
	if kind == cache.KindText && strings.TrimSpace(content) == "" {
		return cache.Message{}, fmt.Errorf("send message: empty content")
	}

	e.mu.Lock()
	if e.self.ID == 0 {
		e.mu.Unlock()
		return cache.Message{}, ErrNotStarted
	}
	if !e.convs.Has(chatID) {
		e.mu.Unlock()
		return cache.Message{}, fmt.Errorf("send message to %d: %w", chatID, ErrUnknownConversation)
	}
	id := e.newID()
	m := cache.Message{
		ID:             id,
		ClientID:       id,
		ConversationID: chatID,
		SenderID:       e.self.ID,
		SenderName:     e.self.Nickname,
		SenderAvatar:   e.self.AvatarURL,
		Content:        content,
		Kind:           kind,
		FileURL:        fileURL,
		CreatedAt:      e.now(),
		State:          cache.Pending,
		IsSelf:         true,
	}
	e.msgs.AddPending(m)
	e.convs.Touch(chatID, m.Summary(), m.CreatedAt)
	e.subscribeLocked(ctx, chatID)
	e.publish(bus.MessageUpserted, MessageChange{ChatID: chatID, MessageID: id})
	e.chatChanged(chatID)
	e.mu.Unlock()

	e.conn.Publish(ctx, subscription.DestSendMessage, outbound(m))
	return m, nil
}

// RetryMessage moves a failed message back to pending and publishes it again.
func (e *Engine) RetryMessage(ctx context.Context, chatID int64, messageID string) error {
	e.mu.Lock()
	m, ok := e.msgs.Retry(chatID, messageID)
	if ok {
		e.publish(bus.MessageUpserted, MessageChange{ChatID: chatID, MessageID: messageID})
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("retry %s: %w", messageID, ErrUnknownMessage)
	}
	e.conn.Publish(ctx, subscription.DestSendMessage, outbound(m))
	return nil
}

func outbound(m cache.Message) outboundMessage {
	return outboundMessage{
		ChatID:      m.ConversationID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: string(m.Kind),
		FileURL:     m.FileURL,
		ClientMsgID: m.ClientID,
	}
}

// SendTyping publishes the local user's typing state.
func (e *Engine) SendTyping(ctx context.Context, chatID int64, typing bool) error {
	e.mu.Lock()
	self := e.self.ID
	e.mu.Unlock()
	if self == 0 {
		return ErrNotStarted
	}
	e.conn.Publish(ctx, subscription.DestTyping, outboundTyping{ChatID: chatID, UserID: self, IsTyping: typing})
	return nil
}

// SetActive selects a conversation, or closes it when it is already active,
// and returns the new active id. Opening a conversation clears its unread
// count locally and, best effort, on the server.
func (e *Engine) SetActive(ctx context.Context, chatID int64) (int64, error) {
	e.mu.Lock()
	if !e.convs.Has(chatID) && chatID != e.convs.ActiveID() {
		e.mu.Unlock()
		return 0, fmt.Errorf("activate %d: %w", chatID, ErrUnknownConversation)
	}
	active := e.convs.SetActive(chatID)
	var change ChatChange
	if active != 0 {
		e.subscribeLocked(ctx, active)
		c, _ := e.convs.Get(active)
		change = ChatChange{ChatID: active, Version: c.Version}
		e.publish(bus.ChatUpdated, change)
	}
	e.publish(bus.ChatActiveChanged, change)
	self := e.self.ID
	e.mu.Unlock()

	if active != 0 && self != 0 {
		if err := e.api.MarkChatRead(ctx, active, self); err != nil {
			e.logger.Warn("mark read failed", zap.Int64("chat_id", active), zap.Error(err))
		}
	}
	return active, nil
}

// SetPinned pins or unpins a conversation and persists the pinned set.
func (e *Engine) SetPinned(chatID int64, pinned bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.convs.SetPinned(chatID, pinned)
	e.chatChanged(chatID)
	if err := e.prefs.SetPinned(e.convs.Pinned()); err != nil {
		return fmt.Errorf("persist pinned: %w", err)
	}
	return nil
}

// SetMuted mutes or unmutes a conversation and persists the muted set.
func (e *Engine) SetMuted(chatID int64, muted bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.convs.SetMuted(chatID, muted)
	e.chatChanged(chatID)
	if err := e.prefs.SetMuted(e.convs.Muted()); err != nil {
		return fmt.Errorf("persist muted: %w", err)
	}
	return nil
}

// LoadChats fetches the conversation list and merges it into the cache.
// Every listed conversation is subscribed.
func (e *Engine) LoadChats(ctx context.Context) error {
	self, epoch, err := e.session()
	if err != nil {
		return err
	}
	chats, err := e.api.UserChats(ctx, self)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return ErrStale
	}
	for _, chat := range chats {
		c, members := conversationFromChat(chat)
		if c.ID == e.convs.ActiveID() {
			c.UnreadCount = 0
		}
		e.convs.Upsert(c, members)
		e.subscribeLocked(ctx, c.ID)
		e.chatChanged(c.ID)
	}
	e.logger.Info("chats loaded", zap.Int("count", len(chats)))
	return nil
}

// LoadHistory fetches the next older page of a conversation and prepends it.
// Returns how many new messages were added; zero means the start of the
// history was reached.
func (e *Engine) LoadHistory(ctx context.Context, chatID int64) (int, error) {
	self, epoch, err := e.session()
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	page := e.pages[chatID]
	e.mu.Unlock()

	list, err := e.api.ChatMessages(ctx, chatID, self, page, e.cfg.HistoryPageSize)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return 0, ErrStale
	}
	msgs := make([]cache.Message, 0, len(list))
	for _, p := range list {
		if p.ChatID == 0 {
			p.ChatID = chatID
		}
		msgs = append(msgs, messageFromEvent(p, self))
	}
	added := e.msgs.Prepend(chatID, msgs)
	if len(list) > 0 {
		e.pages[chatID] = page + 1
	}
	if added > 0 {
		e.publish(bus.MessageUpserted, MessageChange{ChatID: chatID})
	}
	return added, nil
}

// LoadContacts fetches contacts and both request lists and replaces the
// relationship cache with them.
func (e *Engine) LoadContacts(ctx context.Context) error {
	self, epoch, err := e.session()
	if err != nil {
		return err
	}
	users, err := e.api.Contacts(ctx, self)
	if err != nil {
		return err
	}
	inbound, err := e.api.PendingRequests(ctx, self)
	if err != nil {
		return err
	}
	sent, err := e.api.SentRequests(ctx, self)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return ErrStale
	}
	contacts := make([]cache.Contact, 0, len(users))
	for _, u := range users {
		c := contactFromUser(u)
		contacts = append(contacts, c)
		e.presence.Update(c.UserID, c.IsOnline, e.now())
	}
	e.rels.SetContacts(contacts)
	in := make([]cache.Request, 0, len(inbound))
	for _, r := range inbound {
		in = append(in, requestFromEvent(r))
	}
	e.rels.SetInbound(in)
	out := make([]cache.Request, 0, len(sent))
	for _, r := range sent {
		out = append(out, requestFromEvent(r))
	}
	e.rels.SetOutbound(out)
	e.publish(bus.ContactsChanged, e.rels.PendingCount())
	return nil
}

// CreateDirectChat opens a direct conversation with contactID.
func (e *Engine) CreateDirectChat(ctx context.Context, contactID int64) (cache.Conversation, error) {
	self, epoch, err := e.session()
	if err != nil {
		return cache.Conversation{}, err
	}
	chat, err := e.api.CreateDirectChat(ctx, self, contactID)
	if err != nil {
		return cache.Conversation{}, err
	}
	if chat.ContactID == 0 && !chat.IsGroup() {
		chat.ContactID = contactID
	}
	return e.adoptChat(ctx, epoch, chat)
}

// CreateGroupChat creates a group with the given members.
func (e *Engine) CreateGroupChat(ctx context.Context, name string, memberIDs []int64) (cache.Conversation, error) {
	self, epoch, err := e.session()
	if err != nil {
		return cache.Conversation{}, err
	}
	chat, err := e.api.CreateGroupChat(ctx, self, name, memberIDs)
	if err != nil {
		return cache.Conversation{}, err
	}
	if chat.Type == "" {
		chat.Type = string(cache.Group)
	}
	return e.adoptChat(ctx, epoch, chat)
}

func (e *Engine) adoptChat(ctx context.Context, epoch uint64, chat api.Chat) (cache.Conversation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return cache.Conversation{}, ErrStale
	}
	c, members := conversationFromChat(chat)
	if c.Kind == cache.Direct && c.DisplayName == "" {
		if ct, ok := e.rels.Contact(c.ContactID); ok {
			c.DisplayName = ct.Nickname
			c.AvatarRef = ct.AvatarRef
		}
	}
	if c.Kind == cache.Direct {
		c.Online = c.Online || e.presence.IsOnline(c.ContactID)
	}
	e.convs.Upsert(c, members)
	e.subscribeLocked(ctx, c.ID)
	e.chatChanged(c.ID)
	out, _ := e.convs.Get(c.ID)
	return e.projectLocked(out), nil
}

// AddContact adds a peer directly or files a request, as the server decides.
func (e *Engine) AddContact(ctx context.Context, contactID int64, message string) (cache.AddResult, error) {
	self, epoch, err := e.session()
	if err != nil {
		return cache.AddResult{}, err
	}
	res, err := e.api.AddContact(ctx, self, contactID, message)
	if err != nil {
		return cache.AddResult{}, err
	}

	var out cache.AddResult
	if res.Direct() {
		out = cache.AddResult{Kind: cache.AddDirect, Contact: contactFromUser(*res.Contact)}
	} else {
		req := requestFromEvent(*res.Request)
		if req.ToUserID == 0 {
			req.ToUserID = contactID
		}
		out = cache.AddResult{Kind: cache.AddRequest, Request: req}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return cache.AddResult{}, ErrStale
	}
	if e.rels.ApplyAddResult(out) {
		e.publish(bus.ContactsChanged, e.rels.PendingCount())
	}
	return out, nil
}

// AcceptRequest accepts an inbound request and adds the requester.
func (e *Engine) AcceptRequest(ctx context.Context, requestID int64) error {
	self, epoch, err := e.session()
	if err != nil {
		return err
	}
	user, err := e.api.AcceptRequest(ctx, requestID, self)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return ErrStale
	}
	req, _ := e.rels.RemoveInbound(requestID)
	if user.ID == 0 {
		user.ID = req.FromUserID
		user.Nickname = req.FromNickname
		user.AvatarURL = req.FromAvatar
	}
	if user.ID != 0 {
		e.rels.AddContact(contactFromUser(user))
	}
	e.publish(bus.ContactsChanged, e.rels.PendingCount())
	return nil
}

// RejectRequest rejects an inbound request.
func (e *Engine) RejectRequest(ctx context.Context, requestID int64) error {
	self, epoch, err := e.session()
	if err != nil {
		return err
	}
	if err := e.api.RejectRequest(ctx, requestID, self); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return ErrStale
	}
	e.rels.RemoveInbound(requestID)
	e.publish(bus.ContactsChanged, e.rels.PendingCount())
	return nil
}

// RemoveContact removes a contact.
func (e *Engine) RemoveContact(ctx context.Context, contactID int64) error {
	self, epoch, err := e.session()
	if err != nil {
		return err
	}
	if err := e.api.RemoveContact(ctx, self, contactID); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if epoch != e.epoch.Load() {
		return ErrStale
	}
	if e.rels.RemoveContact(contactID) {
		e.publish(bus.ContactsChanged, e.rels.PendingCount())
	}
	return nil
}

// Logout tears the session down: the channel is closed, every cache and the
// subscription set are cleared and the stored profile and token are removed.
// REST results and inbound envelopes from before the reset are discarded.
func (e *Engine) Logout(ctx context.Context) error {
	e.epoch.Add(1)
	e.conn.Disconnect(ctx)

	// Frames routed before the read loop stopped carry an epoch from the
	// window above; bumping again under e.mu retires them.
	e.mu.Lock()
	e.epoch.Add(1)
	e.registry.Reset()
	e.convs.Reset()
	e.msgs.Reset()
	e.presence.Reset()
	e.rels.Reset()
	e.pages = make(map[int64]int)
	self := e.self.ID
	e.self = store.Profile{}
	e.mu.Unlock()

	e.publish(bus.SessionReset, self)
	e.logger.Info("logged out", zap.Int64("user_id", self))
	if err := e.prefs.ClearSession(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// session returns the signed-in user and the current epoch.
func (e *Engine) session() (int64, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self.ID == 0 {
		return 0, 0, ErrNotStarted
	}
	return e.self.ID, e.epoch.Load(), nil
}
