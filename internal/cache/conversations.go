// Package cache holds the in-memory projections the sync engine keeps
// consistent with the server: conversations, message logs, presence and
// relationships. None of the types lock; the engine serializes access.
package cache

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// Kind distinguishes direct from group conversations.
type Kind string

const (
	Direct Kind = "DIRECT"
	Group  Kind = "GROUP"
)

// Role is a group member's role.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
	RoleOwner  Role = "OWNER"
)

// ParseRole maps a server role string to a Role, defaulting to member.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(s)) {
	case RoleOwner:
		return RoleOwner
	case RoleAdmin:
		return RoleAdmin
	}
	return RoleMember
}

// Member is a group participant. Members live in a flat map keyed by
// conversation and user; conversations only reference them by user id.
type Member struct {
	UserID    int64
	Nickname  string
	AvatarRef string
	IsOnline  bool
	Role      Role
}

// Conversation is a chat summary. Version changes on every mutation, so a
// holder of an older copy can tell it is stale.
type Conversation struct {
	ID                 int64
	Kind               Kind
	DisplayName        string
	AvatarRef          string
	Description        string
	LastMessageSummary string
	LastMessageAt      time.Time
	UnreadCount        int
	MemberIDs          []int64
	ContactID          int64
	Online             bool
	Pinned             bool
	Muted              bool
	Subscribed         bool
	Version            uint64
}

type memberKey struct {
	chatID int64
	userID int64
}

// Conversations is the ordered set of conversation summaries plus the
// active selection.
type Conversations struct {
	byID    map[int64]*Conversation
	members map[memberKey]Member
	order   []int64
	active  int64
	version uint64

	pinned map[int64]bool
	muted  map[int64]bool
}

// NewConversations creates an empty cache.
func NewConversations() *Conversations {
	return &Conversations{
		byID:    make(map[int64]*Conversation),
		members: make(map[memberKey]Member),
		pinned:  make(map[int64]bool),
		muted:   make(map[int64]bool),
	}
}

// LoadFlags installs the durable pin and mute sets. They apply to records
// already cached and to every record inserted later.
func (cs *Conversations) LoadFlags(pinned, muted []int64) {
	cs.pinned = make(map[int64]bool, len(pinned))
	cs.muted = make(map[int64]bool, len(muted))
	for _, id := range pinned {
		cs.pinned[id] = true
	}
	for _, id := range muted {
		cs.muted[id] = true
	}
	for id, c := range cs.byID {
		c.Pinned, c.Muted = cs.pinned[id], cs.muted[id]
		cs.bump(c)
	}
	cs.reorder()
}

// Upsert inserts a conversation or replaces its server-owned fields. Local
// state (unread count, subscription flag) survives a replace unless the new
// record carries a higher unread count. Members, when given, replace the
// current member list.
func (cs *Conversations) Upsert(c Conversation, members []Member) {
	if prev, ok := cs.byID[c.ID]; ok {
		c.Subscribed = prev.Subscribed
		c.UnreadCount = max(c.UnreadCount, prev.UnreadCount)
		if c.LastMessageAt.Before(prev.LastMessageAt) {
			c.LastMessageAt = prev.LastMessageAt
			c.LastMessageSummary = prev.LastMessageSummary
		}
		if members == nil {
			c.MemberIDs = slices.Clone(prev.MemberIDs)
		}
	} else {
		cs.order = append(cs.order, c.ID)
	}
	if members != nil {
		cs.dropMembers(c.ID)
		c.MemberIDs = make([]int64, 0, len(members))
		for _, m := range members {
			cs.members[memberKey{c.ID, m.UserID}] = m
			c.MemberIDs = append(c.MemberIDs, m.UserID)
		}
	}
	c.UnreadCount = max(c.UnreadCount, 0)
	c.Pinned, c.Muted = cs.pinned[c.ID], cs.muted[c.ID]
	stored := c
	cs.byID[c.ID] = &stored
	cs.bump(&stored)
	cs.reorder()
}

// Has reports whether id is cached.
func (cs *Conversations) Has(id int64) bool {
	_, ok := cs.byID[id]
	return ok
}

// Get returns a copy of the conversation.
func (cs *Conversations) Get(id int64) (Conversation, bool) {
	c, ok := cs.byID[id]
	if !ok {
		return Conversation{}, false
	}
	return snapshot(c), true
}

// List returns copies in display order: pinned first, then unpinned, each
// bucket by last activity, most recent first.
func (cs *Conversations) List() []Conversation {
	out := make([]Conversation, 0, len(cs.order))
	for _, id := range cs.order {
		out = append(out, snapshot(cs.byID[id]))
	}
	return out
}

// Len returns the number of cached conversations.
func (cs *Conversations) Len() int { return len(cs.byID) }

// Members returns a conversation's members in membership order.
func (cs *Conversations) Members(id int64) []Member {
	c, ok := cs.byID[id]
	if !ok {
		return nil
	}
	out := make([]Member, 0, len(c.MemberIDs))
	for _, uid := range c.MemberIDs {
		out = append(out, cs.members[memberKey{id, uid}])
	}
	return out
}

// Remove deletes a conversation and its members. wasActive reports whether
// it was the active selection, which is cleared.
func (cs *Conversations) Remove(id int64) (removed, wasActive bool) {
	if _, ok := cs.byID[id]; !ok {
		return false, false
	}
	cs.dropMembers(id)
	delete(cs.byID, id)
	cs.order = slices.DeleteFunc(cs.order, func(v int64) bool { return v == id })
	if cs.active == id {
		cs.active = 0
		return true, true
	}
	return true, false
}

// Touch records a new last message and moves the conversation to the front
// of its ordering bucket.
func (cs *Conversations) Touch(id int64, summary string, at time.Time) bool {
	c, ok := cs.byID[id]
	if !ok {
		return false
	}
	c.LastMessageSummary = summary
	if at.After(c.LastMessageAt) || c.LastMessageAt.IsZero() {
		c.LastMessageAt = at
	}
	cs.bump(c)
	cs.order = slices.DeleteFunc(cs.order, func(v int64) bool { return v == id })
	cs.order = slices.Insert(cs.order, 0, id)
	cs.reorder()
	return true
}

// IncrementUnread adds one unread message.
func (cs *Conversations) IncrementUnread(id int64) {
	if c, ok := cs.byID[id]; ok {
		c.UnreadCount++
		cs.bump(c)
	}
}

// SetActive selects a conversation and clears its unread count. Selecting
// the active conversation again closes it. Returns the new active id (0 for
// none).
func (cs *Conversations) SetActive(id int64) int64 {
	if id == cs.active {
		cs.active = 0
		return 0
	}
	c, ok := cs.byID[id]
	if !ok {
		return cs.active
	}
	cs.active = id
	c.UnreadCount = 0
	cs.bump(c)
	return id
}

// ActiveID returns the active conversation id, 0 when none.
func (cs *Conversations) ActiveID() int64 { return cs.active }

// Active returns a copy of the active conversation.
func (cs *Conversations) Active() (Conversation, bool) {
	if cs.active == 0 {
		return Conversation{}, false
	}
	return cs.Get(cs.active)
}

// SetPinned updates the pin flag, whether or not the conversation is cached.
func (cs *Conversations) SetPinned(id int64, pinned bool) {
	setFlag(cs.pinned, id, pinned)
	if c, ok := cs.byID[id]; ok {
		c.Pinned = pinned
		cs.bump(c)
		cs.reorder()
	}
}

// SetMuted updates the mute flag, whether or not the conversation is cached.
func (cs *Conversations) SetMuted(id int64, muted bool) {
	setFlag(cs.muted, id, muted)
	if c, ok := cs.byID[id]; ok {
		c.Muted = muted
		cs.bump(c)
	}
}

// Pinned returns the pinned ids in ascending order.
func (cs *Conversations) Pinned() []int64 { return slices.Sorted(maps.Keys(cs.pinned)) }

// Muted returns the muted ids in ascending order.
func (cs *Conversations) Muted() []int64 { return slices.Sorted(maps.Keys(cs.muted)) }

// IsMuted reports the durable mute flag.
func (cs *Conversations) IsMuted(id int64) bool { return cs.muted[id] }

// MarkSubscribed records that the conversation's topics are subscribed.
func (cs *Conversations) MarkSubscribed(id int64) {
	if c, ok := cs.byID[id]; ok && !c.Subscribed {
		c.Subscribed = true
		cs.bump(c)
	}
}

// SetPresence projects a user's presence onto every conversation that
// references the user and returns the affected conversation ids.
func (cs *Conversations) SetPresence(userID int64, online bool) []int64 {
	var affected []int64
	for id, c := range cs.byID {
		switch c.Kind {
		case Direct:
			if c.ContactID == userID && c.Online != online {
				c.Online = online
				cs.bump(c)
				affected = append(affected, id)
			}
		case Group:
			key := memberKey{id, userID}
			m, ok := cs.members[key]
			if ok && m.IsOnline != online {
				m.IsOnline = online
				cs.members[key] = m
				cs.bump(c)
				affected = append(affected, id)
			}
		}
	}
	slices.Sort(affected)
	return affected
}

// UpdateGroup replaces group metadata; empty values keep the current one.
func (cs *Conversations) UpdateGroup(id int64, name, avatar, description string) bool {
	c, ok := cs.byID[id]
	if !ok {
		return false
	}
	if name != "" {
		c.DisplayName = name
	}
	if avatar != "" {
		c.AvatarRef = avatar
	}
	if description != "" {
		c.Description = description
	}
	cs.bump(c)
	return true
}

// UpsertMember adds or replaces a member.
func (cs *Conversations) UpsertMember(id int64, m Member) bool {
	c, ok := cs.byID[id]
	if !ok {
		return false
	}
	key := memberKey{id, m.UserID}
	if _, exists := cs.members[key]; !exists {
		c.MemberIDs = append(c.MemberIDs, m.UserID)
	}
	cs.members[key] = m
	cs.bump(c)
	return true
}

// RemoveMember drops a member.
func (cs *Conversations) RemoveMember(id, userID int64) bool {
	c, ok := cs.byID[id]
	if !ok {
		return false
	}
	key := memberKey{id, userID}
	if _, exists := cs.members[key]; !exists {
		return false
	}
	delete(cs.members, key)
	c.MemberIDs = slices.DeleteFunc(c.MemberIDs, func(v int64) bool { return v == userID })
	cs.bump(c)
	return true
}

// SetRole changes a member's role.
func (cs *Conversations) SetRole(id, userID int64, role Role) bool {
	c, ok := cs.byID[id]
	if !ok {
		return false
	}
	key := memberKey{id, userID}
	m, exists := cs.members[key]
	if !exists {
		return false
	}
	m.Role = role
	cs.members[key] = m
	cs.bump(c)
	return true
}

// Reset drops every conversation and the active selection. The durable pin
// and mute flags are kept.
func (cs *Conversations) Reset() {
	cs.byID = make(map[int64]*Conversation)
	cs.members = make(map[memberKey]Member)
	cs.order = nil
	cs.active = 0
}

func (cs *Conversations) bump(c *Conversation) {
	cs.version++
	c.Version = cs.version
}

func (cs *Conversations) dropMembers(id int64) {
	if c, ok := cs.byID[id]; ok {
		for _, uid := range c.MemberIDs {
			delete(cs.members, memberKey{id, uid})
		}
	}
}

func (cs *Conversations) reorder() {
	slices.SortStableFunc(cs.order, func(a, b int64) int {
		ca, cb := cs.byID[a], cs.byID[b]
		if ca.Pinned != cb.Pinned {
			if ca.Pinned {
				return -1
			}
			return 1
		}
		return cb.LastMessageAt.Compare(ca.LastMessageAt)
	})
}

func snapshot(c *Conversation) Conversation {
	out := *c
	out.MemberIDs = slices.Clone(c.MemberIDs)
	return out
}

func setFlag(set map[int64]bool, id int64, on bool) {
	if on {
		set[id] = true
	} else {
		delete(set, id)
	}
}
