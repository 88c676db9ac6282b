package cache

import (
	"slices"
	"time"
)

// Contact is an accepted relationship.
type Contact struct {
	UserID    int64
	Username  string
	Nickname  string
	AvatarRef string
	IsOnline  bool
	LastSeen  *time.Time
}

// RequestStatus is the lifecycle of a relationship request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

// Request is a relationship request, inbound or outbound.
type Request struct {
	ID           int64
	FromUserID   int64
	ToUserID     int64
	FromNickname string
	FromAvatar   string
	Message      string
	Status       RequestStatus
	CreatedAt    time.Time
}

// AddResultKind tells how the server handled an add-contact intent.
type AddResultKind string

const (
	// AddDirect means the peer allows direct adds; Contact is set.
	AddDirect AddResultKind = "direct"
	// AddRequest means a request is now pending; Request is set.
	AddRequest AddResultKind = "request"
)

// AddResult is the tagged result of an add-contact intent.
type AddResult struct {
	Kind    AddResultKind
	Contact Contact
	Request Request
}

// Relationships holds contacts plus the inbound and outbound pending
// request lists. Accepted or rejected requests never stay in either list.
type Relationships struct {
	contacts []Contact
	inbound  []Request
	outbound []Request
}

// NewRelationships creates an empty relationship cache.
func NewRelationships() *Relationships {
	return &Relationships{}
}

// SetContacts replaces the contact list, dropping duplicate ids.
func (r *Relationships) SetContacts(list []Contact) {
	r.contacts = nil
	for _, c := range list {
		r.AddContact(c)
	}
}

// AddContact appends a contact unless one with the same id exists.
func (r *Relationships) AddContact(c Contact) bool {
	if r.contactIndex(c.UserID) >= 0 {
		return false
	}
	r.contacts = append(r.contacts, c)
	return true
}

// RemoveContact drops a contact by user id.
func (r *Relationships) RemoveContact(userID int64) bool {
	i := r.contactIndex(userID)
	if i < 0 {
		return false
	}
	r.contacts = slices.Delete(r.contacts, i, i+1)
	return true
}

// Contact returns a contact by user id.
func (r *Relationships) Contact(userID int64) (Contact, bool) {
	if i := r.contactIndex(userID); i >= 0 {
		return r.contacts[i], true
	}
	return Contact{}, false
}

// Contacts returns a copy of the contact list.
func (r *Relationships) Contacts() []Contact { return slices.Clone(r.contacts) }

// SetContactPresence updates a contact's online flag. Going offline stamps
// the last-seen time.
func (r *Relationships) SetContactPresence(userID int64, online bool, at time.Time) bool {
	i := r.contactIndex(userID)
	if i < 0 {
		return false
	}
	r.contacts[i].IsOnline = online
	if !online {
		seen := at
		r.contacts[i].LastSeen = &seen
	}
	return true
}

// SetInbound replaces the inbound pending list.
func (r *Relationships) SetInbound(list []Request) {
	r.inbound = nil
	for _, req := range list {
		r.AddInbound(req)
	}
}

// AddInbound appends an inbound pending request unless its id is known.
func (r *Relationships) AddInbound(req Request) bool {
	if requestIndex(r.inbound, req.ID) >= 0 {
		return false
	}
	req.Status = RequestPending
	r.inbound = append(r.inbound, req)
	return true
}

// AddOutbound appends an outbound pending request unless its id is known.
func (r *Relationships) AddOutbound(req Request) bool {
	if requestIndex(r.outbound, req.ID) >= 0 {
		return false
	}
	req.Status = RequestPending
	r.outbound = append(r.outbound, req)
	return true
}

// SetOutbound replaces the outbound pending list.
func (r *Relationships) SetOutbound(list []Request) {
	r.outbound = nil
	for _, req := range list {
		r.AddOutbound(req)
	}
}

// Inbound returns a copy of the inbound pending list.
func (r *Relationships) Inbound() []Request { return slices.Clone(r.inbound) }

// Outbound returns a copy of the outbound pending list.
func (r *Relationships) Outbound() []Request { return slices.Clone(r.outbound) }

// PendingCount is the number of inbound requests awaiting an answer.
func (r *Relationships) PendingCount() int { return len(r.inbound) }

// RemoveInbound drops an inbound request by id.
func (r *Relationships) RemoveInbound(requestID int64) (Request, bool) {
	return removeRequest(&r.inbound, func(req Request) bool { return req.ID == requestID })
}

// RemoveOutbound drops an outbound request by id, or, when requestID is 0
// or unknown, the outbound request addressed to peerID.
func (r *Relationships) RemoveOutbound(requestID, peerID int64) (Request, bool) {
	if requestID != 0 {
		if req, ok := removeRequest(&r.outbound, func(req Request) bool { return req.ID == requestID }); ok {
			return req, true
		}
	}
	if peerID == 0 {
		return Request{}, false
	}
	return removeRequest(&r.outbound, func(req Request) bool { return req.ToUserID == peerID })
}

// ApplyAddResult records the outcome of an add-contact intent: a direct add
// lands in contacts, a request in outbound-pending.
func (r *Relationships) ApplyAddResult(res AddResult) bool {
	switch res.Kind {
	case AddDirect:
		return r.AddContact(res.Contact)
	case AddRequest:
		return r.AddOutbound(res.Request)
	}
	return false
}

// Reset clears contacts and both request lists.
func (r *Relationships) Reset() {
	r.contacts = nil
	r.inbound = nil
	r.outbound = nil
}

func (r *Relationships) contactIndex(userID int64) int {
	return slices.IndexFunc(r.contacts, func(c Contact) bool { return c.UserID == userID })
}

func requestIndex(list []Request, id int64) int {
	return slices.IndexFunc(list, func(req Request) bool { return req.ID == id })
}

func removeRequest(list *[]Request, match func(Request) bool) (Request, bool) {
	i := slices.IndexFunc(*list, match)
	if i < 0 {
		return Request{}, false
	}
	req := (*list)[i]
	*list = slices.Delete(*list, i, i+1)
	return req, true
}
