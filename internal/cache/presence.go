package cache

import (
	"maps"
	"slices"
	"time"
)

// PresenceEntry is one user's known presence.
type PresenceEntry struct {
	UserID     int64
	IsOnline   bool
	LastSeenAt *time.Time
}

// Presence is the global presence set.
type Presence struct {
	entries map[int64]PresenceEntry
}

// NewPresence creates an empty presence set.
func NewPresence() *Presence {
	return &Presence{entries: make(map[int64]PresenceEntry)}
}

// Update records a presence change observed at. Going offline stamps the
// last-seen time. Returns whether the online flag changed.
func (p *Presence) Update(userID int64, online bool, at time.Time) bool {
	prev, known := p.entries[userID]
	e := PresenceEntry{UserID: userID, IsOnline: online, LastSeenAt: prev.LastSeenAt}
	if !online {
		seen := at
		e.LastSeenAt = &seen
	}
	p.entries[userID] = e
	return !known || prev.IsOnline != online
}

// Get returns the entry for userID.
func (p *Presence) Get(userID int64) (PresenceEntry, bool) {
	e, ok := p.entries[userID]
	return e, ok
}

// IsOnline reports whether userID is known to be online.
func (p *Presence) IsOnline(userID int64) bool {
	return p.entries[userID].IsOnline
}

// Online returns the online user ids in ascending order.
func (p *Presence) Online() []int64 {
	var ids []int64
	for _, id := range slices.Sorted(maps.Keys(p.entries)) {
		if p.entries[id].IsOnline {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of known users.
func (p *Presence) Len() int { return len(p.entries) }

// Reset forgets everyone.
func (p *Presence) Reset() {
	p.entries = make(map[int64]PresenceEntry)
}
