package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Well-known preference keys.
const (
	KeyUser   = "user"
	KeyToken  = "token"
	KeyMuted  = "muted_chats"
	KeyPinned = "pinned_chats"
)

// Profile is the signed-in user as persisted between runs.
type Profile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl"`
}

// Get loads a JSON value. ok is false when the key is absent.
func (db *DB) Get(key string, v any) (ok bool, err error) {
	var raw string
	err = db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Put stores v as JSON under key.
func (db *DB) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = db.Exec(`
		INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes key; absent keys are not an error.
func (db *DB) Delete(keys ...string) error {
	for _, key := range keys {
		if _, err := db.Exec(`DELETE FROM prefs WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

// Profile returns the stored profile, or nil when signed out.
func (db *DB) Profile() (*Profile, error) {
	var p Profile
	ok, err := db.Get(KeyUser, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// SetProfile stores the signed-in profile.
func (db *DB) SetProfile(p Profile) error { return db.Put(KeyUser, p) }

// Token returns the stored auth token, empty when signed out.
func (db *DB) Token() (string, error) {
	var tok string
	_, err := db.Get(KeyToken, &tok)
	return tok, err
}

// SetToken stores the auth token.
func (db *DB) SetToken(tok string) error { return db.Put(KeyToken, tok) }

// ClearSession forgets the profile and token. Pin and mute sets stay.
func (db *DB) ClearSession() error { return db.Delete(KeyUser, KeyToken) }

// Pinned returns the pinned conversation ids in ascending order.
func (db *DB) Pinned() ([]int64, error) { return db.idSet(KeyPinned) }

// SetPinned replaces the pinned set.
func (db *DB) SetPinned(ids []int64) error { return db.putIDSet(KeyPinned, ids) }

// Muted returns the muted conversation ids in ascending order.
func (db *DB) Muted() ([]int64, error) { return db.idSet(KeyMuted) }

// SetMuted replaces the muted set.
func (db *DB) SetMuted(ids []int64) error { return db.putIDSet(KeyMuted, ids) }

func (db *DB) idSet(key string) ([]int64, error) {
	var ids []int64
	if _, err := db.Get(key, &ids); err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (db *DB) putIDSet(key string, ids []int64) error {
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []int64{}
	}
	return db.Put(key, out)
}
