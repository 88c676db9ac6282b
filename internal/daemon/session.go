package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/AngkinV/Nexus-Chat/internal/store"
	intsync "github.com/AngkinV/Nexus-Chat/internal/sync"
	"go.uber.org/zap"
)

// ErrSignedIn is returned when signing in while a profile is already active.
var ErrSignedIn = errors.New("already signed in")

// Engine is the part of the sync engine a Session drives.
type Engine interface {
	Start(ctx context.Context, self store.Profile) error
	Self() store.Profile
	LoadChats(ctx context.Context) error
	LoadContacts(ctx context.Context) error
	Logout(ctx context.Context) error
}

// Credentials is the durable identity a Session signs in with.
type Credentials interface {
	Profile() (*store.Profile, error)
	SetProfile(p store.Profile) error
	SetToken(tok string) error
}

// Session connects the engine to the identity established by the external
// authentication flow and performs the initial loads.
type Session struct {
	engine Engine
	creds  Credentials
	logger *zap.Logger
}

// NewSession creates a session over the engine and the profile store.
func NewSession(engine *intsync.Engine, db *store.DB, logger *zap.Logger) *Session {
	return newSession(engine, db, logger)
}

func newSession(engine Engine, creds Credentials, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{engine: engine, creds: creds, logger: logger}
}

// SignIn stores the identity and token, starts the engine and loads the
// conversation and relationship lists. A failed first connect is logged and
// left to the reconnect policy.
func (s *Session) SignIn(ctx context.Context, p store.Profile, token string) error {
	if p.ID <= 0 {
		return fmt.Errorf("sign in: invalid user id %d", p.ID)
	}
	if cur := s.engine.Self(); cur.ID != 0 {
		return fmt.Errorf("%w as %d", ErrSignedIn, cur.ID)
	}
	if err := s.creds.SetProfile(p); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	if token != "" {
		if err := s.creds.SetToken(token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	return s.start(ctx, p)
}

// Resume signs in with the stored profile. It reports false when none is stored.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	p, err := s.creds.Profile()
	if err != nil {
		return false, fmt.Errorf("read profile: %w", err)
	}
	if p == nil || p.ID <= 0 {
		return false, nil
	}
	return true, s.start(ctx, *p)
}

// SignOut logs the engine out and clears the stored identity.
func (s *Session) SignOut(ctx context.Context) error {
	return s.engine.Logout(ctx)
}

// Reload refetches the conversation and relationship lists.
func (s *Session) Reload(ctx context.Context) error {
	return errors.Join(s.engine.LoadChats(ctx), s.engine.LoadContacts(ctx))
}

func (s *Session) start(ctx context.Context, p store.Profile) error {
	s.logger.Info("signing in", zap.Int64("user_id", p.ID), zap.String("username", p.Username))
	if err := s.engine.Start(ctx, p); err != nil {
		if s.engine.Self().ID == 0 {
			return fmt.Errorf("start engine: %w", err)
		}
		s.logger.Warn("initial connect failed, retrying in background", zap.Error(err))
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn("initial load failed", zap.Error(err))
	}
	return nil
}
