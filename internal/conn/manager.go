package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/bus"
	"github.com/AngkinV/Nexus-Chat/internal/status"
	"github.com/AngkinV/Nexus-Chat/internal/subscription"
	"github.com/AngkinV/Nexus-Chat/internal/transport"
	"go.uber.org/zap"
)

// Reconnect defaults. The delay grows linearly (base × attempt) and stops
// for good after MaxAttempts; this is not exponential backoff.
const (
	DefaultBaseDelay   = 3 * time.Second
	DefaultMaxAttempts = 5

	reconnectDialTimeout = 15 * time.Second
)

// ErrSuperseded is returned by Connect when Disconnect ran while dialing.
var ErrSuperseded = errors.New("connect superseded by disconnect")

// Channel is one established real-time session.
type Channel interface {
	subscription.Subscriber
	Send(ctx context.Context, destination string, body []byte) error
	ReadFrame(ctx context.Context) (*transport.Frame, error)
	Close() error
}

// Dialer opens a Channel for the given identity.
type Dialer interface {
	Dial(ctx context.Context, identity string) (Channel, error)
}

// WebSocketDialer dials the STOMP-over-WebSocket endpoint at URL.
type WebSocketDialer struct {
	URL string
}

// Dial implements Dialer.
func (d WebSocketDialer) Dial(ctx context.Context, identity string) (Channel, error) {
	c, err := transport.Dial(ctx, d.URL, identity)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Timer is a cancellable handle for a scheduled reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Config holds the reconnect policy.
type Config struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

func (c *Config) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithAfterFunc replaces the timer source used for reconnects.
func WithAfterFunc(f AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = f }
}

type userStatus struct {
	UserID   int64 `json:"userId"`
	IsOnline bool  `json:"isOnline"`
}

// Manager owns the single real-time channel: it connects, binds the
// subscription registry, reads inbound frames and reconnects after a loss.
type Manager struct {
	cfg       Config
	dialer    Dialer
	machine   *status.Machine
	registry  *subscription.Registry
	bus       *bus.Bus
	logger    *zap.Logger
	afterFunc AfterFunc

	mu         sync.Mutex
	ch         Channel
	identity   int64
	attempts   int
	epoch      uint64
	timer      Timer
	cancelRead context.CancelFunc
}

// New creates a connection manager.
func New(cfg Config, dialer Dialer, machine *status.Machine, registry *subscription.Registry, b *bus.Bus, logger *zap.Logger, opts ...Option) *Manager {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		dialer:   dialer,
		machine:  machine,
		registry: registry,
		bus:      b,
		logger:   logger,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current channel state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Attempts returns the number of reconnects scheduled since the last
// successful handshake.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ReconnectPending reports whether a reconnect timer is armed.
func (m *Manager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Connect establishes the channel for userID. When already connected it only
// invokes onReady. On success the retry counter is reset, the registry is
// bound, an online status is published and onReady runs last. On failure a
// reconnect is scheduled unless the retry ceiling was reached.
func (m *Manager) Connect(ctx context.Context, userID int64, onReady func()) error {
	m.mu.Lock()
	switch m.machine.Current() {
	case status.Connected:
		m.mu.Unlock()
		if onReady != nil {
			onReady()
		}
		return nil
	case status.Connecting:
		m.mu.Unlock()
		return nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.identity = userID
	epoch := m.epoch
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.logger.Info("connecting", zap.Int64("user_id", userID))
	ch, err := m.dialer.Dial(ctx, strconv.FormatInt(userID, 10))

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		m.machine.Settle()
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.logger.Warn("connect failed", zap.Error(err))
		return fmt.Errorf("connect: %w", err)
	}
	m.ch = ch
	m.attempts = 0
	_ = m.machine.Transition(status.Connected)
	readCtx, cancel := context.WithCancel(context.Background())
	m.cancelRead = cancel
	m.mu.Unlock()

	m.logger.Info("connected", zap.Int64("user_id", userID))
	if err := m.registry.Bind(ctx, ch); err != nil {
		m.logger.Warn("some subscriptions failed", zap.Error(err))
	}
	m.Publish(ctx, subscription.DestUserStatus, userStatus{UserID: userID, IsOnline: true})

	go m.readLoop(readCtx, ch)

	if onReady != nil {
		onReady()
	}
	return nil
}

// Reconnect is the explicit external reconnect: it resets the retry
// counter and connects with the last identity.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	m.attempts = 0
	id := m.identity
	m.mu.Unlock()
	if id == 0 {
		return errors.New("reconnect: no identity")
	}
	return m.Connect(ctx, id, nil)
}

// Disconnect publishes an offline status, closes the channel and cancels
// any pending reconnect. Timers and dials already in flight are discarded.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	ch := m.ch
	m.ch = nil
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	id := m.identity
	m.attempts = 0
	m.mu.Unlock()

	if ch != nil {
		if body, err := json.Marshal(userStatus{UserID: id, IsOnline: false}); err == nil {
			if err := ch.Send(ctx, subscription.DestUserStatus, body); err != nil {
				m.logger.Debug("offline status not sent", zap.Error(err))
			}
		}
		_ = ch.Close()
	}
	m.registry.Unbind()
	m.machine.Settle()
	m.logger.Info("disconnected")
}

// Publish sends payload as JSON to destination. It never fails: when the
// channel is not connected the publish is logged and dropped, and callers
// wait for a confirmation event instead of assuming delivery.
func (m *Manager) Publish(ctx context.Context, destination string, payload any) {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()

	if ch == nil || m.machine.Current() != status.Connected {
		m.logger.Warn("publish dropped, channel not connected", zap.String("destination", destination))
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("publish encode failed", zap.String("destination", destination), zap.Error(err))
		return
	}
	if err := ch.Send(ctx, destination, body); err != nil {
		m.logger.Warn("publish failed", zap.String("destination", destination), zap.Error(err))
	}
}

func (m *Manager) readLoop(ctx context.Context, ch Channel) {
	for {
		f, err := ch.ReadFrame(ctx)
		if errors.Is(err, transport.ErrMalformedFrame) {
			m.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if err != nil {
			m.handleLoss(ch, err)
			return
		}
		if f.Command != transport.CmdMessage {
			continue
		}
		if !m.registry.Route(f.Get("subscription"), f.Body) {
			m.logger.Debug("frame for unknown subscription",
				zap.String("subscription", f.Get("subscription")),
				zap.String("destination", f.Get("destination")))
		}
	}
}

func (m *Manager) handleLoss(ch Channel, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch != ch {
		return
	}
	m.ch = nil
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	_ = ch.Close()
	m.registry.Unbind()
	m.machine.Settle()
	m.logger.Warn("channel lost", zap.Error(cause))
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.attempts >= m.cfg.MaxAttempts {
		m.logger.Error("max reconnect attempts reached", zap.Int("attempts", m.attempts))
		m.bus.Publish(bus.NewEvent(bus.ConnGaveUp, m.attempts))
		return
	}
	m.attempts++
	delay := m.cfg.BaseDelay * time.Duration(m.attempts)
	epoch := m.epoch
	m.logger.Info("reconnect scheduled", zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
	m.timer = m.afterFunc(delay, func() { m.reconnect(epoch) })
}

func (m *Manager) reconnect(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	id := m.identity
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reconnectDialTimeout)
	defer cancel()
	if err := m.Connect(ctx, id, nil); err != nil && !errors.Is(err, ErrSuperseded) {
		m.logger.Warn("reconnect attempt failed", zap.Error(err))
	}
}
