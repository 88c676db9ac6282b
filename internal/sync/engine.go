// Package sync is the event dispatcher and intent surface of the daemon. It
// owns the caches, applies inbound events to them in arrival order and turns
// local intents into optimistic cache writes plus outbound publishes.
package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/api"
	"github.com/AngkinV/Nexus-Chat/internal/bus"
	"github.com/AngkinV/Nexus-Chat/internal/cache"
	"github.com/AngkinV/Nexus-Chat/internal/event"
	"github.com/AngkinV/Nexus-Chat/internal/store"
	"github.com/AngkinV/Nexus-Chat/internal/subscription"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned by intents issued before Start or after Logout.
	ErrNotStarted = errors.New("engine not started")
	// ErrUnknownConversation is returned for intents naming an uncached
	// conversation.
	ErrUnknownConversation = errors.New("unknown conversation")
	// ErrUnknownMessage is returned when a retry names no failed message.
	ErrUnknownMessage = errors.New("no failed message with that id")
	// ErrStale is returned when a REST result arrives after a logout and is
	// discarded.
	ErrStale = errors.New("result discarded after session reset")
)

// Connection is the part of the connection manager the engine drives.
type Connection interface {
	Connect(ctx context.Context, userID int64, onReady func()) error
	Disconnect(ctx context.Context)
	Publish(ctx context.Context, destination string, payload any)
}

// API is the REST surface the intents call.
type API interface {
	UserChats(ctx context.Context, userID int64) ([]api.Chat, error)
	CreateDirectChat(ctx context.Context, userID, contactID int64) (api.Chat, error)
	CreateGroupChat(ctx context.Context, userID int64, name string, memberIDs []int64) (api.Chat, error)
	ChatMessages(ctx context.Context, chatID, userID int64, page, size int) ([]event.ChatMessage, error)
	MarkChatRead(ctx context.Context, chatID, userID int64) error
	Contacts(ctx context.Context, userID int64) ([]event.User, error)
	AddContact(ctx context.Context, userID, contactID int64, message string) (api.AddContactResult, error)
	RemoveContact(ctx context.Context, userID, contactID int64) error
	PendingRequests(ctx context.Context, userID int64) ([]event.ContactRequest, error)
	SentRequests(ctx context.Context, userID int64) ([]event.ContactRequest, error)
	AcceptRequest(ctx context.Context, requestID, userID int64) (event.User, error)
	RejectRequest(ctx context.Context, requestID, userID int64) error
}

// Prefs is the durable state the engine reads at start and writes on every
// pin, mute and logout.
type Prefs interface {
	Pinned() ([]int64, error)
	SetPinned(ids []int64) error
	Muted() ([]int64, error)
	SetMuted(ids []int64) error
	ClearSession() error
}

// Notification is raised for a message arriving in a conversation that is
// neither active nor muted.
type Notification struct {
	ChatID int64
	Title  string
	Body   string
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// Config tunes the engine.
type Config struct {
	TypingTTL       time.Duration
	HistoryPageSize int
	InboxSize       int
}

func (c *Config) defaults() {
	if c.TypingTTL == 0 {
		c.TypingTTL = 6 * time.Second
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = 50
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the temporary message id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

type inbound struct {
	topic string
	body  []byte
	epoch uint64
}

// Engine serializes inbound events and local intents over the caches. A
// single goroutine (Run) drains inbound envelopes in arrival order; intents
// take the same mutex, and REST calls run outside it.
type Engine struct {
	cfg      Config
	conn     Connection
	registry *subscription.Registry
	topics   subscription.Topics
	api      API
	prefs    Prefs
	notifier Notifier
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	inbox    chan inbound
	stop     chan struct{}
	stopOnce sync.Once
	epoch    atomic.Uint64

	mu       sync.Mutex
	self     store.Profile
	convs    *cache.Conversations
	msgs     *cache.Messages
	presence *cache.Presence
	rels     *cache.Relationships
	pages    map[int64]int
}

// NewEngine creates an engine. notifier may be nil.
func NewEngine(cfg Config, conn Connection, registry *subscription.Registry, topics subscription.Topics, client API, prefs Prefs, notifier Notifier, b *bus.Bus, logger *zap.Logger, opts ...Option) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		conn:     conn,
		registry: registry,
		topics:   topics,
		api:      client,
		prefs:    prefs,
		notifier: notifier,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return cache.TempPrefix + uuid.NewString() },
		inbox:    make(chan inbound, cfg.InboxSize),
		stop:     make(chan struct{}),
		convs:    cache.NewConversations(),
		msgs:     cache.NewMessages(cfg.TypingTTL),
		presence: cache.NewPresence(),
		rels:     cache.NewRelationships(),
		pages:    make(map[int64]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start signs the engine in as self: it loads the pin and mute sets,
// registers the fixed topics and connects. A failed connect is retried by
// the connection manager; its error is returned for logging.
func (e *Engine) Start(ctx context.Context, self store.Profile) error {
	pinned, err := e.prefs.Pinned()
	if err != nil {
		return err
	}
	muted, err := e.prefs.Muted()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.self = self
	e.convs.LoadFlags(pinned, muted)
	e.mu.Unlock()

	for _, topic := range []string{
		e.topics.UserMessages(self.ID),
		e.topics.Presence(),
		e.topics.Contacts(self.ID),
		e.topics.Chats(self.ID),
	} {
		e.registry.Fixed(ctx, topic, e.enqueue)
	}

	e.logger.Info("engine started", zap.Int64("user_id", self.ID))
	return e.conn.Connect(ctx, self.ID, func() {
		e.logger.Info("channel ready", zap.Strings("topics", e.registry.Topics()))
	})
}

// Run drains the inbound queue until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case in := <-e.inbox:
			e.handle(ctx, in)
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		}
	}
}

// Stop ends Run and unblocks pending enqueues.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) enqueue(topic string, body []byte) {
	select {
	case e.inbox <- inbound{topic: topic, body: body, epoch: e.epoch.Load()}:
	case <-e.stop:
	}
}

// Self returns the signed-in profile, zero when signed out.
func (e *Engine) Self() store.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Conversations returns the conversation list in display order.
func (e *Engine) Conversations() []cache.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.convs.List()
	for i := range list {
		list[i] = e.projectLocked(list[i])
	}
	return list
}

// Conversation returns one conversation.
func (e *Engine) Conversation(id int64) (cache.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.convs.Get(id)
	return e.projectLocked(c), ok
}

// Active returns the active conversation.
func (e *Engine) Active() (cache.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.convs.Active()
	return e.projectLocked(c), ok
}

// projectLocked reports Subscribed from the registry. Without replay a lost
// channel drops lazy topics, and the cached flag would outlive them.
func (e *Engine) projectLocked(c cache.Conversation) cache.Conversation {
	if c.ID != 0 {
		c.Subscribed = e.registry.Has(e.topics.Chat(c.ID))
	}
	return c
}

// Members returns a conversation's members.
func (e *Engine) Members(chatID int64) []cache.Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convs.Members(chatID)
}

// Messages returns a conversation's message log.
func (e *Engine) Messages(chatID int64) []cache.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.msgs.Log(chatID)
}

// TypingUsers returns who is typing in a conversation.
func (e *Engine) TypingUsers(chatID int64) []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.msgs.TypingUsers(chatID, e.now())
}

// Presence returns a user's known presence.
func (e *Engine) Presence(userID int64) (cache.PresenceEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.Get(userID)
}

// OnlineUsers returns every user known to be online.
func (e *Engine) OnlineUsers() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.Online()
}

// Contacts returns the contact list.
func (e *Engine) Contacts() []cache.Contact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rels.Contacts()
}

// InboundRequests returns requests awaiting the local user's answer.
func (e *Engine) InboundRequests() []cache.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rels.Inbound()
}

// OutboundRequests returns the local user's unanswered requests.
func (e *Engine) OutboundRequests() []cache.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rels.Outbound()
}

// PendingCount is the number of inbound requests.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rels.PendingCount()
}
