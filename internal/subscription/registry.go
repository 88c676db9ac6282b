package subscription

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Handler receives the raw body of every MESSAGE delivered on a topic.
type Handler func(topic string, body []byte)

// Subscriber is the part of the channel the registry drives.
type Subscriber interface {
	Subscribe(ctx context.Context, id, destination string) error
	Unsubscribe(ctx context.Context, id string) error
}

type entry struct {
	id      string
	topic   string
	seq     int
	fixed   bool
	handler Handler
}

// Registry tracks which topics are subscribed and guarantees at most one
// subscription per topic. Topics registered while no channel is bound are
// sent on the next Bind.
type Registry struct {
	mu      sync.Mutex
	replay  bool
	byTopic map[string]*entry
	byID    map[string]*entry
	seq     int
	conn    Subscriber
	logger  *zap.Logger
}

// New creates a registry. With replay set, lazily subscribed topics survive
// a disconnect and are re-sent on the next Bind; otherwise only fixed
// topics do.
func New(replay bool, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		replay:  replay,
		byTopic: make(map[string]*entry),
		byID:    make(map[string]*entry),
		logger:  logger,
	}
}

// Fixed registers a topic that belongs to the initial subscription set and
// is re-sent on every Bind regardless of the replay setting.
func (r *Registry) Fixed(ctx context.Context, topic string, h Handler) bool {
	return r.add(ctx, topic, h, true)
}

// Subscribe registers a lazily discovered topic. A topic already in the set
// is a no-op and returns false.
func (r *Registry) Subscribe(ctx context.Context, topic string, h Handler) bool {
	return r.add(ctx, topic, h, false)
}

func (r *Registry) add(ctx context.Context, topic string, h Handler, fixed bool) bool {
	r.mu.Lock()
	if _, ok := r.byTopic[topic]; ok {
		r.mu.Unlock()
		return false
	}
	e := &entry{
		id:      fmt.Sprintf("sub-%d", r.seq),
		topic:   topic,
		seq:     r.seq,
		fixed:   fixed,
		handler: h,
	}
	r.seq++
	r.byTopic[topic] = e
	r.byID[e.id] = e
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		r.logger.Debug("subscription deferred until connected", zap.String("topic", topic))
		return true
	}
	if err := conn.Subscribe(ctx, e.id, topic); err != nil {
		r.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
		return true
	}
	r.logger.Debug("subscribed", zap.String("topic", topic), zap.String("id", e.id))
	return true
}

// Unsubscribe removes a topic from the set. Returns false if it was unknown.
func (r *Registry) Unsubscribe(ctx context.Context, topic string) bool {
	r.mu.Lock()
	e, ok := r.byTopic[topic]
	if ok {
		delete(r.byTopic, topic)
		delete(r.byID, e.id)
	}
	conn := r.conn
	r.mu.Unlock()

	if !ok {
		return false
	}
	if conn != nil {
		if err := conn.Unsubscribe(ctx, e.id); err != nil {
			r.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	return true
}

// Has reports whether topic is in the subscribed set.
func (r *Registry) Has(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byTopic[topic]
	return ok
}

// Topics returns the subscribed topics, fixed ones first, each group in
// registration order.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.sortedLocked()
	topics := make([]string, len(entries))
	for i, e := range entries {
		topics[i] = e.topic
	}
	return topics
}

// Bind attaches a freshly connected channel and sends SUBSCRIBE for every
// topic in the set.
func (r *Registry) Bind(ctx context.Context, conn Subscriber) error {
	r.mu.Lock()
	r.conn = conn
	entries := r.sortedLocked()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := conn.Subscribe(ctx, e.id, e.topic); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", e.topic, err))
		}
	}
	r.logger.Info("subscriptions bound", zap.Int("topics", len(entries)), zap.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Unbind detaches the channel after it closed. Without replay, lazily
// subscribed topics are forgotten so the next sighting subscribes again.
func (r *Registry) Unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = nil
	if r.replay {
		return
	}
	for topic, e := range r.byTopic {
		if !e.fixed {
			delete(r.byTopic, topic)
			delete(r.byID, e.id)
		}
	}
}

// Route delivers a MESSAGE body to the handler registered under the
// subscription id. Returns false for unknown ids.
func (r *Registry) Route(subscriptionID string, body []byte) bool {
	r.mu.Lock()
	e, ok := r.byID[subscriptionID]
	r.mu.Unlock()
	if !ok || e.handler == nil {
		return false
	}
	e.handler(e.topic, body)
	return true
}

// Reset forgets every topic and the bound channel.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTopic = make(map[string]*entry)
	r.byID = make(map[string]*entry)
	r.conn = nil
}

func (r *Registry) sortedLocked() []*entry {
	entries := make([]*entry, 0, len(r.byTopic))
	for _, e := range r.byTopic {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		if a.fixed != b.fixed {
			if a.fixed {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return entries
}
