package subscription

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type fakeSubscriber struct {
	subs   []string // destinations in order
	unsubs []string
	fail   bool
}

func (f *fakeSubscriber) Subscribe(_ context.Context, _ string, destination string) error {
	if f.fail {
		return errors.New("write failed")
	}
	f.subs = append(f.subs, destination)
	return nil
}

func (f *fakeSubscriber) Unsubscribe(_ context.Context, id string) error {
	f.unsubs = append(f.unsubs, id)
	return nil
}

var topics = Topics{}

func TestSubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	r := New(true, nil)
	conn := &fakeSubscriber{}
	if err := r.Bind(ctx, conn); err != nil {
		t.Fatal(err)
	}

	if !r.Subscribe(ctx, topics.Chat(42), nil) {
		t.Fatal("first Subscribe() = false, want true")
	}
	if r.Subscribe(ctx, topics.Chat(42), nil) {
		t.Error("duplicate Subscribe() = true, want false")
	}
	if len(conn.subs) != 1 {
		t.Errorf("SUBSCRIBE sent %d times, want 1", len(conn.subs))
	}
}

func TestDeferredUntilBind(t *testing.T) {
	ctx := context.Background()
	r := New(true, nil)
	r.Fixed(ctx, topics.UserMessages(7), nil)
	r.Subscribe(ctx, topics.Chat(1), nil)
	r.Fixed(ctx, topics.Presence(), nil)

	conn := &fakeSubscriber{}
	if err := r.Bind(ctx, conn); err != nil {
		t.Fatal(err)
	}
	want := []string{"/topic/user.7.messages", "/topic/users", "/topic/chat/1"}
	if !slices.Equal(conn.subs, want) {
		t.Errorf("bound topics = %v, want %v", conn.subs, want)
	}
}

func TestReplayOnRebind(t *testing.T) {
	ctx := context.Background()
	r := New(true, nil)
	r.Fixed(ctx, topics.Presence(), nil)
	_ = r.Bind(ctx, &fakeSubscriber{})
	r.Subscribe(ctx, topics.Chat(5), nil)
	r.Subscribe(ctx, topics.Group(5), nil)

	r.Unbind()
	conn := &fakeSubscriber{}
	_ = r.Bind(ctx, conn)

	want := []string{"/topic/users", "/topic/chat/5", "/topic/group/5"}
	if !slices.Equal(conn.subs, want) {
		t.Errorf("replayed topics = %v, want %v", conn.subs, want)
	}
}

func TestNoReplayDropsLazyTopics(t *testing.T) {
	ctx := context.Background()
	r := New(false, nil)
	r.Fixed(ctx, topics.Presence(), nil)
	_ = r.Bind(ctx, &fakeSubscriber{})
	r.Subscribe(ctx, topics.Chat(5), nil)

	r.Unbind()
	if r.Has(topics.Chat(5)) {
		t.Error("lazy topic kept after Unbind without replay")
	}

	conn := &fakeSubscriber{}
	_ = r.Bind(ctx, conn)
	if !slices.Equal(conn.subs, []string{"/topic/users"}) {
		t.Errorf("rebound topics = %v, want only presence", conn.subs)
	}

	// Revisiting subscribes again.
	if !r.Subscribe(ctx, topics.Chat(5), nil) {
		t.Error("Subscribe() after drop = false, want true")
	}
}

func TestRoute(t *testing.T) {
	ctx := context.Background()
	r := New(true, nil)
	var gotTopic string
	var gotBody []byte
	r.Subscribe(ctx, topics.Chat(9), func(topic string, body []byte) {
		gotTopic, gotBody = topic, body
	})

	if !r.Route("sub-0", []byte("x")) {
		t.Fatal("Route(sub-0) = false")
	}
	if gotTopic != "/topic/chat/9" || string(gotBody) != "x" {
		t.Errorf("handler got %q %q", gotTopic, gotBody)
	}
	if r.Route("sub-99", nil) {
		t.Error("Route(unknown) = true")
	}
}

func TestUnsubscribeAndReset(t *testing.T) {
	ctx := context.Background()
	r := New(true, nil)
	conn := &fakeSubscriber{}
	_ = r.Bind(ctx, conn)
	r.Subscribe(ctx, topics.Chat(3), nil)

	if !r.Unsubscribe(ctx, topics.Chat(3)) {
		t.Error("Unsubscribe() = false")
	}
	if !slices.Equal(conn.unsubs, []string{"sub-0"}) {
		t.Errorf("unsubs = %v", conn.unsubs)
	}
	if r.Unsubscribe(ctx, topics.Chat(3)) {
		t.Error("second Unsubscribe() = true")
	}

	r.Fixed(ctx, topics.Presence(), nil)
	r.Reset()
	if len(r.Topics()) != 0 {
		t.Errorf("Topics() after Reset = %v", r.Topics())
	}
}

func TestBindReportsFailures(t *testing.T) {
	ctx := context.Background()
	r := New(true, nil)
	r.Fixed(ctx, topics.Presence(), nil)
	if err := r.Bind(ctx, &fakeSubscriber{fail: true}); err == nil {
		t.Error("Bind() error = nil, want failure")
	}
}

func TestTopicNames(t *testing.T) {
	tp := Topics{ContactsPattern: "/topic/user.{id}.contacts"}
	tests := []struct{ got, want string }{
		{tp.UserMessages(7), "/topic/user.7.messages"},
		{tp.Contacts(7), "/topic/user.7.contacts"},
		{tp.Chats(7), "/user/queue/chats"},
		{Topics{}.Contacts(7), "/user/queue/contacts"},
		{tp.Chat(42), "/topic/chat/42"},
		{tp.Group(3), "/topic/group/3"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestChatIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		id    int64
		ok    bool
	}{
		{"/topic/chat/42", 42, true},
		{"/topic/group/3", 3, true},
		{"/topic/users", 0, false},
		{"/topic/chat/x", 0, false},
	}
	for _, tt := range tests {
		id, ok := ChatIDFromTopic(tt.topic)
		if id != tt.id || ok != tt.ok {
			t.Errorf("ChatIDFromTopic(%q) = %d, %v; want %d, %v", tt.topic, id, ok, tt.id, tt.ok)
		}
	}
}
