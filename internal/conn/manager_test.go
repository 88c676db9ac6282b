package conn

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/AngkinV/Nexus-Chat/internal/bus"
	"github.com/AngkinV/Nexus-Chat/internal/status"
	"github.com/AngkinV/Nexus-Chat/internal/subscription"
	"github.com/AngkinV/Nexus-Chat/internal/transport"
)

type sent struct {
	destination string
	body        string
}

type fakeChannel struct {
	mu     sync.Mutex
	subs   []string
	sent   []sent
	frames chan *transport.Frame
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		frames: make(chan *transport.Frame, 8),
		errs:   make(chan error, 8),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Subscribe(_ context.Context, _ string, destination string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, destination)
	return nil
}

func (f *fakeChannel) Unsubscribe(context.Context, string) error { return nil }

func (f *fakeChannel) Send(_ context.Context, destination string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{destination, string(body)})
	return nil
}

func (f *fakeChannel) ReadFrame(ctx context.Context) (*transport.Frame, error) {
	select {
	case fr := <-f.frames:
		return fr, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, errors.New("connection reset")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// drop simulates the transport closing underneath the manager.
func (f *fakeChannel) drop() { _ = f.Close() }

func (f *fakeChannel) sentTo(destination string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.destination == destination {
			out = append(out, s.body)
		}
	}
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	channels []*fakeChannel // handed out in order; nil entries fail
}

func (d *fakeDialer) Dial(context.Context, string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.channels) == 0 {
		return nil, errors.New("connection refused")
	}
	ch := d.channels[0]
	d.channels = d.channels[1:]
	if ch == nil {
		return nil, errors.New("connection refused")
	}
	return ch, nil
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func newTestManager(t *testing.T, d *fakeDialer, replay bool) (*Manager, *subscription.Registry, *fakeClock, *bus.Bus) {
	t.Helper()
	b := bus.New()
	reg := subscription.New(replay, nil)
	clock := &fakeClock{}
	m := New(Config{BaseDelay: 3 * time.Second, MaxAttempts: 5}, d, status.NewMachine(b), reg, b, nil,
		WithAfterFunc(clock.AfterFunc))
	t.Cleanup(func() { m.Disconnect(context.Background()) })
	return m, reg, clock, b
}

func TestConnectBindsPublishesThenReady(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{channels: []*fakeChannel{ch}}
	m, reg, _, _ := newTestManager(t, d, true)
	ctx := context.Background()

	tp := subscription.Topics{}
	reg.Fixed(ctx, tp.UserMessages(7), nil)
	reg.Fixed(ctx, tp.Presence(), nil)
	reg.Fixed(ctx, tp.Contacts(7), nil)
	reg.Fixed(ctx, tp.Chats(7), nil)

	var readySubs, readyStatus int
	err := m.Connect(ctx, 7, func() {
		readySubs = len(ch.subs)
		readyStatus = len(ch.sentTo(subscription.DestUserStatus))
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
	want := []string{"/topic/user.7.messages", "/topic/users", "/user/queue/contacts", "/user/queue/chats"}
	if !slices.Equal(ch.subs, want) {
		t.Errorf("subscribed %v, want %v", ch.subs, want)
	}
	if readySubs != 4 || readyStatus != 1 {
		t.Errorf("onReady saw %d subs and %d status updates, want 4 and 1", readySubs, readyStatus)
	}

	var st userStatus
	if err := json.Unmarshal([]byte(ch.sentTo(subscription.DestUserStatus)[0]), &st); err != nil {
		t.Fatal(err)
	}
	if st.UserID != 7 || !st.IsOnline {
		t.Errorf("status = %+v, want user 7 online", st)
	}
}

func TestConnectWhenConnectedOnlyRunsReady(t *testing.T) {
	d := &fakeDialer{channels: []*fakeChannel{newFakeChannel()}}
	m, _, _, _ := newTestManager(t, d, true)
	ctx := context.Background()

	if err := m.Connect(ctx, 7, nil); err != nil {
		t.Fatal(err)
	}
	called := false
	if err := m.Connect(ctx, 7, func() { called = true }); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("onReady not invoked when already connected")
	}
	if d.dials != 1 {
		t.Errorf("dials = %d, want 1", d.dials)
	}
}

func TestBoundedLinearReconnect(t *testing.T) {
	d := &fakeDialer{}
	m, _, clock, b := newTestManager(t, d, true)
	events, unsub := b.Subscribe("conn.gave_up", 1)
	defer unsub()

	if err := m.Connect(context.Background(), 7, nil); err == nil {
		t.Fatal("Connect() error = nil, want dial failure")
	}

	var delays []time.Duration
	for i := 0; i < 10; i++ {
		timer := clock.last()
		if timer == nil || len(delays) == clock.count() {
			break
		}
		delays = append(delays, timer.delay)
		timer.fn()
	}

	want := []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second, 12 * time.Second, 15 * time.Second}
	if !slices.Equal(delays, want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
	if d.dials != 6 {
		t.Errorf("dials = %d, want 6 (initial + 5 retries)", d.dials)
	}
	if m.ReconnectPending() {
		t.Error("reconnect still pending after the ceiling")
	}
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
	select {
	case <-events:
	case <-time.After(time.Second):
		t.Error("no conn.gave_up event")
	}
}

func TestExplicitReconnectAfterGivingUp(t *testing.T) {
	ch := newFakeChannel()
	d := &fakeDialer{}
	m, _, clock, _ := newTestManager(t, d, true)

	_ = m.Connect(context.Background(), 7, nil)
	for i := 0; i < 5; i++ {
		clock.last().fn()
	}
	if m.Attempts() != 5 {
		t.Fatalf("attempts = %d, want 5", m.Attempts())
	}

	d.channels = []*fakeChannel{ch}
	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	if m.State() != status.Connected || m.Attempts() != 0 {
		t.Errorf("state = %s attempts = %d, want CONNECTED 0", m.State(), m.Attempts())
	}
}

func TestLossReconnectsAndReplays(t *testing.T) {
	first, second := newFakeChannel(), newFakeChannel()
	d := &fakeDialer{channels: []*fakeChannel{first, second}}
	m, reg, clock, _ := newTestManager(t, d, true)
	ctx := context.Background()

	reg.Fixed(ctx, subscription.TopicPresence, nil)
	if err := m.Connect(ctx, 7, nil); err != nil {
		t.Fatal(err)
	}
	reg.Subscribe(ctx, "/topic/chat/42", nil)

	first.drop()
	waitFor(t, func() bool { return clock.count() == 1 })
	if m.State() != status.Disconnected {
		t.Errorf("state after loss = %s, want DISCONNECTED", m.State())
	}
	if got := clock.last().delay; got != 3*time.Second {
		t.Errorf("first delay = %s, want 3s", got)
	}

	clock.last().fn()
	if m.State() != status.Connected {
		t.Fatalf("state after reconnect = %s, want CONNECTED", m.State())
	}
	if !slices.Equal(second.subs, []string{"/topic/users", "/topic/chat/42"}) {
		t.Errorf("replayed %v", second.subs)
	}
	if m.Attempts() != 0 {
		t.Errorf("attempts = %d, want reset to 0", m.Attempts())
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	m, _, clock, _ := newTestManager(t, d, true)

	_ = m.Connect(context.Background(), 7, nil)
	timer := clock.last()
	m.Disconnect(context.Background())

	if !timer.stopped {
		t.Error("pending reconnect timer not stopped")
	}
	// A timer that already fired is discarded by the epoch check.
	timer.fn()
	if d.dials != 1 {
		t.Errorf("dials = %d, want 1", d.dials)
	}
}

func TestDisconnectPublishesOffline(t *testing.T) {
	ch := newFakeChannel()
	m, _, _, _ := newTestManager(t, &fakeDialer{channels: []*fakeChannel{ch}}, true)
	if err := m.Connect(context.Background(), 7, nil); err != nil {
		t.Fatal(err)
	}
	m.Disconnect(context.Background())

	bodies := ch.sentTo(subscription.DestUserStatus)
	if len(bodies) != 2 || bodies[1] != `{"userId":7,"isOnline":false}` {
		t.Errorf("status updates = %v", bodies)
	}
	if m.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

func TestPublishWhenDisconnectedIsSilent(t *testing.T) {
	m, _, _, _ := newTestManager(t, &fakeDialer{}, true)
	m.Publish(context.Background(), subscription.DestTyping, map[string]any{"chatId": 1})
}

func TestInboundFramesRouted(t *testing.T) {
	ch := newFakeChannel()
	m, reg, _, _ := newTestManager(t, &fakeDialer{channels: []*fakeChannel{ch}}, true)
	ctx := context.Background()

	got := make(chan string, 1)
	reg.Fixed(ctx, subscription.TopicPresence, func(_ string, body []byte) { got <- string(body) })
	if err := m.Connect(ctx, 7, nil); err != nil {
		t.Fatal(err)
	}

	ch.frames <- transport.NewFrame(transport.CmdReceipt, nil, "receipt-id", "1")
	ch.frames <- transport.NewFrame(transport.CmdMessage, []byte(`{"type":"USER_ONLINE"}`), "subscription", "sub-0")

	select {
	case body := <-got:
		if body != `{"type":"USER_ONLINE"}` {
			t.Errorf("body = %q", body)
		}
	case <-time.After(time.Second):
		t.Fatal("frame not routed")
	}
}

func TestMalformedFrameKeepsChannel(t *testing.T) {
	ch := newFakeChannel()
	m, reg, clock, _ := newTestManager(t, &fakeDialer{channels: []*fakeChannel{ch}}, true)
	ctx := context.Background()

	got := make(chan string, 1)
	reg.Fixed(ctx, subscription.TopicPresence, func(_ string, body []byte) { got <- string(body) })
	if err := m.Connect(ctx, 7, nil); err != nil {
		t.Fatal(err)
	}

	_, decodeErr := transport.Decode([]byte("MESSAGE\nsubscription sub-0\n\n{}\x00"))
	if !errors.Is(decodeErr, transport.ErrMalformedFrame) {
		t.Fatalf("Decode() error = %v, want ErrMalformedFrame", decodeErr)
	}
	ch.errs <- decodeErr
	waitFor(t, func() bool { return len(ch.errs) == 0 })
	ch.frames <- transport.NewFrame(transport.CmdMessage, []byte(`{"type":"USER_ONLINE"}`), "subscription", "sub-0")

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("frame after the malformed one not routed")
	}
	if m.State() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.State())
	}
	if n := clock.count(); n != 0 {
		t.Errorf("reconnect timers = %d, want 0", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
