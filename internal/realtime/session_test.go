package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/pulsesocial/pulse-go/internal/auth"
	"github.com/pulsesocial/pulse-go/internal/eventbus"
	"github.com/pulsesocial/pulse-go/internal/wire"
)

type sentFrame struct {
	destination string
	body        []byte
}

type fakeSub struct {
	frames chan frame
}

func (s *fakeSub) Frames() <-chan frame { return s.frames }
func (s *fakeSub) Unsubscribe() error   { return nil }

type fakeTransport struct {
	mu     sync.Mutex
	subs   map[string]*fakeSub
	sent   []sentFrame
	active bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]*fakeSub), active: true}
}

func (t *fakeTransport) Subscribe(destination string) (subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub := &fakeSub{frames: make(chan frame, 16)}
	t.subs[destination] = sub
	return sub, nil
}

func (t *fakeTransport) Send(destination string, body []byte, headers map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return errors.New("transport closed")
	}
	t.sent = append(t.sent, sentFrame{destination: destination, body: body})
	return nil
}

func (t *fakeTransport) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *fakeTransport) Disconnect() error {
	t.drop()
	return nil
}

// drop simulates a transport-level failure: all subscription channels
// close, as go-stomp does when the connection dies.
func (t *fakeTransport) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.active = false
	for _, sub := range t.subs {
		close(sub.frames)
	}
}

func (t *fakeTransport) push(destination string, body []byte) {
	t.mu.Lock()
	sub := t.subs[destination]
	t.mu.Unlock()
	if sub != nil {
		sub.frames <- frame{Destination: destination, Body: body}
	}
}

func (t *fakeTransport) subscribedDestinations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for dest := range t.subs {
		out = append(out, dest)
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) record(evt eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) count(kind eventbus.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

func newTestSession(t *testing.T, dial dialFn) *Session {
	t.Helper()
	s := NewSession(Config{
		Name:                 "chat",
		URL:                  "wss://example.test/ws/chat",
		Destinations:         ChatDestinations(),
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, &auth.StaticTokenSource{Value: "tok"})
	s.dial = dial
	t.Cleanup(s.Disconnect)
	return s
}

func TestSession_ConnectSubscribesAndEmits(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	var dials int
	s := newTestSession(t, func(ctx context.Context, cfg dialConfig) (transport, error) {
		dials++
		require.Equal(t, "tok", cfg.token)
		require.Equal(t, "u1", cfg.userID)
		return tr, nil
	})

	rec := &eventRecorder{}
	s.On(eventbus.KindConnect, rec.record)

	s.Connect(context.Background(), "u1")

	require.True(t, s.IsConnected())
	require.Equal(t, StateConnected, s.State())
	require.Equal(t, 1, rec.count(eventbus.KindConnect))
	require.ElementsMatch(t, []string{
		"/user/u1/queue/messages",
		"/user/u1/queue/typing",
		"/user/u1/queue/online-status",
	}, tr.subscribedDestinations())

	// Connecting again as the same user is a no-op.
	s.Connect(context.Background(), "u1")
	require.Equal(t, 1, dials)
	require.Equal(t, 1, rec.count(eventbus.KindConnect))
}

func TestSession_ConnectWithoutCredentialAborts(t *testing.T) {
	t.Parallel()

	var dials int
	s := NewSession(Config{Name: "chat", Destinations: ChatDestinations()}, &auth.StaticTokenSource{})
	s.dial = func(ctx context.Context, cfg dialConfig) (transport, error) {
		dials++
		return newFakeTransport(), nil
	}

	s.Connect(context.Background(), "u1")

	require.Equal(t, 0, dials)
	require.Equal(t, StateDisconnected, s.State())
	require.False(t, s.IsConnected())
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, func(ctx context.Context, cfg dialConfig) (transport, error) {
		return tr, nil
	})

	rec := &eventRecorder{}
	s.On(eventbus.KindDisconnect, rec.record)

	s.Connect(context.Background(), "u1")
	require.True(t, s.IsConnected())

	s.Disconnect()
	require.Equal(t, StateDisconnected, s.State())
	require.False(t, s.IsConnected())

	s.Disconnect()
	require.Equal(t, StateDisconnected, s.State())
	require.Equal(t, 1, rec.count(eventbus.KindDisconnect))
}

func TestSession_SendWhileDisconnectedDrops(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, func(ctx context.Context, cfg dialConfig) (transport, error) {
		return tr, nil
	})

	s.Send("/app/typing", wire.TypingSignal{ChatID: "c1", IsTyping: true}, nil)

	tr.mu.Lock()
	sent := len(tr.sent)
	tr.mu.Unlock()
	require.Zero(t, sent)

	s.Connect(context.Background(), "u1")
	s.Send("/app/typing", wire.TypingSignal{ChatID: "c1", IsTyping: true}, nil)

	tr.mu.Lock()
	sent = len(tr.sent)
	tr.mu.Unlock()
	require.Equal(t, 1, sent)
}

func TestSession_RoutesInboundFrames(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	s := newTestSession(t, func(ctx context.Context, cfg dialConfig) (transport, error) {
		return tr, nil
	})

	messages := &eventRecorder{}
	typing := &eventRecorder{}
	presence := &eventRecorder{}
	s.On(eventbus.KindMessage, messages.record)
	s.On(eventbus.KindTyping, typing.record)
	s.On(eventbus.KindOnlineStatus, presence.record)

	s.Connect(context.Background(), "u1")

	// A malformed frame is dropped without taking the session down.
	tr.push("/user/u1/queue/messages", []byte("not json"))
	tr.push("/user/u1/queue/messages", []byte(`{"type":"NEW_MESSAGE","chatId":"c1","messageId":"m1","senderId":"u2","content":"hi"}`))
	tr.push("/user/u1/queue/typing", []byte(`{"type":"TYPING","chatId":"c1","senderId":"u2","isTyping":true}`))
	tr.push("/user/u1/queue/online-status", []byte(`{"type":"USER_ONLINE","senderId":"u2"}`))

	require.Eventually(t, func() bool {
		return messages.count(eventbus.KindMessage) == 1 &&
			typing.count(eventbus.KindTyping) == 1 &&
			presence.count(eventbus.KindOnlineStatus) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.True(t, s.IsConnected())

	messages.mu.Lock()
	evt := messages.events[0].Payload.(*wire.ChatEvent)
	messages.mu.Unlock()
	require.Equal(t, "m1", evt.MessageID)
	require.Equal(t, "c1", evt.ChatID)
}

func TestSession_ReconnectsAfterTransportDrop(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transports []*fakeTransport
	s := newTestSession(t, func(ctx context.Context, cfg dialConfig) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		tr := newFakeTransport()
		transports = append(transports, tr)
		return tr, nil
	})

	rec := &eventRecorder{}
	s.On(eventbus.KindConnect, rec.record)
	s.On(eventbus.KindDisconnect, rec.record)

	s.Connect(context.Background(), "u1")
	require.True(t, s.IsConnected())

	mu.Lock()
	transports[0].drop()
	mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transports) == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, s.IsConnected, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, rec.count(eventbus.KindConnect))
	require.Equal(t, 1, rec.count(eventbus.KindDisconnect))

	// The fresh transport got the full destination set again.
	mu.Lock()
	dests := transports[1].subscribedDestinations()
	mu.Unlock()
	require.Len(t, dests, 3)
}

func TestSession_ReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	dials := 0
	first := newFakeTransport()
	s := newTestSession(t, func(ctx context.Context, cfg dialConfig) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return nil, errors.New("broker unreachable")
	})

	s.Connect(context.Background(), "u1")
	require.True(t, s.IsConnected())

	first.drop()

	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	total := dials
	mu.Unlock()
	// Initial dial plus exactly MaxReconnectAttempts retries.
	require.Equal(t, 1+3, total)

	// No further automatic attempts.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.Equal(t, total, dials)
	mu.Unlock()

	// An explicit connect starts over.
	s.Connect(context.Background(), "u1")
	mu.Lock()
	require.Equal(t, total+1, dials)
	mu.Unlock()
}

func TestSession_UserSwitchTearsDownTransport(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transports []*fakeTransport
	s := newTestSession(t, func(ctx context.Context, cfg dialConfig) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		tr := newFakeTransport()
		transports = append(transports, tr)
		return tr, nil
	})

	s.Connect(context.Background(), "u1")
	s.Connect(context.Background(), "u2")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, transports, 2)
	require.False(t, transports[0].Active())
	require.True(t, transports[1].Active())
	require.Contains(t, transports[1].subscribedDestinations(), "/user/u2/queue/messages")
}
