// Package eventbus provides the in-process publish/subscribe registry that
// decouples realtime session internals from their consumers.
package eventbus

import "sync"

// Kind identifies the event being emitted. The set is closed so that
// consumers cannot subscribe to a misspelled event name.
type Kind string

const (
	// KindConnect fires after a session (re)establishes its transport.
	// Payload: the connected user ID (string).
	KindConnect Kind = "connect"
	// KindDisconnect fires when the transport drops or is torn down.
	// Payload: the close reason (string).
	KindDisconnect Kind = "disconnect"
	// KindError fires on protocol-level failures. Payload: error.
	KindError Kind = "error"
	// KindMessage fires for inbound NEW_MESSAGE and MESSAGE_READ frames.
	// Payload: *wire.ChatEvent.
	KindMessage Kind = "message"
	// KindTyping fires for inbound TYPING frames. Payload: *wire.ChatEvent.
	KindTyping Kind = "typing"
	// KindOnlineStatus fires for USER_ONLINE/USER_OFFLINE frames.
	// Payload: *wire.ChatEvent.
	KindOnlineStatus Kind = "online-status"
	// KindNotification fires for inbound notification frames.
	// Payload: *wire.NotificationEvent.
	KindNotification Kind = "notification"
)

// Event is a single emission on the bus.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// Handler receives emitted events.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
//
// Go functions are not comparable, so removal is by subscription handle
// rather than by callback value; removing an already-removed subscription
// is a no-op.
type Subscription struct {
	kind Kind
	id   int
}

type entry struct {
	id int
	fn Handler
}

// Bus is a concurrent-safe publish/subscribe dispatcher. Handlers for one
// emission run synchronously in registration order; a panicking handler is
// recovered so the remaining handlers still execute.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]entry
	nextID int
}

// New creates a ready-to-use Bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]entry)}
}

// On registers a handler for a kind and returns its subscription handle.
func (b *Bus) On(kind Kind, fn Handler) *Subscription {
	if fn == nil {
		return &Subscription{kind: kind, id: -1}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs[kind] = append(b.subs[kind], entry{id: b.nextID, fn: fn})
	return &Subscription{kind: kind, id: b.nextID}
}

// Off removes a subscription. Unknown or already-removed subscriptions are
// ignored.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil || sub.id <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[sub.kind]
	for i, e := range entries {
		if e.id == sub.id {
			b.subs[sub.kind] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Emit dispatches an event to all handlers registered for its kind.
//
// The handler list is snapshotted under the lock so a handler may register
// or remove subscriptions without deadlocking.
func (b *Bus) Emit(evt Event) {
	b.mu.RLock()
	entries := b.subs[evt.Kind]
	snapshot := make([]Handler, len(entries))
	for i, e := range entries {
		snapshot[i] = e.fn
	}
	b.mu.RUnlock()

	for _, fn := range snapshot {
		func() {
			defer func() { recover() }()
			fn(evt)
		}()
	}
}

// SubscriberCount returns the number of handlers registered for a kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
