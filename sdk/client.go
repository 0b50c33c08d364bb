// Package sdk is the composition root of the Pulse client core. It owns
// the two realtime sessions (chat, notifications), the state stores, the
// typing debouncer, and the REST client, and exposes the surface UI layers
// consume.
package sdk

import (
	"context"
	"sync"

	"github.com/pulsesocial/pulse-go/internal/api"
	"github.com/pulsesocial/pulse-go/internal/auth"
	"github.com/pulsesocial/pulse-go/internal/config"
	"github.com/pulsesocial/pulse-go/internal/eventbus"
	"github.com/pulsesocial/pulse-go/internal/model"
	"github.com/pulsesocial/pulse-go/internal/realtime"
	"github.com/pulsesocial/pulse-go/internal/store"
	"github.com/pulsesocial/pulse-go/internal/typing"
	"github.com/pulsesocial/pulse-go/internal/wire"
)

// Listener receives client events. Callbacks arrive serialized on a single
// goroutine and must not block.
type Listener interface {
	// OnConnected is called when a session establishes its connection.
	// Session is "chat" or "notifications".
	OnConnected(session, userID string)
	// OnDisconnected is called when a session's transport drops or is torn
	// down.
	OnDisconnected(session, reason string)
	// OnChatChanged fires after any chat-store state change.
	OnChatChanged()
	// OnNotification delivers a freshly received notification.
	OnNotification(n model.Notification)
	// OnError delivers non-fatal protocol errors for display or logging.
	OnError(message string)
}

// Client is the embedder-facing client core.
type Client struct {
	cfg    *config.Config
	tokens auth.TokenSource
	rest   *api.Client

	chatSession  *realtime.Session
	notifSession *realtime.Session

	mu         sync.Mutex
	userID     string
	chatStore  *store.ChatStore
	notifStore *store.NotificationStore
	typer      *typing.Debouncer
	listener   Listener

	callbacks *dispatcher
}

// NewClient wires an unconnected client from configuration and a token
// source.
func NewClient(cfg *config.Config, tokens auth.TokenSource) *Client {
	c := &Client{
		cfg:        cfg,
		tokens:     tokens,
		rest:       api.NewClient(cfg.ServerURL, tokens),
		notifStore: store.NewNotificationStore(),
		callbacks:  newDispatcher(0),
	}

	c.chatSession = realtime.NewSession(realtime.Config{
		Name:                 "chat",
		URL:                  cfg.ChatSocketURL,
		Destinations:         realtime.ChatDestinations(),
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, tokens)

	c.notifSession = realtime.NewSession(realtime.Config{
		Name:                 "notifications",
		URL:                  cfg.NotificationSocketURL,
		Destinations:         realtime.NotificationDestinations(),
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, tokens)

	c.typer = typing.NewDebouncer(cfg.TypingDebounce, func(chatID string, isTyping bool) {
		c.chatSession.Send(realtime.TypingDestination, wire.TypingSignal{ChatID: chatID, IsTyping: isTyping}, nil)
	})

	c.wireSessions()
	return c
}

// SetListener registers the listener for client events.
func (c *Client) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Client) emit(fn func(Listener)) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l == nil {
		return
	}
	c.callbacks.do(func() { fn(l) })
}

// wireSessions attaches the bus handlers that feed the stores and the
// listener. Handlers live for the client's lifetime.
func (c *Client) wireSessions() {
	c.chatSession.On(eventbus.KindConnect, func(evt eventbus.Event) {
		if userID, ok := evt.Payload.(string); ok {
			c.emit(func(l Listener) { l.OnConnected("chat", userID) })
		}
	})
	c.chatSession.On(eventbus.KindDisconnect, func(evt eventbus.Event) {
		reason, _ := evt.Payload.(string)
		c.emit(func(l Listener) { l.OnDisconnected("chat", reason) })
	})
	c.chatSession.On(eventbus.KindError, func(evt eventbus.Event) {
		if err, ok := evt.Payload.(error); ok {
			c.emit(func(l Listener) { l.OnError(err.Error()) })
		}
	})
	for _, kind := range []eventbus.Kind{eventbus.KindMessage, eventbus.KindTyping, eventbus.KindOnlineStatus} {
		c.chatSession.On(kind, func(evt eventbus.Event) {
			chatEvt, ok := evt.Payload.(*wire.ChatEvent)
			if !ok {
				return
			}
			c.mu.Lock()
			st := c.chatStore
			c.mu.Unlock()
			if st != nil {
				st.HandleEvent(chatEvt)
			}
		})
	}

	c.notifSession.On(eventbus.KindConnect, func(evt eventbus.Event) {
		if userID, ok := evt.Payload.(string); ok {
			c.emit(func(l Listener) { l.OnConnected("notifications", userID) })
		}
	})
	c.notifSession.On(eventbus.KindDisconnect, func(evt eventbus.Event) {
		reason, _ := evt.Payload.(string)
		c.emit(func(l Listener) { l.OnDisconnected("notifications", reason) })
	})
	c.notifSession.On(eventbus.KindNotification, func(evt eventbus.Event) {
		notifEvt, ok := evt.Payload.(*wire.NotificationEvent)
		if !ok {
			return
		}
		c.notifStore.Receive(notifEvt)
		c.emit(func(l Listener) { l.OnNotification(notifEvt.Notification()) })
	})
}

// Start connects both sessions for the given user and prepares the chat
// store. Switching users resets the stores and reconnects.
func (c *Client) Start(ctx context.Context, userID string) {
	c.mu.Lock()
	if c.userID != userID {
		c.chatStore = store.NewChatStore(c.rest, userID)
		c.chatStore.SetOnChange(func() {
			c.emit(func(l Listener) { l.OnChatChanged() })
		})
		c.notifStore.Clear()
		c.userID = userID
	}
	c.mu.Unlock()

	c.chatSession.Connect(ctx, userID)
	c.notifSession.Connect(ctx, userID)
}

// Stop disconnects both sessions and cancels pending typing timers. The
// client can be started again afterwards.
func (c *Client) Stop() {
	c.typer.CancelAll()
	c.chatSession.Disconnect()
	c.notifSession.Disconnect()
}

// Close stops the client and releases all resources.
func (c *Client) Close() error {
	c.Stop()
	c.typer.Close()
	c.callbacks.stop()
	return c.rest.Close()
}

// IsConnected reports whether the chat session is usable for sending.
func (c *Client) IsConnected() bool {
	return c.chatSession.IsConnected()
}

// ChatStore exposes the chat state container. Nil before Start.
func (c *Client) ChatStore() *store.ChatStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatStore
}

// NotificationStore exposes the notification state container.
func (c *Client) NotificationStore() *store.NotificationStore {
	return c.notifStore
}

// SendMessage sends a chat message through the optimistic-update path and
// returns the placeholder's temporary identifier.
func (c *Client) SendMessage(ctx context.Context, chatID, content string, uploads []api.Upload) string {
	c.mu.Lock()
	st := c.chatStore
	c.mu.Unlock()
	if st == nil {
		return ""
	}
	return st.SendMessage(ctx, chatID, content, uploads)
}

// Typing records a keystroke in the chat; start/stop signals are debounced
// before they reach the wire.
func (c *Client) Typing(chatID string) {
	c.typer.Typing(chatID)
}

// StopTyping ends the local typing indicator immediately.
func (c *Client) StopTyping(chatID string) {
	c.typer.Stop(chatID)
}
