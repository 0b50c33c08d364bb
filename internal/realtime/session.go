// Package realtime maintains a persistent STOMP-over-WebSocket session to
// one realtime backend (chat or notifications): connect/disconnect
// lifecycle, per-user destination subscriptions, automatic reconnection
// with credential refresh, and fan-out of inbound frames onto an event bus.
//
// Transport and protocol failures never surface as errors on the public
// API; they become bus events and warning logs so that observers can opt
// in (see the Event Bus kinds for the observable surface).
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/pulsesocial/pulse-go/internal/auth"
	"github.com/pulsesocial/pulse-go/internal/eventbus"
	"github.com/pulsesocial/pulse-go/pkg/logger"
)

// State is the connection state of a Session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// errAborted signals that an in-flight connect lost a race with an explicit
// Disconnect or user switch.
var errAborted = errors.New("connect aborted")

// Config describes one session instance. The chat and notification sessions
// are structurally identical and differ only in configuration.
type Config struct {
	// Name tags log lines ("chat", "notifications").
	Name string
	// URL is the websocket endpoint of the STOMP broker.
	URL string
	// Destinations is the fixed per-user destination set to subscribe on
	// every (re)connect.
	Destinations []Destination
	// HeartbeatInterval is the STOMP heart-beat in both directions.
	HeartbeatInterval time.Duration
	// ReconnectDelay is the fixed wait before each reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds automatic reconnects; once exhausted the
	// session stays disconnected until an explicit Connect.
	MaxReconnectAttempts int
}

type activeSub struct {
	dest Destination
	sub  subscription
}

// Session owns a single persistent connection. At most one transport is
// live per Session; switching users tears down and recreates it.
type Session struct {
	cfg    Config
	tokens auth.TokenSource
	bus    *eventbus.Bus
	dial   dialFn

	mu              sync.Mutex
	state           State
	userID          string
	tr              transport
	subs            []activeSub
	attempts        int
	gen             int
	cancelReconnect context.CancelFunc
}

// NewSession creates a disconnected session. Zero config fields fall back
// to conservative defaults.
func NewSession(cfg Config, tokens auth.TokenSource) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	return &Session{
		cfg:    cfg,
		tokens: tokens,
		bus:    eventbus.New(),
		dial:   dialSTOMP,
		state:  StateDisconnected,
	}
}

// On registers a bus handler. See the eventbus kinds for payload types.
func (s *Session) On(kind eventbus.Kind, fn eventbus.Handler) *eventbus.Subscription {
	return s.bus.On(kind, fn)
}

// Off removes a bus handler registered via On.
func (s *Session) Off(sub *eventbus.Subscription) {
	s.bus.Off(sub)
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is usable for sending. Both the
// state flag and the transport itself must agree, so a half-open connection
// that the heartbeat has not yet reaped still reads as disconnected.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && s.tr != nil && s.tr.Active()
}

// Connect establishes the session for the given user.
//
// It is a no-op when already connected as the same user. Connecting as a
// different user tears the existing transport down first. Failures
// (missing credential, unreachable broker) are logged, not returned; the
// caller retries with another Connect call.
func (s *Session) Connect(ctx context.Context, userID string) {
	if userID == "" {
		logger.Warnf("%s: connect called without user id", s.cfg.Name)
		return
	}

	s.mu.Lock()
	if s.state == StateConnected && s.userID == userID && s.tr != nil && s.tr.Active() {
		s.mu.Unlock()
		return
	}
	if s.state != StateDisconnected || s.tr != nil {
		if s.userID != "" && s.userID != userID {
			logger.Infof("%s: switching user %s -> %s", s.cfg.Name, s.userID, userID)
		}
		s.teardownLocked()
	}
	s.state = StateConnecting
	s.userID = userID
	s.attempts = 0
	s.mu.Unlock()

	token, err := s.tokens.Token(ctx)
	if err != nil {
		logger.Warnf("%s: connect aborted, no credential: %v", s.cfg.Name, err)
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return
	}

	if err := s.establish(ctx, token); err != nil {
		logger.Warnf("%s: connect failed: %v", s.cfg.Name, err)
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
	}
}

// Disconnect releases all subscriptions, tears down the transport, and
// clears the stored user. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected && s.tr == nil && s.cancelReconnect == nil {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.userID = ""
	s.attempts = 0
	s.mu.Unlock()

	logger.Infof("%s: disconnected", s.cfg.Name)
	s.bus.Emit(eventbus.Event{Kind: eventbus.KindDisconnect, Payload: "client disconnect"})
}

// Send serializes payload as JSON and publishes it to destination. When the
// session is not connected the payload is dropped with a warning; there is
// no outbound queue.
func (s *Session) Send(destination string, payload interface{}, headers map[string]string) {
	body, ok := payload.([]byte)
	if !ok {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			logger.Warnf("%s: send to %s dropped, marshal: %v", s.cfg.Name, destination, err)
			return
		}
	}

	s.mu.Lock()
	tr := s.tr
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected || tr == nil || !tr.Active() {
		logger.Warnf("%s: send to %s dropped, not connected", s.cfg.Name, destination)
		return
	}
	if err := tr.Send(destination, body, headers); err != nil {
		logger.Warnf("%s: send to %s failed: %v", s.cfg.Name, destination, err)
	}
}

// establish dials a fresh transport, re-issues the destination
// subscriptions, and emits the connect event.
func (s *Session) establish(ctx context.Context, token string) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	tr, err := s.dial(ctx, dialConfig{
		url:       s.cfg.URL,
		token:     token,
		userID:    userID,
		heartbeat: s.cfg.HeartbeatInterval,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateConnecting || s.userID != userID {
		s.mu.Unlock()
		_ = tr.Disconnect()
		return errAborted
	}
	s.gen++
	gen := s.gen
	s.tr = tr
	if err := s.subscribeAllLocked(gen); err != nil {
		s.releaseSubsLocked()
		s.tr = nil
		s.mu.Unlock()
		_ = tr.Disconnect()
		return err
	}
	s.state = StateConnected
	s.attempts = 0
	s.mu.Unlock()

	logger.Infof("%s: connected as %s", s.cfg.Name, userID)
	s.bus.Emit(eventbus.Event{Kind: eventbus.KindConnect, Payload: userID})
	return nil
}

// onTransportLost reacts to a dead transport: emits the disconnect event
// and kicks off the bounded reconnect loop. Stale generations are ignored
// so that an already-replaced transport cannot trigger a second loop.
func (s *Session) onTransportLost(gen int, reason string) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.releaseSubsLocked()
	if s.tr != nil {
		_ = s.tr.Disconnect()
		s.tr = nil
	}
	s.state = StateConnecting
	rctx, cancel := context.WithCancel(context.Background())
	s.cancelReconnect = cancel
	s.mu.Unlock()

	logger.Warnf("%s: connection lost: %s", s.cfg.Name, reason)
	s.bus.Emit(eventbus.Event{Kind: eventbus.KindDisconnect, Payload: reason})

	go s.reconnectLoop(rctx)
}

// reconnectLoop retries up to MaxReconnectAttempts with a fixed delay
// before each attempt, fetching a fresh credential every time since tokens
// may have rotated while the connection was down.
func (s *Session) reconnectLoop(ctx context.Context) {
	delay := s.cfg.ReconnectDelay
	maxAttempts := s.cfg.MaxReconnectAttempts

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		s.mu.Lock()
		if s.state != StateConnecting {
			s.mu.Unlock()
			return backoff.Permanent(errAborted)
		}
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		logger.Infof("%s: reconnect attempt %d/%d", s.cfg.Name, attempt, maxAttempts)

		token, err := s.tokens.Token(ctx)
		if err != nil {
			return errors.Wrap(err, "credential")
		}
		if err := s.establish(ctx, token); err != nil {
			if errors.Is(err, errAborted) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, policy)

	s.mu.Lock()
	if s.cancelReconnect != nil {
		s.cancelReconnect()
		s.cancelReconnect = nil
	}
	if err == nil || errors.Is(err, errAborted) || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	logger.Errorf("%s: giving up after %d reconnect attempts: %v", s.cfg.Name, maxAttempts, err)
}

// teardownLocked releases subscriptions, drops the transport, and cancels
// any in-flight reconnect loop. Callers hold s.mu.
func (s *Session) teardownLocked() {
	s.gen++
	if s.cancelReconnect != nil {
		s.cancelReconnect()
		s.cancelReconnect = nil
	}
	s.releaseSubsLocked()
	if s.tr != nil {
		_ = s.tr.Disconnect()
		s.tr = nil
	}
	s.state = StateDisconnected
}
