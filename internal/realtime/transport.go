package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	stompframe "github.com/go-stomp/stomp/v3/frame"
	"github.com/pkg/errors"
	"nhooyr.io/websocket"
)

// frame is a single inbound message delivered by a subscription. Err is set
// for protocol-level failures (server ERROR frame, broken connection).
type frame struct {
	Destination string
	Body        []byte
	Err         error
}

// subscription is an active destination subscription. Its channel closes
// when the subscription is released or the transport dies.
type subscription interface {
	Frames() <-chan frame
	Unsubscribe() error
}

// transport is a connected STOMP session. Implementations must be safe for
// concurrent use; exactly one transport is live per Session at a time.
type transport interface {
	Subscribe(destination string) (subscription, error)
	Send(destination string, body []byte, headers map[string]string) error
	Active() bool
	Disconnect() error
}

// dialConfig carries everything needed to establish one transport.
type dialConfig struct {
	url       string
	token     string
	userID    string
	heartbeat time.Duration
}

// dialFn establishes a transport. Production uses dialSTOMP; tests inject a
// fake.
type dialFn func(ctx context.Context, cfg dialConfig) (transport, error)

// dialSTOMP dials the websocket endpoint and performs the STOMP CONNECT
// handshake with the auth headers the backend expects.
func dialSTOMP(ctx context.Context, cfg dialConfig) (transport, error) {
	wsConn, _, err := websocket.Dial(ctx, cfg.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + cfg.token}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "websocket dial")
	}

	// The net.Conn adapter is bound to its own context so the connection
	// outlives the dial call and is torn down on Disconnect.
	connCtx, cancel := context.WithCancel(context.Background())
	netConn := websocket.NetConn(connCtx, wsConn, websocket.MessageText)

	stompConn, err := stomp.Connect(netConn,
		stomp.ConnOpt.Header("Authorization", "Bearer "+cfg.token),
		stomp.ConnOpt.Header("userId", cfg.userID),
		stomp.ConnOpt.HeartBeat(cfg.heartbeat, cfg.heartbeat),
	)
	if err != nil {
		cancel()
		wsConn.Close(websocket.StatusProtocolError, "stomp connect failed")
		return nil, errors.Wrap(err, "stomp connect")
	}

	return &stompTransport{
		conn:   stompConn,
		ws:     wsConn,
		cancel: cancel,
		closed: make(chan struct{}),
	}, nil
}

// stompTransport adapts go-stomp to the transport interface.
type stompTransport struct {
	conn      *stomp.Conn
	ws        *websocket.Conn
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *stompTransport) Subscribe(destination string) (subscription, error) {
	sub, err := t.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", destination)
	}

	out := make(chan frame, 16)
	go func() {
		defer close(out)
		for msg := range sub.C {
			if msg == nil {
				return
			}
			if msg.Err != nil {
				out <- frame{Destination: destination, Err: msg.Err}
				t.markDead()
				return
			}
			out <- frame{Destination: destination, Body: msg.Body}
		}
		// Channel closed without an error frame: the transport is gone.
		t.markDead()
	}()

	return &stompSubscription{sub: sub, frames: out}, nil
}

func (t *stompTransport) Send(destination string, body []byte, headers map[string]string) error {
	opts := make([]func(*stompframe.Frame) error, 0, len(headers))
	for k, v := range headers {
		opts = append(opts, stomp.SendOpt.Header(k, v))
	}
	if err := t.conn.Send(destination, "application/json", body, opts...); err != nil {
		t.markDead()
		return errors.Wrapf(err, "send %s", destination)
	}
	return nil
}

func (t *stompTransport) Active() bool {
	select {
	case <-t.closed:
		return false
	default:
		return true
	}
}

func (t *stompTransport) Disconnect() error {
	t.markDead()
	err := t.conn.Disconnect()
	t.cancel()
	t.ws.Close(websocket.StatusNormalClosure, "client disconnect")
	return err
}

func (t *stompTransport) markDead() {
	t.closeOnce.Do(func() { close(t.closed) })
}

type stompSubscription struct {
	sub    *stomp.Subscription
	frames chan frame
}

func (s *stompSubscription) Frames() <-chan frame { return s.frames }

func (s *stompSubscription) Unsubscribe() error { return s.sub.Unsubscribe() }
