// Package stomp implements the transport over STOMP 1.2 frames carried in websocket
// text messages, the protocol spoken by the chat server's /ws-chat endpoint.
package stomp

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/transport"
)

var (
	ErrClosed          = errors.New("stomp connection closed")
	ErrUnexpectedFrame = errors.New("unexpected stomp frame")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	disconnectGrace         = 500 * time.Millisecond
)

// Dialer opens STOMP sessions over a websocket endpoint.
type Dialer struct {
	URL string
	// Header is sent with the websocket upgrade request (cookies, auth).
	Header http.Header
	// Host is the virtual host sent in CONNECT. Defaults to the URL host.
	Host             string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

var _ transport.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if d == nil || d.URL == "" {
		return nil, errors.New("stomp dialer: empty url")
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, errors.Wrap(err, "stomp dialer: parse url")
	}
	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	host := d.Host
	if host == "" {
		host = u.Hostname()
	}

	wsDialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp"},
	}
	ws, _, err := wsDialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "stomp dialer: dial %s", d.URL)
	}

	c := newConn(ws, d.WriteTimeout)
	if err := c.handshake(ctx, host, handshakeTimeout); err != nil {
		_ = ws.Close()
		return nil, err
	}
	go c.readLoop()
	c.logger.Debug().Str("url", d.URL).Msg("stomp session established")
	return c, nil
}

// Conn is one STOMP session. Writes are serialized; inbound MESSAGE frames are
// routed to the handler registered for their subscription id.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]*subscription
	closing bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{
		ws:           ws,
		writeTimeout: writeTimeout,
		logger:       log.With().Str("component", "stomp").Logger(),
		subs:         map[string]*subscription{},
		done:         make(chan struct{}),
	}
}

func (c *Conn) handshake(ctx context.Context, host string, timeout time.Duration) error {
	connect := frame.New(frame.CONNECT,
		"accept-version", "1.2,1.1",
		"host", host,
		"heart-beat", "0,0",
	)
	if err := c.write(connect); err != nil {
		return errors.Wrap(err, "stomp handshake: send CONNECT")
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "stomp handshake: read CONNECTED")
		}
		f, err := decode(data)
		if err != nil {
			return errors.Wrap(err, "stomp handshake")
		}
		switch {
		case f == nil:
			continue
		case f.Command == frame.CONNECTED:
			return nil
		case f.Command == frame.ERROR:
			return errors.Errorf("stomp handshake: server error: %s", errorText(f))
		default:
			return errors.Wrapf(ErrUnexpectedFrame, "stomp handshake: got %s", f.Command)
		}
	}
}

func (c *Conn) Subscribe(destination string, handler transport.Handler) (transport.Subscription, error) {
	if handler == nil {
		return nil, errors.New("stomp subscribe: nil handler")
	}
	sub := &subscription{
		id:          "sub-" + uuid.NewString(),
		destination: destination,
		handler:     handler,
		conn:        c,
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	err := c.write(frame.New(frame.SUBSCRIBE,
		"id", sub.id,
		"destination", destination,
		"ack", "auto",
	))
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, errors.Wrapf(err, "stomp subscribe %s", destination)
	}
	return sub, nil
}

func (c *Conn) Send(destination string, payload []byte) error {
	f := frame.New(frame.SEND,
		"destination", destination,
		"content-type", "application/json",
	)
	f.Body = payload
	err := c.write(f)
	if err != nil {
		return errors.Wrapf(err, "stomp send %s", destination)
	}
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends DISCONNECT and closes the socket. Done fires with a nil Err.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	receipt := "disconnect-" + uuid.NewString()
	if err := c.write(frame.New(frame.DISCONNECT, "receipt", receipt)); err != nil {
		c.logger.Debug().Err(err).Msg("stomp disconnect frame not sent")
	} else {
		select {
		case <-c.done:
		case <-time.After(disconnectGrace):
		}
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.finish(nil)
	return err
}

func (c *Conn) write(f *frame.Frame) error {
	data, err := encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if closing {
				c.finish(nil)
			} else {
				c.finish(errors.Wrap(err, "stomp read"))
			}
			return
		}
		f, err := decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Int("size", len(data)).Msg("dropping malformed stomp frame")
			continue
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.MESSAGE:
			c.dispatch(f)
		case frame.RECEIPT:
			if c.isClosing() {
				c.finish(nil)
				return
			}
		case frame.ERROR:
			c.finish(errors.Errorf("stomp server error: %s", errorText(f)))
			_ = c.ws.Close()
			return
		default:
			c.logger.Debug().Str("command", f.Command).Msg("ignoring stomp frame")
		}
	}
}

func (c *Conn) dispatch(f *frame.Frame) {
	id := f.Header.Get("subscription")
	c.mu.Lock()
	sub, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("subscription", id).Msg("message for unknown subscription")
		return
	}
	sub.handler(f.Body)
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.subs = map[string]*subscription{}
		c.mu.Unlock()
		close(c.done)
	})
}

type subscription struct {
	id          string
	destination string
	handler     transport.Handler
	conn        *Conn
}

func (s *subscription) Destination() string {
	return s.destination
}

func (s *subscription) Unsubscribe() error {
	c := s.conn
	c.mu.Lock()
	_, ok := c.subs[s.id]
	delete(c.subs, s.id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.write(frame.New(frame.UNSUBSCRIBE, "id", s.id)); err != nil {
		return errors.Wrapf(err, "stomp unsubscribe %s", s.destination)
	}
	return nil
}
