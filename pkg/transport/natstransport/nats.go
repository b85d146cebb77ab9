// Package natstransport carries the same destinations over NATS subjects, for
// deployments that fan chat traffic out through a NATS cluster instead of a STOMP
// broker. Destinations map to subjects by turning slashes into dots:
// /topic/chat/12 becomes topic.chat.12.
package natstransport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/transport"
)

type Dialer struct {
	URL     string
	Name    string
	Timeout time.Duration
}

var _ transport.Dialer = (*Dialer)(nil)

// Dial connects with client-side reconnects disabled; the connection manager owns
// the retry policy.
func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	if d == nil || d.URL == "" {
		return nil, errors.New("nats dialer: empty url")
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			timeout = remaining
		}
	}
	name := d.Name
	if name == "" {
		name = "roomchat"
	}

	c := &Conn{done: make(chan struct{})}
	nc, err := nats.Connect(d.URL,
		nats.Name(name),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.setErr(errors.Wrap(err, "nats disconnected"))
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.finish()
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "nats dialer: connect %s", d.URL)
	}
	if ctx.Err() != nil {
		nc.Close()
		return nil, ctx.Err()
	}
	c.nc = nc
	log.Debug().Str("component", "nats").Str("url", nc.ConnectedUrl()).Msg("nats connection established")
	return c, nil
}

// Subject converts a slash-separated destination into a NATS subject.
func Subject(destination string) string {
	return strings.ReplaceAll(strings.Trim(destination, "/"), "/", ".")
}

type Conn struct {
	nc *nats.Conn

	mu        sync.Mutex
	err       error
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) Subscribe(destination string, handler transport.Handler) (transport.Subscription, error) {
	if handler == nil {
		return nil, errors.New("nats subscribe: nil handler")
	}
	sub, err := c.nc.Subscribe(Subject(destination), func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "nats subscribe %s", destination)
	}
	return &subscription{destination: destination, sub: sub}, nil
}

func (c *Conn) Send(destination string, payload []byte) error {
	if err := c.nc.Publish(Subject(destination), payload); err != nil {
		return errors.Wrapf(err, "nats publish %s", destination)
	}
	return nil
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
	return nil
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *Conn) finish() {
	c.closeOnce.Do(func() {
		c.setErr(errors.New("nats connection closed"))
		close(c.done)
	})
}

type subscription struct {
	destination string
	sub         *nats.Subscription
}

func (s *subscription) Destination() string {
	return s.destination
}

func (s *subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return errors.Wrapf(err, "nats unsubscribe %s", s.destination)
	}
	return nil
}
