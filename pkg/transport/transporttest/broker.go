// Package transporttest provides an in-memory broker implementing the transport
// interfaces, for tests of the connection, subscription, and engine layers.
package transporttest

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/roomchat/pkg/transport"
)

var ErrRefused = errors.New("transporttest: connection refused")

type Sent struct {
	Destination string
	Payload     []byte
}

// Broker routes payloads between the Conns it dials. Publish delivers
// synchronously on the caller's goroutine.
type Broker struct {
	mu       sync.Mutex
	subs     map[*sub]struct{}
	conns    []*Conn
	sent     []Sent
	failNext int
	dials    int
	sendErr  error
	gate     chan struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[*sub]struct{}{}}
}

// Dialer returns a transport.Dialer that connects to b.
func (b *Broker) Dialer() transport.Dialer {
	return dialer{b: b}
}

// FailNext makes the next n dials fail with ErrRefused.
func (b *Broker) FailNext(n int) {
	b.mu.Lock()
	b.failNext = n
	b.mu.Unlock()
}

// Hold blocks dials until Release is called.
func (b *Broker) Hold() {
	b.mu.Lock()
	b.gate = make(chan struct{})
	b.mu.Unlock()
}

func (b *Broker) Release() {
	b.mu.Lock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
	b.mu.Unlock()
}

// FailSends makes every Send return err; nil restores normal behavior.
func (b *Broker) FailSends(err error) {
	b.mu.Lock()
	b.sendErr = err
	b.mu.Unlock()
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Publish delivers payload to every live subscription on destination and
// reports how many handlers ran.
func (b *Broker) Publish(destination string, payload []byte) int {
	b.mu.Lock()
	var targets []*sub
	for s := range b.subs {
		if s.destination == destination {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()
	for _, s := range targets {
		s.handler(payload)
	}
	return len(targets)
}

// Subscriptions lists the destinations of all live subscriptions, with repeats.
func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ret := make([]string, 0, len(b.subs))
	for s := range b.subs {
		ret = append(ret, s.destination)
	}
	return ret
}

func (b *Broker) SubscriptionCount(destination string) int {
	n := 0
	for _, d := range b.Subscriptions() {
		if d == destination {
			n++
		}
	}
	return n
}

func (b *Broker) Sent() []Sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sent(nil), b.sent...)
}

// DropAll simulates the server closing every open connection.
func (b *Broker) DropAll() {
	b.mu.Lock()
	conns := append([]*Conn(nil), b.conns...)
	b.mu.Unlock()
	for _, c := range conns {
		c.finish(errors.New("transporttest: connection dropped"))
	}
}

// OpenConns counts connections that are neither closed nor dropped.
func (b *Broker) OpenConns() int {
	b.mu.Lock()
	conns := append([]*Conn(nil), b.conns...)
	b.mu.Unlock()
	n := 0
	for _, c := range conns {
		select {
		case <-c.done:
		default:
			n++
		}
	}
	return n
}

type dialer struct {
	b *Broker
}

func (d dialer) Dial(ctx context.Context) (transport.Conn, error) {
	b := d.b
	b.mu.Lock()
	b.dials++
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext > 0 {
		b.failNext--
		return nil, ErrRefused
	}
	c := &Conn{b: b, done: make(chan struct{})}
	b.conns = append(b.conns, c)
	return c, nil
}

type Conn struct {
	b *Broker

	mu   sync.Mutex
	err  error
	once sync.Once
	done chan struct{}
	subs []*sub
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) Subscribe(destination string, handler transport.Handler) (transport.Subscription, error) {
	if c.closed() {
		return nil, errors.New("transporttest: subscribe on closed connection")
	}
	s := &sub{c: c, destination: destination, handler: handler}
	c.b.mu.Lock()
	c.b.subs[s] = struct{}{}
	c.b.mu.Unlock()
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s, nil
}

func (c *Conn) Send(destination string, payload []byte) error {
	if c.closed() {
		return errors.New("transporttest: send on closed connection")
	}
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.sendErr != nil {
		return c.b.sendErr
	}
	c.b.sent = append(c.b.sent, Sent{Destination: destination, Payload: append([]byte(nil), payload...)})
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

func (c *Conn) Close() error {
	c.finish(nil)
	return nil
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		subs := c.subs
		c.subs = nil
		c.mu.Unlock()
		c.b.mu.Lock()
		for _, s := range subs {
			delete(c.b.subs, s)
		}
		c.b.mu.Unlock()
		close(c.done)
	})
}

type sub struct {
	c           *Conn
	destination string
	handler     transport.Handler
}

func (s *sub) Destination() string {
	return s.destination
}

func (s *sub) Unsubscribe() error {
	s.c.b.mu.Lock()
	delete(s.c.b.subs, s)
	s.c.b.mu.Unlock()
	return nil
}
