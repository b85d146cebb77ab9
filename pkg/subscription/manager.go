// Package subscription owns the single live room subscription and the per-user
// error queue subscription.
//
// At most one room subscription exists at any time. While connected, its room is the
// session's active room. Selections made while offline are picked up from the
// session when the connection manager reports a new connection.
//
// All methods must be called from the engine loop.
package subscription

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/transport"
)

// Token identifies one subscription instance. Deliveries carry the token of the
// subscription they arrived on so late frames from a released one can be dropped.
type Token struct {
	Room chat.RoomID
	seq  uint64
}

// Connections is the part of the connection manager the subscription manager needs.
type Connections interface {
	Conn() (transport.Conn, bool)
	Generation() uint64
}

type Poster interface {
	Post(fn func()) bool
}

// DeliverFunc runs on the engine loop for each frame received on a room topic.
type DeliverFunc func(token Token, payload []byte)

// AlertFunc runs on the engine loop for each frame received on the user error queue.
type AlertFunc func(payload []byte)

type Config struct {
	Session     *session.State
	Connections Connections
	Poster      Poster
	Routes      transport.Routes
	OnMessage   DeliverFunc
	OnAlert     AlertFunc
}

type Manager struct {
	session *session.State
	conns   Connections
	poster  Poster
	routes  transport.Routes
	deliver DeliverFunc
	alert   AlertFunc
	logger  zerolog.Logger

	room     transport.Subscription
	token    Token
	errQueue transport.Subscription
	seq      uint64
	boundGen uint64
	switches int
}

func New(cfg Config) (*Manager, error) {
	if cfg.Session == nil {
		return nil, errors.New("subscription manager: session is nil")
	}
	if cfg.Connections == nil {
		return nil, errors.New("subscription manager: connections is nil")
	}
	if cfg.Poster == nil {
		return nil, errors.New("subscription manager: poster is nil")
	}
	if cfg.OnMessage == nil {
		return nil, errors.New("subscription manager: OnMessage is nil")
	}
	if cfg.Routes.TopicPrefix == "" {
		cfg.Routes = transport.DefaultRoutes()
	}
	return &Manager{
		session: cfg.Session,
		conns:   cfg.Connections,
		poster:  cfg.Poster,
		routes:  cfg.Routes,
		deliver: cfg.OnMessage,
		alert:   cfg.OnAlert,
		logger:  log.With().Str("component", "subscription").Logger(),
	}, nil
}

// Current returns the room of the live subscription, if there is one.
func (m *Manager) Current() (chat.RoomID, bool) {
	if m.room == nil {
		return chat.NoRoom, false
	}
	return m.token.Room, true
}

// IsCurrent reports whether token belongs to the live subscription.
func (m *Manager) IsCurrent(token Token) bool {
	return m.room != nil && token == m.token
}

// Switches counts subscriptions created since New, for diagnostics.
func (m *Manager) Switches() int {
	return m.switches
}

// SwitchTo moves the room subscription to room. The old subscription is released
// before the new one is created. While disconnected no subscription is created;
// HandleConnected subscribes later from the session's active room.
func (m *Manager) SwitchTo(room chat.RoomID) {
	if m.room != nil && m.token.Room == room {
		return
	}
	m.releaseRoom()
	if room == chat.NoRoom {
		return
	}
	conn, ok := m.conns.Conn()
	if !ok {
		m.logger.Debug().Stringer("room", room).Msg("not connected, subscription deferred")
		return
	}
	m.subscribeRoom(conn, room)
}

// HandleConnected re-establishes subscriptions on a fresh connection. Repeated calls
// for the same connection are no-ops.
func (m *Manager) HandleConnected() {
	conn, ok := m.conns.Conn()
	if !ok {
		return
	}
	gen := m.conns.Generation()
	if gen == m.boundGen {
		return
	}
	// handles from an earlier connection died with it
	m.drop()
	m.boundGen = gen

	m.subscribeErrors(conn)
	if room := m.session.ActiveRoom(); room != chat.NoRoom {
		m.subscribeRoom(conn, room)
	}
}

// HandleLost forgets subscriptions bound to a connection that went away.
func (m *Manager) HandleLost() {
	m.drop()
	m.boundGen = 0
}

// Release unsubscribes everything on the live connection. Used on teardown.
func (m *Manager) Release() {
	m.releaseRoom()
	if m.errQueue != nil {
		if err := m.errQueue.Unsubscribe(); err != nil {
			m.logger.Debug().Err(err).Msg("unsubscribing error queue")
		}
		m.errQueue = nil
	}
	m.boundGen = 0
}

func (m *Manager) subscribeRoom(conn transport.Conn, room chat.RoomID) {
	m.seq++
	token := Token{Room: room, seq: m.seq}
	destination := m.routes.RoomTopic(room)
	sub, err := conn.Subscribe(destination, func(payload []byte) {
		m.poster.Post(func() { m.deliver(token, payload) })
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("destination", destination).Msg("subscribe failed")
		return
	}
	m.room = sub
	m.token = token
	m.boundGen = m.conns.Generation()
	m.switches++
	m.logger.Debug().Str("destination", destination).Msg("subscribed")
}

func (m *Manager) subscribeErrors(conn transport.Conn) {
	if m.alert == nil {
		return
	}
	destination := m.routes.UserErrorQueue(m.session.Identity())
	if destination == "" {
		return
	}
	alert := m.alert
	sub, err := conn.Subscribe(destination, func(payload []byte) {
		m.poster.Post(func() { alert(payload) })
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("destination", destination).Msg("subscribe to error queue failed")
		return
	}
	m.errQueue = sub
}

func (m *Manager) releaseRoom() {
	if m.room == nil {
		return
	}
	if err := m.room.Unsubscribe(); err != nil {
		m.logger.Debug().Err(err).Str("destination", m.room.Destination()).Msg("unsubscribe failed")
	}
	m.room = nil
	m.token = Token{}
}

func (m *Manager) drop() {
	m.room = nil
	m.token = Token{}
	m.errQueue = nil
}
