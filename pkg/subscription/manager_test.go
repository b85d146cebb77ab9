package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/transport"
	"github.com/go-go-golems/roomchat/pkg/transport/transporttest"
)

// inline runs posted work immediately; tests drive the manager from one goroutine.
type inline struct{}

func (inline) Post(fn func()) bool {
	fn()
	return true
}

type fakeConns struct {
	conn transport.Conn
	gen  uint64
}

func (f *fakeConns) Conn() (transport.Conn, bool) {
	return f.conn, f.conn != nil
}

func (f *fakeConns) Generation() uint64 {
	return f.gen
}

type fixture struct {
	broker *transporttest.Broker
	conns  *fakeConns
	state  *session.State
	mgr    *Manager
	routes transport.Routes
	got    []string
	tokens []Token
	alerts []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := session.New(42)
	require.NoError(t, err)
	f := &fixture{
		broker: transporttest.NewBroker(),
		conns:  &fakeConns{},
		state:  st,
		routes: transport.DefaultRoutes(),
	}
	f.mgr, err = New(Config{
		Session:     st,
		Connections: f.conns,
		Poster:      inline{},
		Routes:      f.routes,
		OnMessage: func(token Token, payload []byte) {
			f.tokens = append(f.tokens, token)
			f.got = append(f.got, string(payload))
		},
		OnAlert: func(payload []byte) {
			f.alerts = append(f.alerts, string(payload))
		},
	})
	require.NoError(t, err)
	return f
}

// connect simulates the connection manager reaching connected.
func (f *fixture) connect(t *testing.T) {
	t.Helper()
	conn, err := f.broker.Dialer().Dial(context.Background())
	require.NoError(t, err)
	f.conns.conn = conn
	f.conns.gen++
	f.mgr.HandleConnected()
}

// drop simulates a transport-detected loss.
func (f *fixture) drop() {
	f.broker.DropAll()
	f.conns.conn = nil
	f.mgr.HandleLost()
}

func (f *fixture) roomSubs() []string {
	var ret []string
	for _, d := range f.broker.Subscriptions() {
		if d != f.routes.UserErrorQueue(42) {
			ret = append(ret, d)
		}
	}
	return ret
}

// selectRoom mirrors what the engine does on a room selection.
func (f *fixture) selectRoom(room chat.RoomID) {
	if _, changed := f.state.SetActiveRoom(room); changed {
		f.mgr.SwitchTo(room)
	}
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestSwitchTo_AtMostOneSubscription(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	for _, room := range []chat.RoomID{1, 2, 2, 3, 1, 1, 4} {
		f.selectRoom(room)
		subs := f.roomSubs()
		require.Len(t, subs, 1)
		require.Equal(t, f.routes.RoomTopic(f.state.ActiveRoom()), subs[0])
		current, ok := f.mgr.Current()
		require.True(t, ok)
		require.Equal(t, f.state.ActiveRoom(), current)
	}

	f.selectRoom(chat.NoRoom)
	require.Empty(t, f.roomSubs())
	_, ok := f.mgr.Current()
	require.False(t, ok)
}

func TestSwitchTo_SameRoomIsNoop(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.mgr.SwitchTo(5)
	require.Equal(t, 1, f.mgr.Switches())
	f.mgr.SwitchTo(5)
	require.Equal(t, 1, f.mgr.Switches())
	require.Equal(t, 1, f.broker.SubscriptionCount(f.routes.RoomTopic(5)))
}

func TestSwitchTo_DeferredWhileDisconnected(t *testing.T) {
	f := newFixture(t)

	f.selectRoom(7)
	require.Empty(t, f.broker.Subscriptions())
	_, ok := f.mgr.Current()
	require.False(t, ok)

	f.connect(t)
	require.Equal(t, []string{f.routes.RoomTopic(7)}, f.roomSubs())
	require.Equal(t, 1, f.broker.SubscriptionCount(f.routes.UserErrorQueue(42)))
}

func TestHandleConnected_ReconnectSubscribesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.selectRoom(3)

	f.drop()
	require.Empty(t, f.broker.Subscriptions())

	// a room picked while offline wins over the one subscribed before the drop
	f.selectRoom(4)
	f.connect(t)
	require.Equal(t, []string{f.routes.RoomTopic(4)}, f.roomSubs())

	// repeated notification for the same connection
	f.mgr.HandleConnected()
	f.mgr.HandleConnected()
	require.Equal(t, []string{f.routes.RoomTopic(4)}, f.roomSubs())
	require.Equal(t, 1, f.broker.SubscriptionCount(f.routes.UserErrorQueue(42)))
}

func TestHandleConnected_NoActiveRoom(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	require.Empty(t, f.roomSubs())
	_, ok := f.mgr.Current()
	require.False(t, ok)
}

func TestDeliveries_CarryToken(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.selectRoom(1)

	require.Equal(t, 1, f.broker.Publish(f.routes.RoomTopic(1), []byte("a")))
	require.Equal(t, 0, f.broker.Publish(f.routes.RoomTopic(2), []byte("b")))
	require.Equal(t, []string{"a"}, f.got)
	require.True(t, f.mgr.IsCurrent(f.tokens[0]))
	require.Equal(t, chat.RoomID(1), f.tokens[0].Room)

	f.selectRoom(2)
	require.False(t, f.mgr.IsCurrent(f.tokens[0]))
	f.broker.Publish(f.routes.RoomTopic(2), []byte("c"))
	require.True(t, f.mgr.IsCurrent(f.tokens[1]))

	// back to room 1: a new token, the first one stays stale
	f.selectRoom(1)
	f.broker.Publish(f.routes.RoomTopic(1), []byte("d"))
	require.False(t, f.mgr.IsCurrent(f.tokens[0]))
	require.True(t, f.mgr.IsCurrent(f.tokens[2]))
}

func TestAlerts(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.broker.Publish(f.routes.UserErrorQueue(42), []byte(`{"message":"nope"}`))
	require.Equal(t, []string{`{"message":"nope"}`}, f.alerts)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.selectRoom(9)
	require.Len(t, f.broker.Subscriptions(), 2)

	f.mgr.Release()
	require.Empty(t, f.broker.Subscriptions())
	_, ok := f.mgr.Current()
	require.False(t, ok)
}
