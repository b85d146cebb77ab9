package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/loop"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/transport/transporttest"
)

type harness struct {
	t      *testing.T
	loop   *loop.Loop
	broker *transporttest.Broker
	mgr    *Manager

	connected int
	lost      int
	statuses  []session.Status
}

func newHarness(t *testing.T, retry time.Duration) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New()
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})

	st, err := session.New(chat.UserID(42))
	require.NoError(t, err)
	b := transporttest.NewBroker()
	m, err := New(Config{
		Dialer:     b.Dialer(),
		Session:    st,
		Poster:     l,
		RetryDelay: retry,
	})
	require.NoError(t, err)

	h := &harness{t: t, loop: l, broker: b, mgr: m}
	m.OnConnected(func() { h.connected++ })
	m.OnLost(func() { h.lost++ })
	m.OnStatus(func(s session.Status) { h.statuses = append(h.statuses, s) })
	return h
}

func (h *harness) do(fn func()) {
	h.t.Helper()
	require.NoError(h.t, h.loop.Call(context.Background(), fn))
}

func (h *harness) status() session.Status {
	var s session.Status
	h.do(func() { s = h.mgr.Status() })
	return s
}

func (h *harness) counts() (connected, lost int) {
	h.do(func() { connected, lost = h.connected, h.lost })
	return
}

func (h *harness) waitStatus(want session.Status) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.status() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	b := transporttest.NewBroker()
	_, err = New(Config{Dialer: b.Dialer()})
	require.Error(t, err)

	st, err := session.New(1)
	require.NoError(t, err)
	m, err := New(Config{Dialer: b.Dialer(), Session: st, Poster: loop.New()})
	require.NoError(t, err)
	require.Equal(t, session.StatusDisconnected, m.Status())
}

func TestManager_ConnectFiresConnectedOnce(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)

	h.do(h.mgr.Connect)
	h.waitStatus(session.StatusConnected)

	// already connected: no second dial
	h.do(h.mgr.Connect)
	require.Equal(t, 1, h.broker.Dials())

	connected, lost := h.counts()
	require.Equal(t, 1, connected)
	require.Equal(t, 0, lost)

	var (
		ok       bool
		gen      uint64
		statuses []session.Status
	)
	h.do(func() {
		_, ok = h.mgr.Conn()
		gen = h.mgr.Generation()
		statuses = append(statuses, h.statuses...)
	})
	require.True(t, ok)
	require.Equal(t, uint64(1), gen)
	require.Equal(t, []session.Status{session.StatusConnecting, session.StatusConnected}, statuses)
}

func TestManager_RetriesUntilConnected(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.broker.FailNext(3)

	h.do(h.mgr.Connect)
	h.waitStatus(session.StatusConnected)
	require.Equal(t, 4, h.broker.Dials())

	connected, _ := h.counts()
	require.Equal(t, 1, connected)
}

func TestManager_StaysConnectingWhileFailing(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.broker.FailNext(1000)

	h.do(h.mgr.Connect)
	require.Eventually(t, func() bool { return h.broker.Dials() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, session.StatusConnecting, h.status())
	var ok bool
	h.do(func() { _, ok = h.mgr.Conn() })
	require.False(t, ok)
}

func TestManager_LossReconnects(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.do(h.mgr.Connect)
	h.waitStatus(session.StatusConnected)

	h.broker.DropAll()
	require.Eventually(t, func() bool {
		connected, lost := h.counts()
		return connected == 2 && lost == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, session.StatusConnected, h.status())

	var (
		gen      uint64
		statuses []session.Status
	)
	h.do(func() {
		gen = h.mgr.Generation()
		statuses = append(statuses, h.statuses...)
	})
	require.Equal(t, uint64(2), gen)
	require.Contains(t, statuses, session.StatusReconnecting)
	require.Equal(t, 1, h.broker.OpenConns())
}

func TestManager_DisconnectStopsRetrying(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.broker.FailNext(1000)

	h.do(h.mgr.Connect)
	require.Eventually(t, func() bool { return h.broker.Dials() >= 1 }, time.Second, 5*time.Millisecond)
	h.do(h.mgr.Disconnect)
	require.Equal(t, session.StatusDisconnected, h.status())

	dials := h.broker.Dials()
	time.Sleep(100 * time.Millisecond)
	// at most one in-flight dial may still land
	require.LessOrEqual(t, h.broker.Dials(), dials+1)
	require.Equal(t, session.StatusDisconnected, h.status())
}

func TestManager_DisconnectClosesLiveConnection(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.do(h.mgr.Connect)
	h.waitStatus(session.StatusConnected)

	h.do(h.mgr.Disconnect)
	require.Equal(t, session.StatusDisconnected, h.status())
	require.Equal(t, 0, h.broker.OpenConns())

	_, lost := h.counts()
	require.Equal(t, 1, lost)

	// a closed conn must not trigger a reconnect
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.broker.Dials())
}

func TestManager_DialResultAfterDisconnectIsDiscarded(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.broker.Hold()

	h.do(h.mgr.Connect)
	require.Eventually(t, func() bool { return h.broker.Dials() == 1 }, time.Second, 5*time.Millisecond)
	h.do(h.mgr.Disconnect)
	h.broker.Release()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, session.StatusDisconnected, h.status())
	require.Equal(t, 0, h.broker.OpenConns())
	connected, _ := h.counts()
	require.Equal(t, 0, connected)
}
