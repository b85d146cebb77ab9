package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/roomchat/pkg/chat"
)

func TestNew_RequiresIdentity(t *testing.T) {
	_, err := New(0)
	require.ErrorIs(t, err, ErrMissingIdentity)

	s, err := New(42)
	require.NoError(t, err)
	require.Equal(t, chat.UserID(42), s.Identity())
	require.Equal(t, chat.NoRoom, s.ActiveRoom())
	require.Equal(t, StatusDisconnected, s.ConnectionStatus())
}

func TestSetActiveRoom_ReturnsPrevious(t *testing.T) {
	s, err := New(1)
	require.NoError(t, err)

	prev, changed := s.SetActiveRoom(5)
	require.True(t, changed)
	require.Equal(t, chat.NoRoom, prev)

	prev, changed = s.SetActiveRoom(5)
	require.False(t, changed)
	require.Equal(t, chat.RoomID(5), prev)

	prev, changed = s.SetActiveRoom(6)
	require.True(t, changed)
	require.Equal(t, chat.RoomID(5), prev)
	require.Equal(t, chat.RoomID(6), s.ActiveRoom())
}

func TestFence(t *testing.T) {
	s, err := New(1)
	require.NoError(t, err)

	s.SetActiveRoom(1)
	fenceA := s.Fence()
	require.True(t, s.IsCurrent(fenceA))

	// no-op selection keeps the fence valid
	s.SetActiveRoom(1)
	require.True(t, s.IsCurrent(fenceA))

	s.SetActiveRoom(2)
	require.False(t, s.IsCurrent(fenceA))

	// coming back to the same room does not revive an old request
	s.SetActiveRoom(1)
	require.False(t, s.IsCurrent(fenceA))
	require.True(t, s.IsCurrent(s.Fence()))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "disconnected", StatusDisconnected.String())
	require.Equal(t, "connecting", StatusConnecting.String())
	require.Equal(t, "connected", StatusConnected.String())
	require.Equal(t, "reconnecting", StatusReconnecting.String())
	require.Equal(t, "unknown", Status(99).String())
}

func TestConnected(t *testing.T) {
	s, err := New(1)
	require.NoError(t, err)
	require.False(t, s.Connected())
	s.SetConnectionStatus(StatusConnected)
	require.True(t, s.Connected())
}
