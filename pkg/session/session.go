// Package session holds the per-user state every engine component reads: who is
// logged in, which room is active, and how the connection is doing.
//
// A State is not safe for concurrent use. It is owned by the engine loop and only
// mutated from there.
package session

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/roomchat/pkg/chat"
)

var ErrMissingIdentity = errors.New("missing identity: please log in again")

// Status is the connection health as seen by the session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Fence ties an asynchronous request to the room selection it was issued under.
type Fence struct {
	Room  chat.RoomID
	epoch uint64
}

type State struct {
	identity   chat.UserID
	activeRoom chat.RoomID
	status     Status
	// epoch increments on every effective room change.
	epoch uint64
}

func New(identity chat.UserID) (*State, error) {
	if identity == 0 {
		return nil, ErrMissingIdentity
	}
	return &State{identity: identity, status: StatusDisconnected}, nil
}

func (s *State) Identity() chat.UserID {
	return s.identity
}

func (s *State) ActiveRoom() chat.RoomID {
	return s.activeRoom
}

// SetActiveRoom selects room and returns the previously active one. changed is
// false, and nothing is modified, when room is already active.
func (s *State) SetActiveRoom(room chat.RoomID) (previous chat.RoomID, changed bool) {
	previous = s.activeRoom
	if previous == room {
		return previous, false
	}
	s.activeRoom = room
	s.epoch++
	return previous, true
}

func (s *State) ConnectionStatus() Status {
	return s.status
}

// SetConnectionStatus is called by the connection manager on each transition.
func (s *State) SetConnectionStatus(status Status) {
	s.status = status
}

func (s *State) Connected() bool {
	return s.status == StatusConnected
}

// Fence captures the current selection.
func (s *State) Fence() Fence {
	return Fence{Room: s.activeRoom, epoch: s.epoch}
}

// IsCurrent reports whether no room change happened since f was taken.
func (s *State) IsCurrent(f Fence) bool {
	return f.epoch == s.epoch && f.Room == s.activeRoom
}
