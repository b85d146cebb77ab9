// Package chat holds the read-only values the session engine moves around: rooms,
// messages, and the outbound envelope.
//
// Values are snapshots. The engine replaces them when a newer payload arrives and
// never mutates one in place.
package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// UserID identifies the logged-in user and message senders.
type UserID int64

// RoomID identifies a conversation channel. NoRoom means no room is selected.
type RoomID int64

const NoRoom RoomID = 0

func (r RoomID) String() string {
	return strconv.FormatInt(int64(r), 10)
}

// MessageType tags how a message is rendered.
type MessageType string

const (
	TypeChat   MessageType = "chat"
	TypeJoin   MessageType = "join"
	TypeLeave  MessageType = "leave"
	TypeSystem MessageType = "system"
)

var ErrUnknownMessageType = errors.New("unknown message type")

// IsNotice reports whether the type renders as a room-wide notice without sender styling.
func (t MessageType) IsNotice() bool {
	return t == TypeJoin || t == TypeLeave || t == TypeSystem
}

// ParseMessageType accepts both the lower-case canonical values and the upper-case
// legacy ones. An empty value is a chat message; TEXT is the legacy spelling of chat.
func ParseMessageType(s string) (MessageType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "chat", "text":
		return TypeChat, nil
	case "join":
		return TypeJoin, nil
	case "leave":
		return TypeLeave, nil
	case "system":
		return TypeSystem, nil
	}
	return "", errors.Wrapf(ErrUnknownMessageType, "%q", s)
}

// Message is one entry of a room's stream, either from history or live delivery.
type Message struct {
	// ID is server-assigned and may be empty for freshly broadcast messages.
	ID         string
	RoomID     RoomID
	SenderID   UserID
	SenderName string
	Content    string
	Type       MessageType
	SentAt     time.Time
}

// Room is a snapshot of a conversation channel as returned by the room API.
type Room struct {
	ID               RoomID
	Name             string
	Participants     []string
	ParticipantCount int
	LastMessage      *Message
}

// ParticipantSummary renders participant names when known, else a count, else nothing.
func (r Room) ParticipantSummary() string {
	if len(r.Participants) > 0 {
		return strings.Join(r.Participants, ", ")
	}
	if r.ParticipantCount > 0 {
		return fmt.Sprintf("%d participants", r.ParticipantCount)
	}
	return ""
}

// DisplayName falls back to a generic label for unnamed rooms.
func (r Room) DisplayName() string {
	if strings.TrimSpace(r.Name) == "" {
		return "Chat"
	}
	return r.Name
}

// MaxContentLength mirrors the server-side limit on message bodies, in runes.
const MaxContentLength = 5000

// Envelope is the flat payload sent to the application send destination.
type Envelope struct {
	RoomID   RoomID      `json:"roomId" validate:"required"`
	SenderID UserID      `json:"senderId" validate:"required"`
	Content  string      `json:"content" validate:"required,max=5000"`
	Type     MessageType `json:"type" validate:"oneof=chat join leave system"`
}
