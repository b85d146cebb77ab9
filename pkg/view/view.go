// Package view defines the boundary between the session engine and whatever draws
// it: structured view-models and the Renderer that consumes them.
package view

import (
	"time"

	"github.com/samber/lo"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
)

// Variant selects how a message row is styled.
type Variant string

const (
	VariantOwn    Variant = "own"
	VariantOther  Variant = "other"
	VariantNotice Variant = "notice"
)

const (
	NoMessagesPreview = "No messages yet"
	UnknownSender     = "Unknown"
)

type RoomEntry struct {
	ID      chat.RoomID `json:"id"`
	Name    string      `json:"name"`
	Preview string      `json:"preview"`
	Active  bool        `json:"active,omitempty"`
}

type RoomHeader struct {
	Room    chat.RoomID `json:"room"`
	Name    string      `json:"name"`
	Summary string      `json:"summary,omitempty"`
}

// MessageRow is a rendered message. Notice rows carry content only.
type MessageRow struct {
	ID         string      `json:"id,omitempty"`
	Room       chat.RoomID `json:"room"`
	Variant    Variant     `json:"variant"`
	SenderName string      `json:"senderName,omitempty"`
	Time       string      `json:"time,omitempty"`
	Content    string      `json:"content"`
	SentAt     time.Time   `json:"sentAt,omitempty"`
}

type AlertKind string

const (
	// AlertSend reports a rejected or failed send.
	AlertSend AlertKind = "send"
	// AlertSession reports a session-level problem such as a missing identity.
	AlertSession AlertKind = "session"
)

type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Renderer receives view-models from the engine loop. Calls are serialized; an
// implementation that hands them to another goroutine must copy what it keeps.
type Renderer interface {
	RenderRooms(rooms []RoomEntry)
	RenderHeader(header RoomHeader)
	// ResetMessages clears the message pane for room.
	ResetMessages(room chat.RoomID)
	// AppendMessages adds rows at the end of room's message pane.
	AppendMessages(room chat.RoomID, rows []MessageRow)
	RenderStatus(status session.Status)
	ShowAlert(alert Alert)
}

// RoomEntries builds the room list, marking active.
func RoomEntries(rooms []chat.Room, active chat.RoomID) []RoomEntry {
	return lo.Map(rooms, func(r chat.Room, _ int) RoomEntry {
		preview := NoMessagesPreview
		if r.LastMessage != nil && r.LastMessage.Content != "" {
			preview = r.LastMessage.Content
		}
		return RoomEntry{
			ID:      r.ID,
			Name:    r.DisplayName(),
			Preview: preview,
			Active:  r.ID != chat.NoRoom && r.ID == active,
		}
	})
}

func HeaderFor(room chat.Room) RoomHeader {
	return RoomHeader{
		Room:    room.ID,
		Name:    room.DisplayName(),
		Summary: room.ParticipantSummary(),
	}
}
