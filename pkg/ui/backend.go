package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/feed"
)

// Backend is the part of the session engine the UI drives. *engine.Controller
// implements it.
type Backend interface {
	SelectRoom(ctx context.Context, room chat.RoomID) error
	RefreshRooms(ctx context.Context) error
	Send(ctx context.Context, content string) (chat.Envelope, error)
}

// EventMsg carries one feed event into the bubbletea program.
type EventMsg struct {
	Event feed.Event
}

// ForwardFunc forwards feed events to the UI by injecting them into the program p.
// Send blocks until the program takes the message, so the order of the feed is
// the order of the UI.
func ForwardFunc(p *tea.Program) feed.HandlerFunc {
	return func(e feed.Event) error {
		log.Trace().Str("component", "ui").Str("kind", string(e.Kind)).Msg("dispatching event to UI")
		p.Send(EventMsg{Event: e})
		return nil
	}
}
