// Package ingest turns inbound payloads into message rows and hands them to the
// renderer, provided the room they belong to is still the active one.
//
// Rows are appended in arrival order. History batches and live messages for the
// same room are not merged or reordered: a live message that arrives before the
// history fetch resolves is shown above the history.
package ingest

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/view"
)

var ErrMalformed = errors.New("malformed inbound payload")

const DefaultTimeFormat = "15:04"

type Config struct {
	Session  *session.State
	Renderer view.Renderer
	// Location is used for row times. Defaults to time.Local.
	Location   *time.Location
	TimeFormat string
}

type Ingestor struct {
	session  *session.State
	renderer view.Renderer
	loc      *time.Location
	format   string
	logger   zerolog.Logger

	dropped int
}

func New(cfg Config) (*Ingestor, error) {
	if cfg.Session == nil {
		return nil, errors.New("ingestor: session is nil")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("ingestor: renderer is nil")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	format := cfg.TimeFormat
	if format == "" {
		format = DefaultTimeFormat
	}
	return &Ingestor{
		session:  cfg.Session,
		renderer: cfg.Renderer,
		loc:      loc,
		format:   format,
		logger:   log.With().Str("component", "ingest").Logger(),
	}, nil
}

// Decode parses one live payload.
func (i *Ingestor) Decode(raw []byte) (chat.Message, error) {
	msg, err := chat.DecodeMessage(raw)
	if err != nil {
		return chat.Message{}, errors.Wrap(ErrMalformed, err.Error())
	}
	return msg, nil
}

// Classify builds the row for msg. Notices carry content only; chat messages are
// own when sent by the session identity.
func (i *Ingestor) Classify(msg chat.Message) view.MessageRow {
	row := view.MessageRow{
		ID:      msg.ID,
		Room:    msg.RoomID,
		Content: msg.Content,
	}
	if msg.Type.IsNotice() {
		row.Variant = view.VariantNotice
		return row
	}
	row.Variant = view.VariantOther
	if msg.SenderID == i.session.Identity() {
		row.Variant = view.VariantOwn
	}
	row.SenderName = msg.SenderName
	if row.SenderName == "" {
		row.SenderName = view.UnknownSender
	}
	row.SentAt = msg.SentAt
	row.Time = i.formatTime(msg.SentAt)
	return row
}

// Live renders one frame received on room's subscription. Frames for a room that is
// no longer active, or that fail to decode, are dropped. It reports whether the
// message was rendered.
func (i *Ingestor) Live(room chat.RoomID, raw []byte) bool {
	if room != i.session.ActiveRoom() {
		i.logger.Debug().Stringer("room", room).Msg("dropping live message for inactive room")
		return false
	}
	msg, err := i.Decode(raw)
	if err != nil {
		i.dropped++
		i.logger.Warn().Err(err).Int("size", len(raw)).Stringer("room", room).Msg("dropping malformed message")
		return false
	}
	if msg.RoomID == chat.NoRoom {
		msg.RoomID = room
	}
	if msg.RoomID != room {
		i.dropped++
		i.logger.Warn().Stringer("room", room).Stringer("message_room", msg.RoomID).Msg("dropping message addressed to another room")
		return false
	}
	i.renderer.AppendMessages(room, []view.MessageRow{i.Classify(msg)})
	return true
}

// History renders a fetched batch if the selection it was requested under is still
// current. It reports whether the batch was rendered.
func (i *Ingestor) History(fence session.Fence, msgs []chat.Message) bool {
	if !i.session.IsCurrent(fence) {
		i.logger.Debug().Stringer("room", fence.Room).Int("messages", len(msgs)).Msg("discarding stale history")
		return false
	}
	if len(msgs) == 0 {
		return true
	}
	rows := lo.FilterMap(msgs, func(m chat.Message, _ int) (view.MessageRow, bool) {
		if m.RoomID == chat.NoRoom {
			m.RoomID = fence.Room
		}
		if m.RoomID != fence.Room {
			i.dropped++
			i.logger.Warn().Stringer("room", fence.Room).Stringer("message_room", m.RoomID).Msg("dropping history entry addressed to another room")
			return view.MessageRow{}, false
		}
		return i.Classify(m), true
	})
	if len(rows) > 0 {
		i.renderer.AppendMessages(fence.Room, rows)
	}
	return true
}

// Alert decodes a frame from the user error queue.
func (i *Ingestor) Alert(raw []byte) (view.Alert, error) {
	e, err := chat.DecodeServerError(raw)
	if err != nil {
		i.dropped++
		return view.Alert{}, errors.Wrap(ErrMalformed, err.Error())
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return view.Alert{Kind: view.AlertSend, Message: e.Message, At: at}, nil
}

// Dropped counts payloads discarded as malformed or misrouted.
func (i *Ingestor) Dropped() int {
	return i.dropped
}

func (i *Ingestor) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(i.loc).Format(i.format)
}
