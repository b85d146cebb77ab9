package feed

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/view"
)

// Publisher is a view.Renderer that turns each call into an Event on topic.
// Publish failures are logged; rendering never fails the engine.
type Publisher struct {
	pub    message.Publisher
	topic  string
	logger zerolog.Logger
	now    func() time.Time
}

var _ view.Renderer = (*Publisher)(nil)

func NewPublisher(pub message.Publisher, topic string) *Publisher {
	return &Publisher{
		pub:    pub,
		topic:  topic,
		logger: log.With().Str("component", "feed").Str("topic", topic).Logger(),
		now:    time.Now,
	}
}

func (p *Publisher) RenderRooms(rooms []view.RoomEntry) {
	p.publish(Event{Kind: KindRooms, Rooms: rooms})
}

func (p *Publisher) RenderHeader(header view.RoomHeader) {
	p.publish(Event{Kind: KindHeader, Room: header.Room, Header: &header})
}

func (p *Publisher) ResetMessages(room chat.RoomID) {
	p.publish(Event{Kind: KindReset, Room: room})
}

func (p *Publisher) AppendMessages(room chat.RoomID, rows []view.MessageRow) {
	p.publish(Event{Kind: KindMessages, Room: room, Rows: rows})
}

func (p *Publisher) RenderStatus(status session.Status) {
	p.publish(Event{Kind: KindStatus, Status: status.String()})
}

func (p *Publisher) ShowAlert(alert view.Alert) {
	p.publish(Event{Kind: KindAlert, Alert: &alert})
}

func (p *Publisher) publish(e Event) {
	e.At = p.now()
	payload, err := Encode(e)
	if err != nil {
		p.logger.Error().Err(err).Msg("dropping feed event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("kind", string(e.Kind))
	if err := p.pub.Publish(p.topic, msg); err != nil {
		p.logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("publish failed")
	}
}
