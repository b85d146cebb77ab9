// Package outbound validates composed messages and publishes them on the live
// connection. Failed sends are reported, never retried.
package outbound

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/transport"
)

var (
	ErrNoActiveRoom   = errors.New("no room selected")
	ErrNotConnected   = errors.New("not connected")
	ErrEmptyContent   = errors.New("message is empty")
	ErrContentTooLong = errors.Errorf("message exceeds %d characters", chat.MaxContentLength)
)

// Connections yields the live connection, if any.
type Connections interface {
	Conn() (transport.Conn, bool)
}

type Config struct {
	Session     *session.State
	Connections Connections
	// Destination defaults to the standard send destination.
	Destination string
}

type Dispatcher struct {
	session     *session.State
	conns       Connections
	destination string
	validate    *validator.Validate
	logger      zerolog.Logger
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Session == nil {
		return nil, errors.New("dispatcher: session is nil")
	}
	if cfg.Connections == nil {
		return nil, errors.New("dispatcher: connections is nil")
	}
	destination := cfg.Destination
	if destination == "" {
		destination = transport.DefaultRoutes().SendDestination
	}
	return &Dispatcher{
		session:     cfg.Session,
		conns:       cfg.Connections,
		destination: destination,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      log.With().Str("component", "outbound").Logger(),
	}, nil
}

// Send publishes content to the active room. Preconditions are checked in order:
// a room is selected, the connection is up, and the trimmed content is not empty.
// On success the sent envelope is returned.
func (d *Dispatcher) Send(content string) (chat.Envelope, error) {
	room := d.session.ActiveRoom()
	if room == chat.NoRoom {
		return chat.Envelope{}, ErrNoActiveRoom
	}
	conn, ok := d.conns.Conn()
	if !ok || !d.session.Connected() {
		return chat.Envelope{}, ErrNotConnected
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Envelope{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > chat.MaxContentLength {
		return chat.Envelope{}, ErrContentTooLong
	}

	env := chat.Envelope{
		RoomID:   room,
		SenderID: d.session.Identity(),
		Content:  content,
		Type:     chat.TypeChat,
	}
	if err := d.validate.Struct(env); err != nil {
		return chat.Envelope{}, errors.Wrap(err, "invalid envelope")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return chat.Envelope{}, errors.Wrap(err, "encode envelope")
	}
	if err := conn.Send(d.destination, payload); err != nil {
		d.logger.Warn().Err(err).Stringer("room", room).Msg("send failed")
		return chat.Envelope{}, errors.Wrap(err, "send failed")
	}
	d.logger.Debug().Stringer("room", room).Int("size", len(payload)).Msg("sent")
	return env, nil
}
