// Package feed publishes the engine's render calls as events on a watermill topic,
// so a terminal UI, a headless tail, or another process can follow a session.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/view"
)

type Kind string

const (
	KindRooms    Kind = "rooms"
	KindHeader   Kind = "header"
	KindReset    Kind = "reset"
	KindMessages Kind = "messages"
	KindStatus   Kind = "status"
	KindAlert    Kind = "alert"
)

// Event is one render call. Only the fields for its Kind are set.
type Event struct {
	Kind   Kind              `json:"kind"`
	Room   chat.RoomID       `json:"room,omitempty"`
	Rooms  []view.RoomEntry  `json:"rooms,omitempty"`
	Header *view.RoomHeader  `json:"header,omitempty"`
	Rows   []view.MessageRow `json:"rows,omitempty"`
	Status string            `json:"status,omitempty"`
	Alert  *view.Alert       `json:"alert,omitempty"`
	At     time.Time         `json:"at"`
}

// Topic is the feed topic of one user's session.
func Topic(prefix string, user chat.UserID) string {
	if prefix == "" {
		prefix = "roomchat.session"
	}
	return fmt.Sprintf("%s.%d", prefix, int64(user))
}

func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s event", e.Kind)
	}
	return b, nil
}

func Decode(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, errors.Wrap(err, "decode feed event")
	}
	switch e.Kind {
	case KindRooms, KindHeader, KindReset, KindMessages, KindStatus, KindAlert:
	default:
		return Event{}, errors.Errorf("decode feed event: unknown kind %q", e.Kind)
	}
	if e.Kind == KindHeader && e.Header == nil {
		return Event{}, errors.New("decode feed event: header event without header")
	}
	if e.Kind == KindAlert && e.Alert == nil {
		return Event{}, errors.New("decode feed event: alert event without alert")
	}
	return e, nil
}
