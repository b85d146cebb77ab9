package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// The canonical wire shape uses id/roomId/senderName/sentAt and lower-case types.
// Older servers send chatId/chatName/senderUsername/timestamp and upper-case types;
// adaptLegacy folds those into the canonical fields before conversion.

type wireMessage struct {
	ID         json.RawMessage `json:"id"`
	RoomID     RoomID          `json:"roomId"`
	SenderID   UserID          `json:"senderId"`
	SenderName string          `json:"senderName"`
	Content    string          `json:"content"`
	Type       string          `json:"type"`
	SentAt     json.RawMessage `json:"sentAt"`

	LegacyID             json.RawMessage `json:"messageId"`
	LegacyChatID         RoomID          `json:"chatId"`
	LegacySenderUsername string          `json:"senderUsername"`
	LegacyTimestamp      json.RawMessage `json:"timestamp"`
	LegacyTS             json.RawMessage `json:"ts"`
}

type wireRoom struct {
	ID               RoomID       `json:"id"`
	Name             string       `json:"name"`
	Participants     []string     `json:"participants"`
	ParticipantCount int          `json:"participantCount"`
	LastMessage      *wireMessage `json:"lastMessage"`

	LegacyChatID       RoomID   `json:"chatId"`
	LegacyChatName     string   `json:"chatName"`
	LegacyParticipants []string `json:"participantUsernames"`
}

func (w *wireMessage) adaptLegacy() {
	if isEmptyRaw(w.ID) {
		w.ID = w.LegacyID
	}
	if w.RoomID == NoRoom {
		w.RoomID = w.LegacyChatID
	}
	if w.SenderName == "" {
		w.SenderName = w.LegacySenderUsername
	}
	if isEmptyRaw(w.SentAt) {
		w.SentAt = w.LegacyTimestamp
	}
	if isEmptyRaw(w.SentAt) {
		w.SentAt = w.LegacyTS
	}
}

func (w *wireRoom) adaptLegacy() {
	if w.ID == NoRoom {
		w.ID = w.LegacyChatID
	}
	if w.Name == "" {
		w.Name = w.LegacyChatName
	}
	if len(w.Participants) == 0 {
		w.Participants = w.LegacyParticipants
	}
}

func (w wireMessage) toMessage() (Message, error) {
	w.adaptLegacy()
	typ, err := ParseMessageType(w.Type)
	if err != nil {
		return Message{}, err
	}
	sentAt, err := parseTimestamp(w.SentAt)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:         rawID(w.ID),
		RoomID:     w.RoomID,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		Content:    w.Content,
		Type:       typ,
		SentAt:     sentAt,
	}, nil
}

func (w wireRoom) toRoom() (Room, error) {
	w.adaptLegacy()
	if w.ID == NoRoom {
		return Room{}, errors.New("room without id")
	}
	room := Room{
		ID:               w.ID,
		Name:             w.Name,
		Participants:     append([]string(nil), w.Participants...),
		ParticipantCount: w.ParticipantCount,
	}
	if w.LastMessage != nil {
		last, err := w.LastMessage.toMessage()
		if err != nil {
			return Room{}, errors.Wrap(err, "last message")
		}
		room.LastMessage = &last
	}
	return room, nil
}

// DecodeMessage parses one message payload in either wire shape.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, errors.Wrap(err, "decode message")
	}
	msg, err := w.toMessage()
	if err != nil {
		return Message{}, errors.Wrap(err, "decode message")
	}
	return msg, nil
}

// DecodeMessages parses a history batch. A JSON null is an empty batch.
func DecodeMessages(data []byte) ([]Message, error) {
	var ws []wireMessage
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	msgs := make([]Message, 0, len(ws))
	for i, w := range ws {
		msg, err := w.toMessage()
		if err != nil {
			return nil, errors.Wrapf(err, "decode messages: entry %d", i)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func DecodeRoom(data []byte) (Room, error) {
	var w wireRoom
	if err := json.Unmarshal(data, &w); err != nil {
		return Room{}, errors.Wrap(err, "decode room")
	}
	room, err := w.toRoom()
	if err != nil {
		return Room{}, errors.Wrap(err, "decode room")
	}
	return room, nil
}

func DecodeRooms(data []byte) ([]Room, error) {
	var ws []wireRoom
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, errors.Wrap(err, "decode rooms")
	}
	rooms := make([]Room, 0, len(ws))
	for i, w := range ws {
		room, err := w.toRoom()
		if err != nil {
			return nil, errors.Wrapf(err, "decode rooms: entry %d", i)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// localDateTime is the zone-less layout older servers serialize timestamps with.
const localDateTime = "2006-01-02T15:04:05.999999999"

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if isEmptyRaw(raw) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return time.Time{}, errors.Errorf("unsupported timestamp %s", string(raw))
		}
		return time.UnixMilli(ms), nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localDateTime, s, time.Local)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse timestamp %q", s)
	}
	return t, nil
}

func rawID(raw json.RawMessage) string {
	if isEmptyRaw(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strconv.Quote(string(raw))
}

func isEmptyRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// ServerError is a frame from the per-user error queue, sent when the server
// rejects something the client published.
type ServerError struct {
	Message string
	At      time.Time
}

func DecodeServerError(data []byte) (ServerError, error) {
	var w struct {
		Message   string          `json:"message"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return ServerError{}, errors.Wrap(err, "decode server error")
	}
	if strings.TrimSpace(w.Message) == "" {
		return ServerError{}, errors.New("decode server error: empty message")
	}
	at, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return ServerError{}, errors.Wrap(err, "decode server error")
	}
	return ServerError{Message: w.Message, At: at}, nil
}
