package view

import (
	"sync"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
)

// Recorder is an in-memory Renderer. It keeps the latest state of each view section
// and is safe to read from other goroutines.
type Recorder struct {
	mu       sync.Mutex
	rooms    []RoomEntry
	header   RoomHeader
	room     chat.RoomID
	messages []MessageRow
	statuses []session.Status
	alerts   []Alert
	resets   int
}

var _ Renderer = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RenderRooms(rooms []RoomEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append([]RoomEntry(nil), rooms...)
}

func (r *Recorder) RenderHeader(header RoomHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.header = header
}

func (r *Recorder) ResetMessages(room chat.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.room = room
	r.messages = nil
	r.resets++
}

func (r *Recorder) AppendMessages(room chat.RoomID, rows []MessageRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room != r.room {
		r.room = room
		r.messages = nil
	}
	r.messages = append(r.messages, rows...)
}

func (r *Recorder) RenderStatus(status session.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *Recorder) ShowAlert(alert Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func (r *Recorder) Rooms() []RoomEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RoomEntry(nil), r.rooms...)
}

func (r *Recorder) Header() RoomHeader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header
}

// Messages returns the room whose pane is shown and its rows in render order.
func (r *Recorder) Messages() (chat.RoomID, []MessageRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.room, append([]MessageRow(nil), r.messages...)
}

func (r *Recorder) Statuses() []session.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Status(nil), r.statuses...)
}

func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

func (r *Recorder) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}
