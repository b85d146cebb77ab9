// Package transport describes the persistent publish/subscribe connection the session
// engine talks to. Implementations live in the stomp and natstransport subpackages.
package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/roomchat/pkg/chat"
)

// Handler receives the raw body of one inbound frame. It is called from the
// transport's read goroutine and must not block.
type Handler func(payload []byte)

type Dialer interface {
	// Dial establishes a connection. It returns once the connection is usable.
	Dial(ctx context.Context) (Conn, error)
}

type Conn interface {
	Subscribe(destination string, handler Handler) (Subscription, error)
	Send(destination string, payload []byte) error
	// Done is closed when the connection ends for any reason, including Close.
	Done() <-chan struct{}
	// Err reports why the connection ended, nil after a clean Close.
	Err() error
	Close() error
}

type Subscription interface {
	Destination() string
	Unsubscribe() error
}

// Routes names the destinations used by the engine.
type Routes struct {
	// TopicPrefix is followed by the room id, e.g. /topic/chat/12.
	TopicPrefix string
	// SendDestination receives outbound envelopes.
	SendDestination string
	// ErrorQueue is a format string taking the user id. Empty disables the queue.
	ErrorQueue string
}

func DefaultRoutes() Routes {
	return Routes{
		TopicPrefix:     "/topic/chat/",
		SendDestination: "/app/chat.send",
		ErrorQueue:      "/user/%d/queue/errors",
	}
}

func (r Routes) RoomTopic(room chat.RoomID) string {
	return r.TopicPrefix + room.String()
}

func (r Routes) UserErrorQueue(user chat.UserID) string {
	if strings.TrimSpace(r.ErrorQueue) == "" {
		return ""
	}
	return fmt.Sprintf(r.ErrorQueue, int64(user))
}
