package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoutes(t *testing.T) {
	r := DefaultRoutes()
	require.Equal(t, "/topic/chat/7", r.RoomTopic(7))
	require.Equal(t, "/user/42/queue/errors", r.UserErrorQueue(42))

	r.ErrorQueue = ""
	require.Equal(t, "", r.UserErrorQueue(42))
}
