package natstransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	require.Equal(t, "topic.chat.12", Subject("/topic/chat/12"))
	require.Equal(t, "app.chat.send", Subject("/app/chat.send"))
	require.Equal(t, "user.42.queue.errors", Subject("/user/42/queue/errors"))
	require.Equal(t, "plain", Subject("plain"))
}

func TestDial_Errors(t *testing.T) {
	_, err := (&Dialer{}).Dial(context.Background())
	require.Error(t, err)

	d := &Dialer{URL: "nats://127.0.0.1:1", Timeout: 200 * time.Millisecond}
	_, err = d.Dial(context.Background())
	require.Error(t, err)
}
