package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/roomchat/pkg/chat"
)

// newViper binds a fresh root command into the global viper the way main does.
func newViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	// keep a real user config out of the way
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	viper.Reset()
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: AppName, Run: func(*cobra.Command, []string) {}}
	AddFlags(cmd)
	require.NoError(t, clay.InitViper(AppName, cmd))
	require.NoError(t, cmd.ParseFlags(args))
	return viper.GetViper()
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(newViper(t))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", s.Server)
	require.Equal(t, "ws://localhost:8080/ws-chat/websocket", s.WSURL)
	require.Equal(t, 5*time.Second, s.RetryDelay)
	require.Equal(t, "/topic/chat/", s.Routes().TopicPrefix)
	require.Equal(t, chat.UserID(0), s.Identity())
}

func TestLoad_FlagsEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server: https://chat.example.com/app/\nretry-delay: 2s\nuser-id: 7\n"), 0o600))
	t.Setenv("ROOMCHAT_USER_ID", "42")

	v := newViper(t, "--feed-prefix", "ops.feed")
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com/app", s.Server)
	require.Equal(t, "wss://chat.example.com/app/ws-chat/websocket", s.WSURL)
	require.Equal(t, 2*time.Second, s.RetryDelay)
	// the environment wins over the file
	require.Equal(t, chat.UserID(42), s.Identity())
	require.Equal(t, "ops.feed", s.FeedPrefix)
}

func TestInitViper_AddsLoggingFlags(t *testing.T) {
	newViper(t)
	cmd := &cobra.Command{Use: AppName}
	AddFlags(cmd)
	require.NoError(t, clay.InitViper(AppName, cmd))
	for _, name := range []string{"config", "log-level", "log-file"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(newViper(t, "--transport", "carrier-pigeon"))
	require.Error(t, err)

	_, err = Load(newViper(t, "--transport", "nats"))
	require.Error(t, err)

	s, err := Load(newViper(t, "--transport", "nats", "--nats-url", "nats://localhost:4222"))
	require.NoError(t, err)
	require.Equal(t, "nats", s.Transport)

	_, err = Load(newViper(t, "--server", "ftp://example.com"))
	require.Error(t, err)

	_, err = Load(newViper(t, "--retry-delay", "0s"))
	require.Error(t, err)
}

func TestDeriveWSURL(t *testing.T) {
	ws, err := DeriveWSURL("http://h:1")
	require.NoError(t, err)
	require.Equal(t, "ws://h:1/ws-chat/websocket", ws)
	ws, err = DeriveWSURL("wss://h")
	require.NoError(t, err)
	require.Equal(t, "wss://h/ws-chat/websocket", ws)
}
