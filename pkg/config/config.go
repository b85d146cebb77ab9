// Package config decodes the roomchat connection settings that clay.InitViper
// binds from flags, ROOMCHAT_* environment variables and the config file.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/transport"
)

const (
	AppName   = "roomchat"
	EnvPrefix = "ROOMCHAT"

	// WebSocketPath is the STOMP endpoint relative to the server URL.
	WebSocketPath = "/ws-chat/websocket"
)

type Settings struct {
	Server          string        `mapstructure:"server" validate:"required,url"`
	WSURL           string        `mapstructure:"ws-url" validate:"omitempty,url"`
	Transport       string        `mapstructure:"transport" validate:"oneof=stomp nats"`
	NATSURL         string        `mapstructure:"nats-url" validate:"required_if=Transport nats"`
	UserID          int64         `mapstructure:"user-id" validate:"gte=0"`
	RetryDelay      time.Duration `mapstructure:"retry-delay" validate:"gt=0"`
	TopicPrefix     string        `mapstructure:"topic-prefix" validate:"required"`
	SendDestination string        `mapstructure:"send-destination" validate:"required"`
	ErrorQueue      string        `mapstructure:"error-queue"`
	FeedPrefix      string        `mapstructure:"feed-prefix"`
}

// Identity is the configured user id. Zero means none was given.
func (s Settings) Identity() chat.UserID {
	return chat.UserID(s.UserID)
}

func (s Settings) Routes() transport.Routes {
	return transport.Routes{
		TopicPrefix:     s.TopicPrefix,
		SendDestination: s.SendDestination,
		ErrorQueue:      s.ErrorQueue,
	}
}

func Defaults() Settings {
	routes := transport.DefaultRoutes()
	return Settings{
		Server:          "http://localhost:8080",
		Transport:       "stomp",
		RetryDelay:      5 * time.Second,
		TopicPrefix:     routes.TopicPrefix,
		SendDestination: routes.SendDestination,
		ErrorQueue:      routes.ErrorQueue,
		FeedPrefix:      "roomchat.session",
	}
}

// AddFlags registers the connection settings as persistent flags on cmd. Logging
// flags and --config are added by clay.InitViper, which must run afterwards so
// these flags are bound too.
func AddFlags(cmd *cobra.Command) {
	d := Defaults()
	f := cmd.PersistentFlags()
	f.String("server", d.Server, "Chat server base URL")
	f.String("ws-url", "", "WebSocket STOMP endpoint (default: derived from --server)")
	f.String("transport", d.Transport, "Realtime transport: stomp or nats")
	f.String("nats-url", "", "NATS server URL when --transport=nats")
	f.Int64("user-id", 0, "Logged-in user id")
	f.Duration("retry-delay", d.RetryDelay, "Delay between connection attempts")
	f.String("topic-prefix", d.TopicPrefix, "Room topic prefix")
	f.String("send-destination", d.SendDestination, "Destination for outgoing messages")
	f.String("error-queue", d.ErrorQueue, "Per-user error queue (format string taking the user id, empty to disable)")
	f.String("feed-prefix", d.FeedPrefix, "Session feed topic prefix")
}

// DefaultTUILogFile is where the interactive UI logs when no --log-file is given.
func DefaultTUILogFile() string {
	return filepath.Join(os.TempDir(), AppName+".log")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads Settings from v, fills derived values, and validates them.
func Load(v *viper.Viper) (Settings, error) {
	s := Defaults()
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	s.Server = strings.TrimRight(strings.TrimSpace(s.Server), "/")
	if s.WSURL == "" && s.Server != "" {
		ws, err := DeriveWSURL(s.Server)
		if err != nil {
			return Settings{}, err
		}
		s.WSURL = ws
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	return nil
}

// DeriveWSURL maps http(s)://host/base to ws(s)://host/base/ws-chat/websocket.
func DeriveWSURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", errors.Wrap(err, "invalid server URL")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + WebSocketPath
	return u.String(), nil
}
