package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Slug names the glazed section holding the Redis settings.
const Slug = "redis"

// Settings holds Redis Streams transport configuration for the session feed.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr" validate:"required_if=Enabled true"`
	Group    string `glazed:"redis-group" validate:"required_if=Enabled true"`
	Consumer string `glazed:"redis-consumer" validate:"required_if=Enabled true"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "roomchat-ui",
		Consumer: "ui-1",
	}
}

// NewParameterLayer returns a section definition for Redis Streams settings.
func NewParameterLayer() (schema.Section, error) {
	d := DefaultSettings()
	return schema.NewSection(
		Slug,
		"Redis configuration for the session feed",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Publish the session feed to Redis Streams")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault(d.Addr),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(d.Group),
				fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault(d.Consumer),
				fields.WithHelp("Redis consumer name")),
		),
	)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate requires an address, group and consumer once Redis is enabled.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(err, "invalid redis settings")
	}
	return nil
}

func NewClient(s Settings) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: s.Addr})
}
