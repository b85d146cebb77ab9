package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/api"
	"github.com/go-go-golems/roomchat/pkg/engine"
	"github.com/go-go-golems/roomchat/pkg/feed"
	"github.com/go-go-golems/roomchat/pkg/redisstream"
	"github.com/go-go-golems/roomchat/pkg/transport"
	"github.com/go-go-golems/roomchat/pkg/transport/natstransport"
	"github.com/go-go-golems/roomchat/pkg/transport/stomp"
	"github.com/go-go-golems/roomchat/pkg/view"
)

func (a *app) dialer() transport.Dialer {
	if a.settings.Transport == "nats" {
		return &natstransport.Dialer{URL: a.settings.NATSURL, Name: "roomchat"}
	}
	return &stomp.Dialer{URL: a.settings.WSURL}
}

func (a *app) topic() string {
	return feed.Topic(a.settings.FeedPrefix, a.settings.Identity())
}

// openBus returns the session feed bus: Redis Streams when enabled, otherwise an
// in-process channel.
func (a *app) openBus(ctx context.Context, rs redisstream.Settings) (*feed.Bus, error) {
	if !rs.Enabled {
		return feed.NewInMemory(), nil
	}
	bus, err := feed.NewRedis(ctx, rs, a.topic())
	if err != nil {
		return nil, errors.Wrap(err, "open redis feed")
	}
	log.Info().Str("addr", rs.Addr).Str("topic", a.topic()).Msg("publishing session feed to redis")
	return bus, nil
}

func (a *app) newEngine(renderer view.Renderer) (*engine.Controller, error) {
	client, err := api.NewClient(a.settings.Server)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Identity:   a.settings.Identity(),
		Dialer:     a.dialer(),
		Fetcher:    client,
		Renderer:   renderer,
		Routes:     a.settings.Routes(),
		RetryDelay: a.settings.RetryDelay,
	})
}

// ignoreCanceled treats shutdown by cancellation as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
