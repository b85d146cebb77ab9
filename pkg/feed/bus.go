package feed

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/redisstream"
)

// Bus pairs the publisher the engine renders into with the subscriber front ends
// read from.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

// NewInMemory returns a bus for a single process. Publishing blocks until the
// subscriber acknowledges, so events keep their order.
func NewInMemory() *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(log.Logger.With().Str("component", "feed").Logger()))
	return &Bus{
		Publisher:  ch,
		Subscriber: ch,
		closers:    []func() error{ch.Close},
	}
}

// NewRedis returns a bus backed by Redis Streams, so the feed can be followed from
// another process. The consumer group is created at the stream tail.
func NewRedis(ctx context.Context, s redisstream.Settings, topic string) (*Bus, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	client := redisstream.NewClient(s)
	logger := NewWatermillLogger(log.Logger.With().Str("component", "feed").Logger())

	if err := redisstream.EnsureGroupAtTail(ctx, client, topic, s.Group); err != nil {
		_ = client.Close()
		return nil, err
	}
	pub, err := redisstream.BuildPublisher(client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	sub, err := redisstream.BuildSubscriber(client, s.Group, s.Consumer, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, err
	}
	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

func (b *Bus) Close() error {
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// HandlerFunc receives each decoded event in order.
type HandlerFunc func(e Event) error

// Subscribe opens topic and returns a function that feeds its events to fn until
// ctx is done. Subscribing before the engine starts publishing guarantees no event
// is missed.
func Subscribe(ctx context.Context, sub message.Subscriber, topic string, fn HandlerFunc) (func() error, error) {
	ch, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe to %s", topic)
	}
	return func() error {
		return consume(ch, fn)
	}, nil
}

func consume(ch <-chan *message.Message, fn HandlerFunc) error {
	logger := log.With().Str("component", "feed").Logger()
	for msg := range ch {
		e, err := Decode(msg.Payload)
		if err != nil {
			logger.Warn().Err(err).Str("uuid", msg.UUID).Msg("dropping undecodable feed event")
			msg.Ack()
			continue
		}
		if err := fn(e); err != nil {
			logger.Warn().Err(err).Str("kind", string(e.Kind)).Msg("feed handler failed")
		}
		msg.Ack()
	}
	return nil
}
