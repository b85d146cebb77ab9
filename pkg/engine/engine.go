// Package engine composes the session components into one controller.
//
// Every handler runs on a single loop: room selections, connection callbacks, live
// deliveries, fetch results, and sends. Fetches and dials run in their own
// goroutines and post their results back, carrying the room fence or subscription
// token they were issued under so stale results can be dropped.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/connection"
	"github.com/go-go-golems/roomchat/pkg/ingest"
	"github.com/go-go-golems/roomchat/pkg/loop"
	"github.com/go-go-golems/roomchat/pkg/outbound"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/subscription"
	"github.com/go-go-golems/roomchat/pkg/transport"
	"github.com/go-go-golems/roomchat/pkg/view"
)

// Fetcher is the request/response side of the chat server.
type Fetcher interface {
	ListRooms(ctx context.Context, user chat.UserID) ([]chat.Room, error)
	GetRoom(ctx context.Context, room chat.RoomID) (chat.Room, error)
	History(ctx context.Context, room chat.RoomID, user chat.UserID) ([]chat.Message, error)
}

type Config struct {
	Identity   chat.UserID
	Dialer     transport.Dialer
	Fetcher    Fetcher
	Renderer   view.Renderer
	Routes     transport.Routes
	RetryDelay time.Duration
	// Location is used to format message times. Defaults to time.Local.
	Location *time.Location
}

type Controller struct {
	loop     *loop.Loop
	session  *session.State
	conns    *connection.Manager
	subs     *subscription.Manager
	ingest   *ingest.Ingestor
	out      *outbound.Dispatcher
	fetcher  Fetcher
	renderer view.Renderer
	logger   zerolog.Logger

	runCtx    context.Context
	rooms     []chat.Room
	discarded int
}

// Snapshot is a copy of the controller state taken on the loop.
type Snapshot struct {
	Identity   chat.UserID
	ActiveRoom chat.RoomID
	Status     session.Status
	// Subscribed is the room of the live subscription, NoRoom if none.
	Subscribed chat.RoomID
	Generation uint64
	Rooms      []chat.Room
	// Discarded counts fetch results dropped because the selection changed.
	Discarded int
	// Malformed counts inbound frames dropped because they failed to decode.
	Malformed int
}

// New wires the components. A missing identity is fatal and returns
// session.ErrMissingIdentity.
func New(cfg Config) (*Controller, error) {
	st, err := session.New(cfg.Identity)
	if err != nil {
		return nil, err
	}
	if cfg.Dialer == nil {
		return nil, errors.New("engine: dialer is nil")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("engine: fetcher is nil")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("engine: renderer is nil")
	}
	routes := cfg.Routes
	if routes.TopicPrefix == "" {
		routes = transport.DefaultRoutes()
	}

	c := &Controller{
		loop:     loop.New(),
		session:  st,
		fetcher:  cfg.Fetcher,
		renderer: cfg.Renderer,
		logger:   log.With().Str("component", "engine").Int64("user", int64(cfg.Identity)).Logger(),
		runCtx:   context.Background(),
	}

	c.conns, err = connection.New(connection.Config{
		Dialer:     cfg.Dialer,
		Session:    st,
		Poster:     c.loop,
		RetryDelay: cfg.RetryDelay,
	})
	if err != nil {
		return nil, err
	}
	c.ingest, err = ingest.New(ingest.Config{
		Session:  st,
		Renderer: cfg.Renderer,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, err
	}
	c.subs, err = subscription.New(subscription.Config{
		Session:     st,
		Connections: c.conns,
		Poster:      c.loop,
		Routes:      routes,
		OnMessage:   c.handleLive,
		OnAlert:     c.handleAlert,
	})
	if err != nil {
		return nil, err
	}
	c.out, err = outbound.New(outbound.Config{
		Session:     st,
		Connections: c.conns,
		Destination: routes.SendDestination,
	})
	if err != nil {
		return nil, err
	}

	c.conns.OnConnected(c.subs.HandleConnected)
	c.conns.OnLost(c.subs.HandleLost)
	c.conns.OnStatus(c.renderer.RenderStatus)
	return c, nil
}

// Run loads the room list, connects, and processes events until ctx is done. On
// return the subscription is released and the connection closed.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	c.loop.Post(func() {
		c.renderer.RenderStatus(c.session.ConnectionStatus())
		c.loadRooms()
		c.conns.Connect()
	})

	err := c.loop.Run(ctx)

	// the loop has stopped; nothing else touches the components now
	c.subs.Release()
	c.conns.Disconnect()
	c.logger.Debug().Msg("session ended")
	return err
}

// SelectRoom makes room the active room. Selecting the active room does nothing.
// chat.NoRoom clears the selection.
func (c *Controller) SelectRoom(ctx context.Context, room chat.RoomID) error {
	return c.loop.Call(ctx, func() { c.selectRoom(room) })
}

// RefreshRooms refetches the room list. The result is rendered when it arrives.
func (c *Controller) RefreshRooms(ctx context.Context) error {
	return c.loop.Call(ctx, c.loadRooms)
}

// Send publishes content to the active room and returns the sent envelope or the
// reason it was rejected.
func (c *Controller) Send(ctx context.Context, content string) (chat.Envelope, error) {
	var (
		env     chat.Envelope
		sendErr error
	)
	if err := c.loop.Call(ctx, func() { env, sendErr = c.out.Send(content) }); err != nil {
		return chat.Envelope{}, err
	}
	return env, sendErr
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.loop.Call(ctx, func() {
		subscribed, _ := c.subs.Current()
		s = Snapshot{
			Identity:   c.session.Identity(),
			ActiveRoom: c.session.ActiveRoom(),
			Status:     c.session.ConnectionStatus(),
			Subscribed: subscribed,
			Generation: c.conns.Generation(),
			Rooms:      append([]chat.Room(nil), c.rooms...),
			Discarded:  c.discarded,
			Malformed:  c.ingest.Dropped(),
		}
	})
	return s, err
}

func (c *Controller) selectRoom(room chat.RoomID) {
	previous, changed := c.session.SetActiveRoom(room)
	if !changed {
		return
	}
	c.logger.Debug().Stringer("from", previous).Stringer("to", room).Msg("room selected")

	c.renderer.ResetMessages(room)
	c.renderer.RenderRooms(view.RoomEntries(c.rooms, room))
	if room == chat.NoRoom {
		c.renderer.RenderHeader(view.RoomHeader{})
		c.subs.SwitchTo(chat.NoRoom)
		return
	}
	if cached, ok := c.cachedRoom(room); ok {
		c.renderer.RenderHeader(view.HeaderFor(cached))
	}

	fence := c.session.Fence()
	c.fetchRoom(fence)
	c.fetchHistory(fence)
	c.subs.SwitchTo(room)
}

func (c *Controller) cachedRoom(id chat.RoomID) (chat.Room, bool) {
	for _, r := range c.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return chat.Room{}, false
}

func (c *Controller) loadRooms() {
	ctx := c.runCtx
	user := c.session.Identity()
	go func() {
		rooms, err := c.fetcher.ListRooms(ctx, user)
		c.loop.Post(func() {
			if err != nil {
				c.logger.Warn().Err(err).Msg("could not load rooms")
				return
			}
			c.rooms = rooms
			c.renderer.RenderRooms(view.RoomEntries(rooms, c.session.ActiveRoom()))
		})
	}()
}

func (c *Controller) fetchRoom(fence session.Fence) {
	ctx := c.runCtx
	go func() {
		room, err := c.fetcher.GetRoom(ctx, fence.Room)
		c.loop.Post(func() {
			if err != nil {
				c.logger.Warn().Err(err).Stringer("room", fence.Room).Msg("could not load room details")
				return
			}
			if !c.session.IsCurrent(fence) {
				c.discarded++
				c.logger.Debug().Stringer("room", fence.Room).Msg("discarding stale room details")
				return
			}
			c.renderer.RenderHeader(view.HeaderFor(room))
		})
	}()
}

func (c *Controller) fetchHistory(fence session.Fence) {
	ctx := c.runCtx
	user := c.session.Identity()
	go func() {
		msgs, err := c.fetcher.History(ctx, fence.Room, user)
		c.loop.Post(func() {
			if err != nil {
				c.logger.Warn().Err(err).Stringer("room", fence.Room).Msg("could not load history")
				return
			}
			if !c.ingest.History(fence, msgs) {
				c.discarded++
			}
		})
	}()
}

func (c *Controller) handleLive(token subscription.Token, payload []byte) {
	if !c.subs.IsCurrent(token) {
		c.logger.Debug().Stringer("room", token.Room).Msg("dropping message from released subscription")
		return
	}
	c.ingest.Live(token.Room, payload)
}

func (c *Controller) handleAlert(payload []byte) {
	alert, err := c.ingest.Alert(payload)
	if err != nil {
		c.logger.Warn().Err(err).Int("size", len(payload)).Msg("dropping malformed error frame")
		return
	}
	c.renderer.ShowAlert(alert)
}
