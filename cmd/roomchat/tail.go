package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/feed"
	"github.com/go-go-golems/roomchat/pkg/redisstream"
	"github.com/go-go-golems/roomchat/pkg/view"
)

type TailSettings struct {
	Room   int   `glazed:"room"`
	Attach bool  `glazed:"attach"`
	JSON   bool  `glazed:"json"`

	Redis redisstream.Settings
}

type TailCommand struct {
	*cmds.CommandDescription
	app *app
}

var _ cmds.WriterCommand = (*TailCommand)(nil)

func NewTailCommand(a *app) (*TailCommand, error) {
	redisLayer, err := redisstream.NewParameterLayer()
	if err != nil {
		return nil, errors.Wrap(err, "build redis layer")
	}
	return &TailCommand{
		CommandDescription: cmds.NewCommandDescription(
			"tail",
			cmds.WithShort("Print the session feed without a UI"),
			cmds.WithLong("Run a headless session and print every rendered event. With --attach, "+
				"follow the Redis feed of a session running in another process instead."),
			cmds.WithFlags(
				fields.New("room", fields.TypeInteger,
					fields.WithHelp("Room to open once started"),
					fields.WithDefault(0),
				),
				fields.New("attach", fields.TypeBool,
					fields.WithHelp("Follow another session's feed over Redis (requires --redis-enabled)"),
					fields.WithDefault(false),
				),
				fields.New("json", fields.TypeBool,
					fields.WithHelp("Print events as JSON lines"),
					fields.WithDefault(false),
				),
			),
			cmds.WithSections(redisLayer),
		),
		app: a,
	}, nil
}

func (c *TailCommand) RunIntoWriter(ctx context.Context, parsedLayers *values.Values, w io.Writer) error {
	s := &TailSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init tail settings")
	}
	if err := parsedLayers.DecodeSectionInto(redisstream.Slug, &s.Redis); err != nil {
		return errors.Wrap(err, "init redis settings")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if s.Attach {
		return c.app.runAttach(ctx, w, s)
	}
	return c.app.runTail(ctx, w, s)
}

func (a *app) runTail(ctx context.Context, w io.Writer, s *TailSettings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus, err := a.openBus(ctx, s.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	topic := a.topic()
	ctrl, err := a.newEngine(feed.NewPublisher(bus.Publisher, topic))
	if err != nil {
		return err
	}
	consume, err := feed.Subscribe(ctx, bus.Subscriber, topic, printer(w, s.JSON))
	if err != nil {
		return err
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return ignoreCanceled(ctrl.Run(ctx))
	})
	eg.Go(consume)
	if s.Room != 0 {
		eg.Go(func() error {
			return ignoreCanceled(ctrl.SelectRoom(ctx, chat.RoomID(s.Room)))
		})
	}
	return eg.Wait()
}

func (a *app) runAttach(ctx context.Context, w io.Writer, s *TailSettings) error {
	if !s.Redis.Enabled {
		return errors.New("--attach needs --redis-enabled")
	}
	// a distinct consumer group so the session's own UI keeps receiving every event
	rs := s.Redis
	rs.Group = rs.Group + "-tail"
	bus, err := feed.NewRedis(ctx, rs, a.topic())
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	log.Info().Str("topic", a.topic()).Msg("attached to session feed")
	consume, err := feed.Subscribe(ctx, bus.Subscriber, a.topic(), printer(w, s.JSON))
	if err != nil {
		return err
	}
	return consume()
}

// printer writes each event as text lines, or as one JSON line.
func printer(w io.Writer, asJSON bool) feed.HandlerFunc {
	return func(e feed.Event) error {
		if asJSON {
			b, err := json.Marshal(e)
			if err != nil {
				return errors.Wrap(err, "encode event")
			}
			_, err = fmt.Fprintln(w, string(b))
			return err
		}
		for _, line := range formatEvent(e) {
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	}
}

func formatEvent(e feed.Event) []string {
	switch e.Kind {
	case feed.KindRooms:
		lines := make([]string, 0, len(e.Rooms)+1)
		lines = append(lines, fmt.Sprintf("rooms (%d)", len(e.Rooms)))
		for _, r := range e.Rooms {
			mark := " "
			if r.Active {
				mark = "*"
			}
			lines = append(lines, fmt.Sprintf(" %s #%d %s: %s", mark, int64(r.ID), r.Name, r.Preview))
		}
		return lines
	case feed.KindHeader:
		if e.Header.Room == chat.NoRoom {
			return []string{"header cleared"}
		}
		line := fmt.Sprintf("room #%d %s", int64(e.Header.Room), e.Header.Name)
		if e.Header.Summary != "" {
			line += " (" + e.Header.Summary + ")"
		}
		return []string{line}
	case feed.KindReset:
		return []string{fmt.Sprintf("-- room #%d --", int64(e.Room))}
	case feed.KindMessages:
		lines := make([]string, 0, len(e.Rows))
		for _, row := range e.Rows {
			lines = append(lines, formatRow(row))
		}
		return lines
	case feed.KindStatus:
		return []string{"status: " + e.Status}
	case feed.KindAlert:
		return []string{fmt.Sprintf("alert (%s): %s", e.Alert.Kind, e.Alert.Message)}
	}
	return nil
}

func formatRow(row view.MessageRow) string {
	if row.Variant == view.VariantNotice {
		return "  * " + row.Content
	}
	var b strings.Builder
	b.WriteString("  ")
	if row.Time != "" {
		b.WriteString("[" + row.Time + "] ")
	}
	b.WriteString(row.SenderName)
	if row.Variant == view.VariantOwn {
		b.WriteString(" (you)")
	}
	b.WriteString(": ")
	b.WriteString(row.Content)
	return b.String()
}
