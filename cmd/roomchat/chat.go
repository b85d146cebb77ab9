package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/roomchat/pkg/feed"
	"github.com/go-go-golems/roomchat/pkg/redisstream"
	"github.com/go-go-golems/roomchat/pkg/ui"
)

type ChatSettings struct {
	Markdown bool `glazed:"markdown"`

	Redis redisstream.Settings
}

type ChatCommand struct {
	*cmds.CommandDescription
	app *app
}

var _ cmds.BareCommand = (*ChatCommand)(nil)

func NewChatCommand(a *app) (*ChatCommand, error) {
	redisLayer, err := redisstream.NewParameterLayer()
	if err != nil {
		return nil, errors.Wrap(err, "build redis layer")
	}
	return &ChatCommand{
		CommandDescription: cmds.NewCommandDescription(
			"chat",
			cmds.WithShort("Open the interactive chat UI"),
			cmds.WithFlags(
				fields.New("markdown", fields.TypeBool,
					fields.WithHelp("Render message content as markdown"),
					fields.WithDefault(false),
				),
			),
			cmds.WithSections(redisLayer),
		),
		app: a,
	}, nil
}

func (c *ChatCommand) Run(ctx context.Context, parsedLayers *values.Values) error {
	s := &ChatSettings{}
	if err := parsedLayers.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init chat settings")
	}
	if err := parsedLayers.DecodeSectionInto(redisstream.Slug, &s.Redis); err != nil {
		return errors.Wrap(err, "init redis settings")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.app.runChat(ctx, s)
}

func (a *app) runChat(ctx context.Context, s *ChatSettings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus, err := a.openBus(ctx, s.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("closing feed bus")
		}
	}()

	topic := a.topic()
	ctrl, err := a.newEngine(feed.NewPublisher(bus.Publisher, topic))
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, ctrl, ui.Options{Markdown: s.Markdown})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// subscribe before the engine publishes its first event
	consume, err := feed.Subscribe(ctx, bus.Subscriber, topic, ui.ForwardFunc(p))
	if err != nil {
		return err
	}

	eg := errgroup.Group{}
	eg.Go(func() error {
		return ignoreCanceled(ctrl.Run(ctx))
	})
	eg.Go(consume)
	eg.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	return eg.Wait()
}
