package main

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"

	"github.com/go-go-golems/roomchat/pkg/api"
	"github.com/go-go-golems/roomchat/pkg/chat"
	"github.com/go-go-golems/roomchat/pkg/session"
	"github.com/go-go-golems/roomchat/pkg/view"
)

type RoomsCommand struct {
	*cmds.CommandDescription
	app *app
}

var _ cmds.GlazeCommand = (*RoomsCommand)(nil)

func NewRoomsCommand(a *app) (*RoomsCommand, error) {
	glazedLayer, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsLayer, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	return &RoomsCommand{
		CommandDescription: cmds.NewCommandDescription(
			"rooms",
			cmds.WithShort("List the rooms of the configured user"),
			cmds.WithLong("List the rooms of --user-id with their participants and last message."),
			cmds.WithSections(glazedLayer, commandSettingsLayer),
		),
		app: a,
	}, nil
}

func (c *RoomsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	_ *values.Values,
	gp middlewares.Processor,
) error {
	s := c.app.settings
	if s.Identity() == 0 {
		return session.ErrMissingIdentity
	}
	client, err := api.NewClient(s.Server)
	if err != nil {
		return err
	}
	rooms, err := client.ListRooms(ctx, s.Identity())
	if err != nil {
		return err
	}
	for _, row := range roomRows(rooms) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// roomRows renders one row per room, in list order.
func roomRows(rooms []chat.Room) []types.Row {
	entries := view.RoomEntries(rooms, chat.NoRoom)
	rows := make([]types.Row, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, types.NewRow(
			types.MRP("id", int64(e.ID)),
			types.MRP("name", e.Name),
			types.MRP("participants", rooms[i].ParticipantSummary()),
			types.MRP("preview", e.Preview),
		))
	}
	return rows
}
