package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/roomchat/pkg/config"
)

// app carries the connection settings every subcommand needs once flags are parsed.
type app struct {
	settings config.Settings
}

func newRootCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   config.AppName,
		Short: "roomchat is a terminal client for room-based chat servers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// the TUI owns the terminal, so its logs go to a file
			if cmd.Name() == "chat" && viper.GetString("log-file") == "" {
				viper.Set("log-file", config.DefaultTUILogFile())
			}
			// reinitialize the logger because we can now parse --log-level and co
			if err := clay.InitLogger(); err != nil {
				return err
			}
			s, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			a.settings = s
			log.Debug().
				Str("server", s.Server).
				Str("transport", s.Transport).
				Int64("user", s.UserID).
				Msg("settings loaded")
			return nil
		},
	}
}

// buildCommands turns the glazed commands into cobra subcommands of root.
func buildCommands(a *app, root *cobra.Command) error {
	chatCmd, err := NewChatCommand(a)
	if err != nil {
		return err
	}
	tailCmd, err := NewTailCommand(a)
	if err != nil {
		return err
	}
	roomsCmd, err := NewRoomsCommand(a)
	if err != nil {
		return err
	}
	for _, c := range []cmds.Command{chatCmd, tailCmd, roomsCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
		if err != nil {
			return err
		}
		root.AddCommand(cobraCmd)
	}
	return nil
}

func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(config.EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

func main() {
	a := &app{}
	rootCmd := newRootCommand(a)
	config.AddFlags(rootCmd)

	err := clay.InitViper(config.AppName, rootCmd)
	cobra.CheckErr(err)
	err = clay.InitLogger()
	cobra.CheckErr(err)

	err = buildCommands(a, rootCmd)
	cobra.CheckErr(err)

	cobra.CheckErr(rootCmd.Execute())
}
