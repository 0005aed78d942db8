package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/safestring/cmd/app/commands"
	"github.com/allisson/safestring/internal/app"
	"github.com/allisson/safestring/internal/config"
)

func nameFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "name",
		Aliases:  []string{"n"},
		Required: true,
		Usage:    "Entry name",
	}
}

func getVaultCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "save",
			Usage: "Encrypt and store a value under a name, replacing any previous value",
			Flags: []cli.Flag{
				nameFlag(),
				&cli.StringFlag{
					Name:    "value",
					Aliases: []string{"v"},
					Usage:   "Value to store (omit to read it from stdin)",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				vault, err := container.VaultUseCase()
				if err != nil {
					return err
				}

				return commands.RunSave(
					ctx,
					vault,
					container.Logger(),
					commands.DefaultIO(),
					cmd.String("name"),
					cmd.String("value"),
					!cmd.IsSet("value"),
				)
			},
		},
		{
			Name:  "get",
			Usage: "Decrypt and print the value stored under a name",
			Flags: []cli.Flag{nameFlag(), formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				vault, err := container.VaultUseCase()
				if err != nil {
					return err
				}

				return commands.RunGet(
					ctx,
					vault,
					commands.DefaultIO().Writer,
					cmd.String("name"),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "list",
			Usage: "List stored entry names",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				vault, err := container.VaultUseCase()
				if err != nil {
					return err
				}

				return commands.RunList(ctx, vault, commands.DefaultIO().Writer, cmd.String("format"))
			},
		},
		{
			Name:  "delete",
			Usage: "Delete an entry and its key",
			Flags: []cli.Flag{nameFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				vault, err := container.VaultUseCase()
				if err != nil {
					return err
				}

				return commands.RunDelete(
					ctx,
					vault,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("name"),
				)
			},
		},
	}
}
