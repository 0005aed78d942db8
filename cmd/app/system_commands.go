package main

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/allisson/safestring/cmd/app/commands"
	"github.com/allisson/safestring/internal/app"
	"github.com/allisson/safestring/internal/config"
)

func getSystemCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "server",
			Usage: "Start the HTTP server",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunServer(ctx, version)
			},
		},
		{
			Name:  "migrate",
			Usage: "Run database migrations (sql storage backend only)",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				if cfg.StorageBackend != config.StorageBackendSQL {
					container.Logger().Info("nothing to migrate", slog.String("storage_backend", cfg.StorageBackend))
					return nil
				}

				db, err := container.DB()
				if err != nil {
					return err
				}

				return commands.RunMigrations(container.Logger(), db, cfg.DBDriver)
			},
		},
		{
			Name:  "reconcile",
			Usage: "Remove entry keys left behind by incomplete deletes",
			Flags: []cli.Flag{formatFlag()},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				reconciler, err := container.Reconciler()
				if err != nil {
					return err
				}

				return commands.RunReconcile(
					ctx,
					reconciler,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
	}
}
