package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/safestring/cmd/app/commands"
	"github.com/allisson/safestring/internal/app"
	"github.com/allisson/safestring/internal/config"
	cryptoService "github.com/allisson/safestring/internal/crypto/service"
)

func kmsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "kms-provider",
			Value: "",
			Usage: "KMS provider (localsecrets, gcpkms, awskms, azurekeyvault, hashivault); omit for a plaintext key",
		},
		&cli.StringFlag{
			Name:  "kms-key-uri",
			Value: "",
			Usage: "KMS key URI (e.g., base64key://, gcpkms://projects/.../cryptoKeys/...)",
		},
	}
}

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "create-master-key",
			Usage: "Generate a new master key for wrapping entry keys",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:    "id",
					Aliases: []string{"i"},
					Value:   "",
					Usage:   "Master key ID (e.g., prod-master-key-2026)",
				},
			}, kmsFlags()...),
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunCreateMasterKey(
					ctx,
					cryptoService.NewKMSService(),
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("id"),
					cmd.String("kms-provider"),
					cmd.String("kms-key-uri"),
				)
			},
		},
		{
			Name:  "rotate-master-key",
			Usage: "Add a new active master key to the existing MASTER_KEYS",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:    "id",
					Aliases: []string{"i"},
					Value:   "",
					Usage:   "New master key ID (e.g., prod-master-key-2027)",
				},
			}, kmsFlags()...),
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				kmsProvider, kmsKeyURI := cmd.String("kms-provider"), cmd.String("kms-key-uri")
				if kmsProvider == "" && kmsKeyURI == "" {
					kmsProvider, kmsKeyURI = cfg.KMSProvider, cfg.KMSKeyURI
				}

				return commands.RunRotateMasterKey(
					ctx,
					cryptoService.NewKMSService(),
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("id"),
					kmsProvider,
					kmsKeyURI,
					cfg.MasterKeys,
					cfg.ActiveMasterKeyID,
				)
			},
		},
		{
			Name:  "hash-unlock-token",
			Usage: "Hash an unlock token for UNLOCK_TOKEN_HASH, generating one when none is given",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "token",
					Aliases: []string{"t"},
					Value:   "",
					Usage:   "Existing unlock token to hash",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				return commands.RunHashUnlockToken(
					container.UnlockTokenService(),
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("token"),
				)
			},
		},
	}
}
