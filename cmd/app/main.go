// Package main provides the entry point for the application with CLI commands.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
	"github.com/urfave/cli/v3"
)

// Build-time version information (injected via ldflags during build).
var version = "dev"

func main() {
	// Commands handle SIGINT/SIGTERM themselves and return, so the purge below still runs.
	defer memguard.Purge()

	cmd := &cli.Command{
		Name:     "app",
		Usage:    "Local vault for named secret strings",
		Version:  version,
		Commands: getCommands(version),
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		memguard.SafeExit(1)
	}
}
