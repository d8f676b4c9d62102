// Command foundry elaborates layered recipe trees into deterministic,
// content-addressed package graphs.
package main

import (
	"log/slog"
	"os"

	"github.com/forgehq/foundry/internal"
	"github.com/forgehq/foundry/internal/cli"
	"github.com/forgehq/foundry/internal/logging"
)

func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())
	slog.Debug("foundry starting",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// logger creates a buffered logger seeded from build-time linker
// flags, reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	handler := logging.NewHandler()
	handler.SetLevel(logLevel())
	return slog.New(handler.WithGroup(internal.Name))
}

// logLevel returns the log level derived from build-time linker flags.
func logLevel() slog.Level {
	if internal.IsDebug() {
		return slog.LevelDebug
	}
	if internal.IsQuiet() {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// cwd returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
