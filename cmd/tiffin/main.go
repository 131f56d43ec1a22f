package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/karupatti/tiffin/internal/cli"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("TIFFIN_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
