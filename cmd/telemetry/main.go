package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/rocket-telemetry/cmd/telemetry/app"
)

func main() {
	var logLevel slog.LevelVar

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCommand(&logLevel).ExecuteContext(ctx); err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
