package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sproutxp/internal/config"
	"sproutxp/internal/infrastructure"
	"sproutxp/internal/logger"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	logger.Install(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.Info("sproutxp is running", "api", cfg.ApiEnabled, "grpc", cfg.GRPCAddr())
	if err := app.Run(ctx); err != nil {
		slog.Error("application stopped with error", "error", err)
		cleanup()
		os.Exit(1)
	}
	slog.Info("sproutxp stopped")
}
