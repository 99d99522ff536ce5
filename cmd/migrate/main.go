package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"sproutxp/internal/config"
	"sproutxp/internal/logger"
	"sproutxp/internal/repository"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run cmd/migrate/main.go [command] [args]")
		fmt.Println("Commands: up, up-by-one, up-to VERSION, down, down-to VERSION, redo, reset, status, version")
		os.Exit(1)
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	zl, err := logger.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()
	logger.Install(zl)

	command := args[0]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	slog.Info("starting migration", "command", command)

	if err := repository.RunMigrations(ctx, cfg.DSN(), command, args[1:]...); err != nil {
		slog.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}

	slog.Info("migration finished successfully", "command", command)
}
