package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"wheelhouse/internal/app"
	"wheelhouse/internal/config"
	"wheelhouse/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Errorf("startup failed: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Errorf("run: %v", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) error {
	logger.SetLevel(cfg.App.LogLevel)
	if cfg.App.LogPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.App.LogPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.App.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}
