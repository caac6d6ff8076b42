package main

import (
	"context"
	"os"

	"paperfeed/internal/app"
	"paperfeed/internal/config"
	"paperfeed/internal/logging"
)

const configPathEnv = "PAPERFEED_CONFIG"

func main() {
	ctx := context.Background()

	path := os.Getenv(configPathEnv)
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		logging.New("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
