// Blueprint Store - payments and gated downloads for automation blueprints
package main

import (
	"context"
	"os"

	"github.com/mbd888/blueprintstore/internal/config"
	"github.com/mbd888/blueprintstore/internal/logging"
	"github.com/mbd888/blueprintstore/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting blueprint store",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"database", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"s3", cfg.S3Enabled(),
		"kafka", len(cfg.KafkaBrokers) > 0,
		"stripe_prices", len(cfg.StripePriceIDs),
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
