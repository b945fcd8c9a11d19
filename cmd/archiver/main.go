// Command archiver runs a single stale-conversation sweep and exits.
// It is meant for cron jobs and one-off maintenance when the server's scheduler is disabled.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/di"
	"school-portal/backend/pkg/logger"
	"school-portal/backend/pkg/secrets"
)

func main() {
	cfg := config.New()

	days := flag.Int("days", cfg.Archival.ThresholdDays, "archive conversations idle for longer than this many days")
	flag.Parse()

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.Format != "text",
		Output: os.Stderr,
	}).With("command", "archiver")
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Archival.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Archival.Timeout)
		defer cancel()
	}

	vault, err := secrets.NewVaultManager(secrets.VaultConfigFrom(cfg), log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	secrets.Resolve(ctx, vault, cfg)

	cfg.Archival.Enabled = false
	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close(context.Background())

	n, err := container.Conversation.ArchiveStale(ctx, *days)
	if err != nil {
		log.LogError(err, "Archive sweep failed", "archived", n, "threshold_days", *days)
		container.Close(context.Background())
		os.Exit(1)
	}
	log.Info("Archive sweep finished", "archived", n, "threshold_days", *days)
}
