package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"school-portal/backend/pkg/config"
	"school-portal/backend/pkg/di"
	"school-portal/backend/pkg/logger"
	"school-portal/backend/pkg/router"
	"school-portal/backend/pkg/secrets"
)

func main() {
	cfg := config.New()

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.Format != "text",
		Output: os.Stderr,
	})
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting application", "env", cfg.Server.Env, "driver", cfg.Database.Driver)

	vault, err := secrets.NewVaultManager(secrets.VaultConfigFrom(cfg), log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	vault.StartCacheCleanup(ctx)
	secrets.Resolve(ctx, vault, cfg)

	container, err := di.New(ctx, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	r := router.New(container)
	r.SetupRoutes(ctx)
	r.RateLimiter.StartCleanup(ctx)
	container.Health.Start(ctx)
	if container.Scheduler != nil {
		container.Scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if container.Scheduler != nil {
		container.Scheduler.Wait()
	}
	if err := container.Close(shutdownCtx); err != nil {
		log.LogError(err, "Failed to release resources")
	}

	log.Info("Server exited gracefully")
}
