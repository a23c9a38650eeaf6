package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-inbox/client/pkg/config"
	"booking-inbox/client/pkg/di"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/pkg/router"
	"booking-inbox/client/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting inbox gateway", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	diConfig := di.DefaultConfig()
	diConfig.LoggerConfig = logConfig

	container, err := di.New(ctx, cfg, diConfig)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}

	shutdownTelemetry, err := observability.Setup(observability.Options{
		ServiceName: "inboxd",
		Tracing:     cfg.Observability.Tracing,
		Registerer:  container.Registry,
	})
	if err != nil {
		log.LogError(err, "Failed to set up telemetry")
		os.Exit(1)
	}

	if err := container.Bootstrap(ctx); err != nil {
		// the gateway still accepts an interactive login
		log.LogWarn(err, "Bootstrap session unavailable")
	}
	container.Health.Start(ctx)

	r, err := router.New(ctx, container)
	if err != nil {
		log.LogError(err, "Failed to initialize router")
		os.Exit(1)
	}
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if err := container.Close(); err != nil {
		log.LogWarn(err, "Failed to release resources")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.LogWarn(err, "Failed to flush telemetry")
	}

	log.Info("Server exited gracefully")
}
