package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/lookbook/internal/api"
	"github.com/timmy/lookbook/internal/app"
	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/logger"
)

func main() {
	// Initialize logger first; LOG_* variables control level, format and rotation.
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := context.Background()
	studioApp, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize services")
	}
	if n, err := studioApp.FailInterruptedRuns(ctx); err != nil {
		appLogger.WithError(err).Warn("Failed to mark interrupted runs")
	} else if n > 0 {
		appLogger.WithField(logger.FieldCount, n).Warn("Marked interrupted runs as failed")
	}

	router := api.SetupRouter(api.Dependencies{
		Studio:         studioApp.Studio,
		Hub:            studioApp.Hub,
		Providers:      studioApp.Providers.Names(),
		StorageEnabled: studioApp.Storage != nil,
	}, &cfg.Server, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":                cfg.Server.Port,
			"mode":                cfg.Server.Mode,
			"default_provider":    studioApp.Providers.Default(),
			logger.FieldComponent: "api",
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Long-polling requests may hold a connection for the whole poll budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Poller.Interval*time.Duration(cfg.Poller.MaxAttempts)+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	if err := studioApp.Close(); err != nil {
		appLogger.WithError(err).Error("Failed to close services")
	}

	appLogger.Info("Server exited")
}
