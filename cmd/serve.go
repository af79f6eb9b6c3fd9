package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chantio/chantio/internal/api"
	"github.com/chantio/chantio/internal/app"
	"github.com/chantio/chantio/internal/config"
	"github.com/chantio/chantio/internal/log"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe starts the engine: scheduled indexing plus the admin HTTP server.
func runServe(cfg *config.Config, logger log.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting chantio", "version", AppVersion, "addr", cfg.Addr)

	a, err := app.Setup(ctx, *cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if err := a.Scheduler.StartDefaults(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	srv, err := api.NewServer(api.ServerConfig{
		Logger:           logger,
		Assistant:        a.Assistant,
		Scheduler:        a.Scheduler,
		History:          a.History,
		Health:           a.Provider,
		Store:            a.Store,
		Cache:            a.Cache,
		AdminToken:       cfg.AdminToken,
		AnswerTimeout:    cfg.AnswerTimeout,
		FullReindexAt:    cfg.FullReindexAt,
		IncrementalEvery: cfg.IncrementalEvery,
		RateBurst:        cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating admin server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping admin server: %w", err)
	}
	return nil
}
