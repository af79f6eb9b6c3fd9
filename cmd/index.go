package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/chantio/chantio/internal/app"
	"github.com/chantio/chantio/internal/config"
	"github.com/chantio/chantio/internal/log"
)

// runIndex performs a one-shot full index and exits.
func runIndex(cfg *config.Config, logger log.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, *cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	res, err := a.Indexer.IndexAll(ctx)
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}

	fmt.Printf("Indexed %d records (%d failed) in %s\n", res.Indexed, res.Failed, res.Duration.Round(time.Millisecond))
	if res.Failed > 0 {
		return fmt.Errorf("%d records failed to index, see the log", res.Failed)
	}
	return nil
}
